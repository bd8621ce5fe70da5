package services

import (
	"context"
	"fmt"

	"github.com/estoque-labs/goal-engine/internal/dispatch"
	"github.com/estoque-labs/goal-engine/internal/metrics"
	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/retry"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/sirupsen/logrus"
)

// LedgerStore is the resource persistence surface the service needs.
type LedgerStore interface {
	ApplyDelta(ctx context.Context, name string, delta int64, entry models.HistoryEntry) (*models.Resource, error)
	CreateResource(ctx context.Context, resource *models.Resource) (*models.Resource, error)
	GetResource(ctx context.Context, name string) (*models.Resource, error)
	ListResources(ctx context.Context, category string, activeOnly bool, historyLimit int) ([]models.Resource, error)
	SetActive(ctx context.Context, name string, active bool) error
	ResetQuantity(ctx context.Context, name string) (int64, error)
}

// GoalStore is the goal persistence surface shared by the ledger and goal
// services.
type GoalStore interface {
	RecordProgress(ctx context.Context, resourceName string, targetType models.TargetType, targetID string, delta int64) (*models.GoalRecord, error)
	ReplaceGoal(ctx context.Context, record *models.GoalRecord) error
	GetGoal(ctx context.Context, resourceName string, targetType models.TargetType, targetID string) (*models.GoalRecord, error)
	ListGoals(ctx context.Context, resourceName string, targetType models.TargetType, targetID string) ([]models.GoalRecord, error)
	ResetProgress(ctx context.Context, resourceName string) (int64, error)
}

// Dispatcher is the fire-and-forget queue boundary notifications cross.
type Dispatcher interface {
	Enqueue(task dispatch.Task) bool
}

// Actor is the identity performing a ledger operation, supplied by the
// command layer.
type Actor struct {
	ID   string
	Name string
}

// RoleRef is one of the actor's role memberships, supplied by the command
// layer together with the operation.
type RoleRef struct {
	ID   string
	Name string
}

// LedgerService owns the applyDelta flow: validate, mutate the ledger under
// the retry budget, fan progress out to matching goal records, detect
// crossings and hand notifications to the dispatcher.
type LedgerService struct {
	repo                LedgerStore
	goalRepo            GoalStore
	prefRepo            PreferenceStore
	notificationService *NotificationService
	executor            *retry.Executor
	worker              Dispatcher

	// managementChannelID receives overperformance alerts.
	managementChannelID string
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(repo LedgerStore, goalRepo GoalStore, prefRepo PreferenceStore, notificationService *NotificationService, executor *retry.Executor, worker Dispatcher, managementChannelID string) *LedgerService {
	return &LedgerService{
		repo:                repo,
		goalRepo:            goalRepo,
		prefRepo:            prefRepo,
		notificationService: notificationService,
		executor:            executor,
		worker:              worker,
		managementChannelID: managementChannelID,
	}
}

// ApplyDelta applies one addition or withdrawal to a resource.
//
// The primary ledger mutation is the only step whose failure aborts the
// operation: it runs under the retry budget and surfaces OperationFailed when
// the budget is spent. Everything downstream (goal progress fan-out, crossing
// detection, notification dispatch) is best-effort, isolated and logged.
//
// Withdrawal sufficiency is the caller's job via a prior read. That check is
// not atomic with the decrement: two concurrent withdrawals can each observe
// a sufficient balance and together overdraw. Known, accepted race.
func (s *LedgerService) ApplyDelta(ctx context.Context, resourceName string, quantity int64, actor Actor, action models.Action, roles []RoleRef) (*models.Resource, error) {
	if quantity <= 0 {
		return nil, apperrors.NewValidation("quantity", "quantity must be a positive integer, got %d", quantity)
	}
	if action != models.ActionAddition && action != models.ActionWithdrawal {
		return nil, apperrors.NewValidation("action", "unknown action %q", action)
	}

	delta := quantity
	if action == models.ActionWithdrawal {
		delta = -quantity
	}

	entry := models.HistoryEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    action,
		Quantity:  quantity,
	}

	var resource *models.Resource
	err := s.executor.Do(ctx, "ledger.apply_delta", func(ctx context.Context) error {
		var applyErr error
		resource, applyErr = s.repo.ApplyDelta(ctx, resourceName, delta, withTimestamp(entry))
		return applyErr
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"resource": resourceName,
			"action":   action,
		}).Error("Ledger mutation failed")
		return nil, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"resource": resource.Name,
		"action":   action,
		"quantity": quantity,
		"actor_id": actor.ID,
	}).Info("Ledger delta applied")

	// Withdrawals never touch progress counters.
	if action == models.ActionAddition {
		s.recordProgress(ctx, resource.Name, quantity, actor, roles)
	}
	return resource, nil
}

// recordProgress fans the addition out to the actor's goal record and to each
// of the actor's roles, sequentially, one atomic update per record. A failure
// on one record does not roll back the others; there is no cross-document
// transaction here.
func (s *LedgerService) recordProgress(ctx context.Context, resourceName string, delta int64, actor Actor, roles []RoleRef) {
	record, err := s.progressUpdate(ctx, resourceName, models.TargetUser, actor.ID, delta)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"resource": resourceName,
			"user_id":  actor.ID,
		}).Warn("User goal progress update failed")
	} else if record != nil {
		s.evaluateUserCrossings(ctx, record, delta, actor)
	}

	for _, role := range roles {
		record, err := s.progressUpdate(ctx, resourceName, models.TargetRole, role.ID, delta)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"resource": resourceName,
				"role_id":  role.ID,
			}).Warn("Role goal progress update failed")
			continue
		}
		if record != nil {
			s.evaluateRoleCrossings(record, delta)
		}
	}
}

func (s *LedgerService) progressUpdate(ctx context.Context, resourceName string, targetType models.TargetType, targetID string, delta int64) (*models.GoalRecord, error) {
	var record *models.GoalRecord
	err := s.executor.Do(ctx, "goals.record_progress", func(ctx context.Context) error {
		var opErr error
		record, opErr = s.goalRepo.RecordProgress(ctx, resourceName, targetType, targetID, delta)
		return opErr
	})
	return record, err
}

// evaluateUserCrossings turns the post-update counters into crossing events
// and enqueues the resulting notifications. The pre-image is derived from the
// known delta, never from a separate read.
func (s *LedgerService) evaluateUserCrossings(ctx context.Context, record *models.GoalRecord, delta int64, actor Actor) {
	proximity := models.DefaultProximityThreshold
	if pref, err := s.prefRepo.GetPreference(ctx, actor.ID); err == nil {
		proximity = pref.ProximityThreshold
	} else {
		logrus.WithError(err).WithField("user_id", actor.ID).Warn("Preference lookup failed, using default proximity threshold")
	}

	events := metrics.Evaluate(metrics.Input{
		DailyProgress:    record.DailyProgress,
		WeeklyProgress:   record.WeeklyProgress,
		Delta:            delta,
		DailyGoal:        record.DailyGoal,
		WeeklyGoal:       record.WeeklyGoal,
		ProximityPercent: proximity,
	})

	for _, event := range events {
		s.enqueueUserEvent(record, event, actor)
	}
}

// evaluateRoleCrossings handles role-scoped goals. Only goal-met events fire:
// the management channel gets an alert and every current member a
// congratulation; proximity and overperformance stay per-user to keep the
// channel quiet.
func (s *LedgerService) evaluateRoleCrossings(record *models.GoalRecord, delta int64) {
	events := metrics.Evaluate(metrics.Input{
		DailyProgress:    record.DailyProgress,
		WeeklyProgress:   record.WeeklyProgress,
		Delta:            delta,
		DailyGoal:        record.DailyGoal,
		WeeklyGoal:       record.WeeklyGoal,
		ProximityPercent: models.DefaultProximityThreshold,
	})

	for _, event := range events {
		if event.Kind != metrics.DailyGoalMet && event.Kind != metrics.WeeklyGoalMet {
			continue
		}
		event := event
		record := record
		s.worker.Enqueue(dispatch.Task{
			EventID: crossingEventID(record, event),
			Name:    string(event.Kind),
			Run: func(ctx context.Context) {
				if s.managementChannelID != "" {
					message := fmt.Sprintf("O cargo %s bateu a meta %s de %s (%d/%d)!",
						record.TargetName, periodLabel(event.Period), record.ResourceName, event.Progress, event.Goal)
					s.notificationService.Dispatch(ctx, s.managementChannelID, categoryForGoalMet(event.Period), message, nil, relatedFor(record, event), false)
				}
				s.notifyRoleMembers(ctx, record, event)
			},
		})
	}
}

// notifyRoleMembers congratulates each current member of the role
// individually. Membership is resolved at delivery time, not at crossing
// time; members who joined after the crossing still get the message.
func (s *LedgerService) notifyRoleMembers(ctx context.Context, record *models.GoalRecord, event metrics.Event) {
	message := fmt.Sprintf("Sua equipe %s atingiu a meta %s de %s (%d/%d)!",
		record.TargetName, periodLabel(event.Period), record.ResourceName, event.Progress, event.Goal)
	s.notificationService.DispatchToRoleMembers(ctx, record.TargetID, categoryForGoalMet(event.Period), message, relatedFor(record, event))
}

func (s *LedgerService) enqueueUserEvent(record *models.GoalRecord, event metrics.Event, actor Actor) {
	var task dispatch.Task
	switch event.Kind {
	case metrics.DailyGoalMet, metrics.WeeklyGoalMet:
		task = dispatch.Task{
			Name: string(event.Kind),
			Run: func(ctx context.Context) {
				message := fmt.Sprintf("Parabéns, %s! Você atingiu sua meta %s de %d para %s (progresso: %d).",
					actor.Name, periodLabel(event.Period), event.Goal, record.ResourceName, event.Progress)
				s.notificationService.Dispatch(ctx, actor.ID, categoryForGoalMet(event.Period), message, payloadFor(event), relatedFor(record, event), true)
			},
		}
	case metrics.DailyProximity, metrics.WeeklyProximity:
		task = dispatch.Task{
			Name: string(event.Kind),
			Run: func(ctx context.Context) {
				percent := event.Progress * 100 / event.Goal
				message := fmt.Sprintf("Quase lá, %s! Você atingiu %d%% da sua meta %s de %d para %s.",
					actor.Name, percent, periodLabel(event.Period), event.Goal, record.ResourceName)
				s.notificationService.Dispatch(ctx, actor.ID, models.CategoryProximity, message, payloadFor(event), relatedFor(record, event), true)
			},
		}
	case metrics.DailyOverperformance, metrics.WeeklyOverperformance:
		if s.managementChannelID == "" {
			return
		}
		task = dispatch.Task{
			Name: string(event.Kind),
			Run: func(ctx context.Context) {
				message := fmt.Sprintf("Desempenho excepcional! %s superou a meta %s de %d para %s, atingindo %d.",
					actor.Name, periodLabel(event.Period), event.Goal, record.ResourceName, event.Progress)
				s.notificationService.Dispatch(ctx, s.managementChannelID, models.CategoryHighPerformance, message, payloadFor(event), relatedFor(record, event), false)
			},
		}
	default:
		return
	}

	task.EventID = crossingEventID(record, event)
	s.worker.Enqueue(task)
}

// crossingEventID names a crossing deterministically, so a re-enqueue of the
// same evaluated update deduplicates at the queue boundary. The last-updated
// stamp keeps a legitimate re-fire after an explicit reset distinct.
func crossingEventID(record *models.GoalRecord, event metrics.Event) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		record.ResourceName, record.TargetType, record.TargetID, event.Kind, event.Threshold, record.LastUpdated.UnixNano())
}

// CreateResource explicitly registers a resource before any addition.
func (s *LedgerService) CreateResource(ctx context.Context, name, category, description string) (*models.Resource, error) {
	if models.NormalizeResourceName(name) == "" {
		return nil, apperrors.NewValidation("name", "resource name is required")
	}
	return s.repo.CreateResource(ctx, &models.Resource{
		Name:        name,
		Category:    category,
		Description: description,
	})
}

// GetResource fetches one resource with its full state.
func (s *LedgerService) GetResource(ctx context.Context, name string) (*models.Resource, error) {
	return s.repo.GetResource(ctx, name)
}

// ListResources lists resources, trimming each history to the recent tail.
func (s *LedgerService) ListResources(ctx context.Context, category string, activeOnly bool, historyLimit int) ([]models.Resource, error) {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return s.repo.ListResources(ctx, category, activeOnly, historyLimit)
}

// SetActive soft-deletes or restores a resource.
func (s *LedgerService) SetActive(ctx context.Context, name string, active bool) error {
	return s.repo.SetActive(ctx, name, active)
}

func withTimestamp(entry models.HistoryEntry) models.HistoryEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = timeNow()
	}
	return entry
}

func periodLabel(period models.Period) string {
	if period == models.PeriodWeekly {
		return "semanal"
	}
	return "diária"
}

func categoryForGoalMet(period models.Period) models.Category {
	if period == models.PeriodWeekly {
		return models.CategoryWeeklyGoalMet
	}
	return models.CategoryDailyGoalMet
}

func payloadFor(event metrics.Event) map[string]interface{} {
	return map[string]interface{}{
		"kind":      string(event.Kind),
		"period":    string(event.Period),
		"goal":      event.Goal,
		"progress":  event.Progress,
		"threshold": event.Threshold,
	}
}

func relatedFor(record *models.GoalRecord, event metrics.Event) *models.RelatedData {
	return &models.RelatedData{
		ResourceName: record.ResourceName,
		Period:       event.Period,
		Goal:         event.Goal,
		Progress:     event.Progress,
		Threshold:    event.Threshold,
	}
}
