package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/retry"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/sirupsen/logrus"
)

// LowPerformanceRatio is the default progress/goal ratio below which a target
// qualifies for a low-performance alert.
const LowPerformanceRatio = 0.25

// GoalService encapsulates goal definition, bulk resets and the scheduled
// summary/reminder/alert scans.
type GoalService struct {
	repo                GoalStore
	resourceRepo        LedgerStore
	notificationService *NotificationService
	executor            *retry.Executor
	managementChannelID string
}

// NewGoalService creates a new instance of GoalService.
func NewGoalService(repo GoalStore, resourceRepo LedgerStore, notificationService *NotificationService, executor *retry.Executor, managementChannelID string) *GoalService {
	return &GoalService{
		repo:                repo,
		resourceRepo:        resourceRepo,
		notificationService: notificationService,
		executor:            executor,
		managementChannelID: managementChannelID,
	}
}

// DefineGoal validates thresholds and destructively replaces any existing
// record for (resource, target), forcing progress back to zero. Redefining is
// never a merge: prior progress is discarded unconditionally.
//
// Rules: dailyGoal >= 1; weeklyGoal >= dailyGoal for every target; and for
// user targets weeklyGoal must additionally be a whole multiple of dailyGoal.
func (s *GoalService) DefineGoal(ctx context.Context, resourceName string, targetType models.TargetType, targetID, targetName string, dailyGoal, weeklyGoal int64) (*models.GoalRecord, error) {
	if models.NormalizeResourceName(resourceName) == "" {
		return nil, apperrors.NewValidation("resource", "resource name is required")
	}
	if targetType != models.TargetUser && targetType != models.TargetRole {
		return nil, apperrors.NewValidation("target_type", "target type must be user or role, got %q", targetType)
	}
	if targetID == "" {
		return nil, apperrors.NewValidation("target_id", "target id is required")
	}
	if dailyGoal < 1 {
		return nil, apperrors.NewValidation("daily_goal", "daily goal must be >= 1, got %d", dailyGoal)
	}
	if weeklyGoal < dailyGoal {
		return nil, apperrors.NewValidation("weekly_goal", "weekly goal %d must be >= daily goal %d", weeklyGoal, dailyGoal)
	}
	if targetType == models.TargetUser && weeklyGoal%dailyGoal != 0 {
		return nil, apperrors.NewValidation("weekly_goal", "weekly goal %d must be a multiple of daily goal %d for user targets", weeklyGoal, dailyGoal)
	}

	record := &models.GoalRecord{
		ResourceName: resourceName,
		TargetType:   targetType,
		TargetID:     targetID,
		TargetName:   targetName,
		DailyGoal:    dailyGoal,
		WeeklyGoal:   weeklyGoal,
	}

	err := s.executor.Do(ctx, "goals.replace", func(ctx context.Context) error {
		return s.repo.ReplaceGoal(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListGoals lists goal records filtered by resource and/or target.
func (s *GoalService) ListGoals(ctx context.Context, resourceName string, targetType models.TargetType, targetID string) ([]models.GoalRecord, error) {
	return s.repo.ListGoals(ctx, resourceName, targetType, targetID)
}

// Reset runs one of the bulk rollback scopes and returns the modified count.
// Idempotent: already-zeroed sets report zero. Goal definitions survive; only
// progress and quantity fields are zeroed.
func (s *GoalService) Reset(ctx context.Context, scope models.ResetScope, resourceName string) (int64, error) {
	switch scope {
	case models.ResetResourceGoals:
		if resourceName == "" {
			return 0, apperrors.NewValidation("resource", "resource name is required for scope %q", scope)
		}
		return s.repo.ResetProgress(ctx, resourceName)
	case models.ResetAllGoals:
		return s.repo.ResetProgress(ctx, "")
	case models.ResetResourceQuantity:
		if resourceName == "" {
			return 0, apperrors.NewValidation("resource", "resource name is required for scope %q", scope)
		}
		return s.resourceRepo.ResetQuantity(ctx, resourceName)
	default:
		return 0, apperrors.NewValidation("scope", "unknown reset scope %q", scope)
	}
}

// RankedTarget is one row of a summary's top-N list.
type RankedTarget struct {
	TargetType models.TargetType `json:"target_type"`
	TargetID   string            `json:"target_id"`
	TargetName string            `json:"target_name"`
	Resource   string            `json:"resource"`
	Progress   int64             `json:"progress"`
	Goal       int64             `json:"goal"`
	Ratio      float64           `json:"ratio"`
}

// Summary is the aggregate a scheduler or manager asks for.
type Summary struct {
	Period     models.Period  `json:"period"`
	Met        int            `json:"met"`
	TotalGoals int            `json:"total_goals"`
	Top        []RankedTarget `json:"top"`
}

// Summarize counts targets meeting their goal for the period against all
// targets holding a nonzero goal, and ranks the top N by progress/goal
// descending. Equal ratios order by earliest lastUpdated, then by target id,
// so the ranking is stable and total.
func (s *GoalService) Summarize(ctx context.Context, resourceName string, period models.Period, topN int) (*Summary, error) {
	if period != models.PeriodDaily && period != models.PeriodWeekly {
		return nil, apperrors.NewValidation("period", "period must be daily or weekly, got %q", period)
	}
	if topN <= 0 {
		topN = 5
	}

	records, err := s.repo.ListGoals(ctx, resourceName, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list goal records: %v", err)
	}

	summary := &Summary{Period: period}
	type ranked struct {
		RankedTarget
		lastUpdated int64
	}
	var all []ranked

	for _, record := range records {
		goal := record.Goal(period)
		if goal <= 0 {
			continue
		}
		progress := record.Progress(period)
		summary.TotalGoals++
		if progress >= goal {
			summary.Met++
		}
		all = append(all, ranked{
			RankedTarget: RankedTarget{
				TargetType: record.TargetType,
				TargetID:   record.TargetID,
				TargetName: record.TargetName,
				Resource:   record.ResourceName,
				Progress:   progress,
				Goal:       goal,
				Ratio:      float64(progress) / float64(goal),
			},
			lastUpdated: record.LastUpdated.UnixNano(),
		})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Ratio != all[j].Ratio {
			return all[i].Ratio > all[j].Ratio
		}
		if all[i].lastUpdated != all[j].lastUpdated {
			return all[i].lastUpdated < all[j].lastUpdated
		}
		return all[i].TargetID < all[j].TargetID
	})

	for i := 0; i < len(all) && i < topN; i++ {
		summary.Top = append(summary.Top, all[i].RankedTarget)
	}
	return summary, nil
}

// SendPeriodicSummary builds the period summary and dispatches it to the
// management channel. Invoked by cron or a manual trigger.
func (s *GoalService) SendPeriodicSummary(ctx context.Context, period models.Period) error {
	if s.managementChannelID == "" {
		logrus.Warn("No management channel configured, skipping periodic summary")
		return nil
	}

	summary, err := s.Summarize(ctx, "", period, 5)
	if err != nil {
		return err
	}

	category := models.CategoryDailySummary
	if period == models.PeriodWeekly {
		category = models.CategoryWeeklyReport
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Resumo %s de metas: %d de %d metas atingidas.", periodLabel(period), summary.Met, summary.TotalGoals)
	for i, row := range summary.Top {
		fmt.Fprintf(&b, "\n%d. %s — %s: %d/%d (%.0f%%)", i+1, row.TargetName, row.Resource, row.Progress, row.Goal, row.Ratio*100)
	}

	s.notificationService.Dispatch(ctx, s.managementChannelID, category, b.String(), nil, nil, false)
	logger.Log.WithFields(map[string]interface{}{
		"period": period,
		"met":    summary.Met,
		"total":  summary.TotalGoals,
	}).Info("Periodic summary dispatched")
	return nil
}

// unmetGoal pairs a qualifying record with its period numbers for grouping.
type unmetGoal struct {
	record   models.GoalRecord
	goal     int64
	progress int64
}

// SendUnmetReminders scans every goal record for the period and reminds each
// target that has not met a nonzero goal. Reminders are grouped per
// recipient: a target with several qualifying resources gets one message.
func (s *GoalService) SendUnmetReminders(ctx context.Context, period models.Period) error {
	grouped, err := s.collectQualifying(ctx, period, func(progress, goal int64) bool {
		return progress < goal
	})
	if err != nil {
		return err
	}

	for targetID, goals := range grouped {
		var b strings.Builder
		fmt.Fprintf(&b, "Lembrete: sua meta %s ainda não foi atingida.", periodLabel(period))
		for _, g := range goals {
			fmt.Fprintf(&b, "\n- %s: %d/%d", g.record.ResourceName, g.progress, g.goal)
		}
		first := goals[0]
		s.notificationService.Dispatch(ctx, targetID, models.CategoryUnmetReminder, b.String(), nil, &models.RelatedData{
			ResourceName: first.record.ResourceName,
			Period:       period,
			Goal:         first.goal,
			Progress:     first.progress,
		}, first.record.TargetType == models.TargetUser)
	}

	logger.Log.WithFields(map[string]interface{}{
		"period":     period,
		"recipients": len(grouped),
	}).Info("Unmet goal reminders dispatched")
	return nil
}

// SendUnderperformanceAlerts alerts the management channel about targets
// whose progress sits below thresholdRatio of a nonzero goal, one grouped
// message per target.
func (s *GoalService) SendUnderperformanceAlerts(ctx context.Context, period models.Period, thresholdRatio float64) error {
	if s.managementChannelID == "" {
		logrus.Warn("No management channel configured, skipping underperformance alerts")
		return nil
	}
	if thresholdRatio <= 0 || thresholdRatio >= 1 {
		thresholdRatio = LowPerformanceRatio
	}

	grouped, err := s.collectQualifying(ctx, period, func(progress, goal int64) bool {
		return float64(progress) < float64(goal)*thresholdRatio
	})
	if err != nil {
		return err
	}

	for _, goals := range grouped {
		first := goals[0]
		var b strings.Builder
		fmt.Fprintf(&b, "Alerta de baixo desempenho (%s): %s", periodLabel(period), first.record.TargetName)
		for _, g := range goals {
			fmt.Fprintf(&b, "\n- %s: %d/%d", g.record.ResourceName, g.progress, g.goal)
		}
		s.notificationService.Dispatch(ctx, s.managementChannelID, models.CategoryLowPerformance, b.String(), nil, &models.RelatedData{
			ResourceName: first.record.ResourceName,
			Period:       period,
			Goal:         first.goal,
			Progress:     first.progress,
		}, false)
	}

	logger.Log.WithFields(map[string]interface{}{
		"period":  period,
		"targets": len(grouped),
	}).Info("Underperformance alerts dispatched")
	return nil
}

// collectQualifying scans all goal records once and groups qualifying ones by
// target id. Iteration is a plain sequential loop; a failed lookup fails the
// whole scan since nothing was sent yet.
func (s *GoalService) collectQualifying(ctx context.Context, period models.Period, qualifies func(progress, goal int64) bool) (map[string][]unmetGoal, error) {
	records, err := s.repo.ListGoals(ctx, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list goal records: %v", err)
	}

	grouped := make(map[string][]unmetGoal)
	for _, record := range records {
		goal := record.Goal(period)
		if goal <= 0 {
			continue
		}
		progress := record.Progress(period)
		if !qualifies(progress, goal) {
			continue
		}
		grouped[record.TargetID] = append(grouped[record.TargetID], unmetGoal{
			record:   record,
			goal:     goal,
			progress: progress,
		})
	}
	return grouped, nil
}
