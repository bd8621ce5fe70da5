package services

import (
	"context"
	"fmt"
	"math"

	"github.com/estoque-labs/goal-engine/internal/messaging"
	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationStore is the persistence surface the dispatcher and inbox need.
type NotificationStore interface {
	CreateNotification(ctx context.Context, record *models.NotificationRecord) error
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	ListUnread(ctx context.Context, recipientID string, skip, limit int64) ([]models.NotificationRecord, error)
	MarkRead(ctx context.Context, recipientID string, id primitive.ObjectID) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// PreferenceStore supplies per-user suppression flags and delivery targets.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (*models.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error
}

// NotificationService resolves targets, applies suppression preferences,
// sends through the messenger and keeps the per-recipient audit trail.
type NotificationService struct {
	repo      NotificationStore
	prefRepo  PreferenceStore
	messenger messaging.Messenger
}

// NewNotificationService creates a new instance of NotificationService.
func NewNotificationService(repo NotificationStore, prefRepo PreferenceStore, messenger messaging.Messenger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		prefRepo:  prefRepo,
		messenger: messenger,
	}
}

// Dispatch resolves targetID, checks suppression, sends, and persists the
// audit record for individual recipients. Every failure on this path is
// logged and swallowed: a missed ephemeral notification never fails the
// command that produced it, and sends are never retried.
func (s *NotificationService) Dispatch(ctx context.Context, targetID string, category models.Category, message string, payload map[string]interface{}, related *models.RelatedData, persist bool) {
	dest, pref := s.resolve(ctx, targetID, category)
	if dest == nil {
		return
	}

	if err := s.messenger.Send(ctx, dest, message, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"target_id": targetID,
			"category":  category,
		}).Warn("Notification send failed")
		return
	}

	// Broadcast destinations have no single reader, so nothing is persisted
	// for them regardless of the persist flag.
	if !persist || pref == nil {
		return
	}
	record := &models.NotificationRecord{
		RecipientID: targetID,
		Category:    category,
		Message:     message,
		Payload:     payload,
		Related:     related,
	}
	if err := s.repo.CreateNotification(ctx, record); err != nil {
		logrus.WithError(err).WithField("target_id", targetID).Warn("Failed to persist notification record")
	}
}

// DispatchToRoleMembers fans one message out to every current member of a
// role, one Dispatch per member so each member's own preferences apply. A
// membership lookup failure drops the whole fan-out, logged and swallowed
// like any other delivery failure.
func (s *NotificationService) DispatchToRoleMembers(ctx context.Context, roleID string, category models.Category, message string, related *models.RelatedData) {
	members, err := s.messenger.FetchRoleMembers(ctx, roleID)
	if err != nil {
		logrus.WithError(err).WithField("role_id", roleID).Warn("Failed to fetch role members")
		return
	}
	for _, member := range members {
		s.Dispatch(ctx, member.ID, category, message, nil, related, true)
	}
}

// resolve maps targetID to a delivery destination. Individuals are tried
// first; anything that is not an individual is treated as a broadcast
// channel. The returned preference is non-nil only for individuals, and a nil
// destination means the notification was suppressed or unresolvable.
func (s *NotificationService) resolve(ctx context.Context, targetID string, category models.Category) (*messaging.Destination, *models.NotificationPreference) {
	individual, err := s.messenger.ResolveIndividual(ctx, targetID)
	if err != nil {
		channel, chanErr := s.messenger.ResolveBroadcastChannel(ctx, targetID)
		if chanErr != nil {
			logrus.WithFields(logrus.Fields{
				"target_id":     targetID,
				"user_error":    err,
				"channel_error": chanErr,
			}).Warn("Failed to resolve notification target")
			return nil, nil
		}
		return channel, nil
	}

	pref, err := s.prefRepo.GetPreference(ctx, targetID)
	if err != nil {
		logrus.WithError(err).WithField("target_id", targetID).Warn("Failed to load notification preference, using defaults")
		pref = models.DefaultPreference(targetID)
	}

	// A disabled category drops the notification with no error and no side
	// effect at all.
	if !pref.Allows(category) {
		logger.Log.WithFields(map[string]interface{}{
			"target_id": targetID,
			"category":  category,
		}).Debug("Notification suppressed by user preference")
		return nil, nil
	}

	// Preferred channel delivery, falling back to direct when the channel
	// cannot be resolved.
	if pref.DeliveryTarget != "" && pref.DeliveryTarget != models.DeliveryDirect {
		channel, chanErr := s.messenger.ResolveBroadcastChannel(ctx, pref.DeliveryTarget)
		if chanErr == nil {
			// Delivery goes to the channel; the non-nil preference keeps the
			// audit record on the individual.
			return channel, pref
		}
		logrus.WithError(chanErr).WithFields(logrus.Fields{
			"target_id": targetID,
			"channel":   pref.DeliveryTarget,
		}).Warn("Preferred delivery channel unresolvable, falling back to direct")
	}
	return individual, pref
}

// InboxPage is one page of a user's unread notifications.
type InboxPage struct {
	Records     []models.NotificationRecord `json:"records"`
	TotalUnread int64                       `json:"total_unread"`
	TotalPages  int64                       `json:"total_pages"`
	Page        int64                       `json:"page"`
}

// ListUnread returns the requested page of unread records, newest first.
// Page 1 of an empty inbox is a valid empty page; a page beyond the total is
// a validation error.
func (s *NotificationService) ListUnread(ctx context.Context, userID string, page, pageSize int64) (*InboxPage, error) {
	if page < 1 {
		return nil, apperrors.NewValidation("page", "page must be >= 1, got %d", page)
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, apperrors.NewValidation("page_size", "page size must be between 1 and 100, got %d", pageSize)
	}

	total, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %v", err)
	}

	totalPages := int64(math.Ceil(float64(total) / float64(pageSize)))
	if page > totalPages && page != 1 {
		return nil, apperrors.NewValidation("page", "page %d exceeds total pages %d", page, totalPages)
	}

	records, err := s.repo.ListUnread(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unread notifications: %v", err)
	}

	return &InboxPage{
		Records:     records,
		TotalUnread: total,
		TotalPages:  totalPages,
		Page:        page,
	}, nil
}

// MarkRead flips one record to read. Ownership and unread state are enforced
// in the same conditional update, so a missing record, an already-read record
// and someone else's record are indistinguishable to the caller.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperrors.NewValidation("notification_id", "invalid notification id %q", id)
	}

	modified, err := s.repo.MarkRead(ctx, userID, objID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %v", err)
	}
	if modified == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MarkAllRead flips every unread record the user owns and returns the count.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	modified, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %v", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"user_id":  userID,
		"modified": modified,
	}).Info("Marked all notifications read")
	return modified, nil
}

// GetPreference returns the stored or default preference for a user.
func (s *NotificationService) GetPreference(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	return s.prefRepo.GetPreference(ctx, userID)
}

// UpdatePreference validates and upserts a user's preference.
func (s *NotificationService) UpdatePreference(ctx context.Context, pref *models.NotificationPreference) error {
	if pref.ProximityThreshold < 1 || pref.ProximityThreshold > 99 {
		return apperrors.NewValidation("proximity_threshold", "proximity threshold must be between 1 and 99, got %d", pref.ProximityThreshold)
	}
	if pref.DeliveryTarget == "" {
		pref.DeliveryTarget = models.DeliveryDirect
	}
	return s.prefRepo.UpsertPreference(ctx, pref)
}
