package repository

import (
	"context"
	"errors"
	"time"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PreferenceRepository struct {
	collection *mongo.Collection
}

func NewPreferenceRepository(db *mongo.Database) *PreferenceRepository {
	return &PreferenceRepository{
		collection: db.Collection("notification_preferences"),
	}
}

// GetPreference returns the stored preference for a user, or the defaults
// when the user never configured one. Absence is not an error.
func (r *PreferenceRepository) GetPreference(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&pref)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, err
	}
	if pref.ProximityThreshold < 1 || pref.ProximityThreshold > 99 {
		pref.ProximityThreshold = models.DefaultProximityThreshold
	}
	if pref.DeliveryTarget == "" {
		pref.DeliveryTarget = models.DeliveryDirect
	}
	return &pref, nil
}

// UpsertPreference creates or replaces the user's preference. Lazily creates
// the document on first configuration.
func (r *PreferenceRepository) UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"notify_daily_goal_met":  pref.NotifyDailyGoalMet,
			"notify_weekly_goal_met": pref.NotifyWeeklyGoalMet,
			"notify_proximity":       pref.NotifyProximity,
			"notify_unmet_reminder":  pref.NotifyUnmetReminder,
			"proximity_threshold":    pref.ProximityThreshold,
			"delivery_target":        pref.DeliveryTarget,
			"updated_at":             now,
		},
		"$setOnInsert": bson.M{
			"user_id":    pref.UserID,
			"created_at": now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"user_id": pref.UserID}, update, options.Update().SetUpsert(true))
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", pref.UserID).Error("Failed to upsert notification preference")
		return err
	}
	return nil
}
