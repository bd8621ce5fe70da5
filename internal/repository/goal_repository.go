package repository

import (
	"context"
	"errors"
	"time"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GoalRepository is the normalized goal store: one document per
// (resource, target type, target id), guarded by a unique compound index.
// This replaces the legacy embedded-array layout whose positional updates
// had ambiguous first-match semantics.
type GoalRepository struct {
	collection *mongo.Collection
}

// NewGoalRepository creates a new instance of GoalRepository.
func NewGoalRepository(db *mongo.Database) *GoalRepository {
	return &GoalRepository{
		collection: db.Collection("goal_records"),
	}
}

func goalKey(resourceName string, targetType models.TargetType, targetID string) bson.M {
	return bson.M{
		"resource_name": models.NormalizeResourceName(resourceName),
		"target_type":   targetType,
		"target_id":     targetID,
	}
}

// RecordProgress atomically increments both period counters by delta and
// stamps last_updated, returning the post-update record. Crossing detection
// derives the pre-image from the returned counters minus the known delta, so
// no separate read is needed. Returns (nil, nil) when no record exists for
// the target on that resource; delta must be positive, only addition paths
// call this.
func (r *GoalRepository) RecordProgress(ctx context.Context, resourceName string, targetType models.TargetType, targetID string, delta int64) (*models.GoalRecord, error) {
	update := bson.M{
		"$inc": bson.M{
			"daily_progress":  delta,
			"weekly_progress": delta,
		},
		"$set": bson.M{"last_updated": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var record models.GoalRecord
	err := r.collection.FindOneAndUpdate(ctx, goalKey(resourceName, targetType, targetID), update, opts).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"resource":  resourceName,
			"target_id": targetID,
		}).Error("Failed to record goal progress")
		return nil, err
	}
	return &record, nil
}

// ReplaceGoal removes any existing record for the key and inserts a fresh one
// with progress forced to zero. Destructive redefinition, never a merge: the
// prior record's progress is discarded unconditionally.
func (r *GoalRepository) ReplaceGoal(ctx context.Context, record *models.GoalRecord) error {
	record.ResourceName = models.NormalizeResourceName(record.ResourceName)
	record.DailyProgress = 0
	record.WeeklyProgress = 0
	record.LastUpdated = time.Now()
	record.CreatedAt = record.LastUpdated

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(
		ctx,
		goalKey(record.ResourceName, record.TargetType, record.TargetID),
		record,
		opts,
	)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"resource":  record.ResourceName,
			"target_id": record.TargetID,
		}).Error("Failed to replace goal record")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"resource":    record.ResourceName,
		"target_type": record.TargetType,
		"target_id":   record.TargetID,
		"daily_goal":  record.DailyGoal,
		"weekly_goal": record.WeeklyGoal,
	}).Info("Goal record replaced")
	return nil
}

// GetGoal fetches one record by its compound key.
func (r *GoalRepository) GetGoal(ctx context.Context, resourceName string, targetType models.TargetType, targetID string) (*models.GoalRecord, error) {
	var record models.GoalRecord
	err := r.collection.FindOne(ctx, goalKey(resourceName, targetType, targetID)).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListGoals returns goal records filtered by resource and/or target.
// Empty filter values are ignored.
func (r *GoalRepository) ListGoals(ctx context.Context, resourceName string, targetType models.TargetType, targetID string) ([]models.GoalRecord, error) {
	filter := bson.M{}
	if resourceName != "" {
		filter["resource_name"] = models.NormalizeResourceName(resourceName)
	}
	if targetType != "" {
		filter["target_type"] = targetType
	}
	if targetID != "" {
		filter["target_id"] = targetID
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "resource_name", Value: 1},
		{Key: "target_id", Value: 1},
	}))
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list goal records")
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.GoalRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ResetProgress zeroes progress counters in bulk. The resourceName narrows
// the scope to one resource; empty means every record. The filter also
// matches legacy records that miss the progress fields entirely, normalizing
// them to explicit zeros. Idempotent: re-running reports zero modified.
func (r *GoalRepository) ResetProgress(ctx context.Context, resourceName string) (int64, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"daily_progress": bson.M{"$ne": int64(0)}},
			{"weekly_progress": bson.M{"$ne": int64(0)}},
			{"daily_progress": bson.M{"$exists": false}},
			{"weekly_progress": bson.M{"$exists": false}},
		},
	}
	if resourceName != "" {
		filter["resource_name"] = models.NormalizeResourceName(resourceName)
	}

	update := bson.M{"$set": bson.M{
		"daily_progress":  int64(0),
		"weekly_progress": int64(0),
		"last_updated":    time.Now(),
	}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		logger.Log.WithError(err).WithField("resource", resourceName).Error("Failed to reset goal progress")
		return 0, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"resource": resourceName,
		"modified": result.ModifiedCount,
	}).Info("Goal progress reset")
	return result.ModifiedCount, nil
}
