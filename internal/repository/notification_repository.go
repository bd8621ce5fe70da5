package repository

import (
	"context"
	"time"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotificationRepository struct {
	collection *mongo.Collection
}

func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{
		collection: db.Collection("notifications"),
	}
}

// CreateNotification inserts a new audit record at send time.
func (r *NotificationRepository) CreateNotification(ctx context.Context, record *models.NotificationRecord) error {
	if record.SentAt.IsZero() {
		record.SentAt = time.Now()
	}
	record.Read = false

	result, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		logrus.WithError(err).Error("Failed to insert notification record")
		return err
	}
	if insertedID, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = insertedID
	}
	return nil
}

// CountUnread returns how many unread records a recipient owns.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{
		"recipient_id": recipientID,
		"read":         false,
	})
}

// ListUnread returns one page of unread records, newest first by sent_at.
func (r *NotificationRepository) ListUnread(ctx context.Context, recipientID string, skip, limit int64) ([]models.NotificationRecord, error) {
	filter := bson.M{
		"recipient_id": recipientID,
		"read":         false,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		logger.Log.WithError(err).WithField("recipient_id", recipientID).Error("Failed to fetch unread notifications")
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.NotificationRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkRead flips one unread record owned by the recipient. The returned count
// is zero when the record is absent, already read, or owned by someone else;
// the caller cannot tell which, the filter collapses the three on purpose.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID string, id primitive.ObjectID) (int64, error) {
	now := time.Now()
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id, "recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}},
	)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// MarkAllRead flips every unread record the recipient owns and returns the
// modified count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	now := time.Now()
	result, err := r.collection.UpdateMany(
		ctx,
		bson.M{"recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}},
	)
	if err != nil {
		logrus.WithError(err).WithField("recipient_id", recipientID).Error("Failed to mark notifications read")
		return 0, err
	}
	return result.ModifiedCount, nil
}
