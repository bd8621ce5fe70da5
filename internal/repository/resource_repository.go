package repository

import (
	"context"
	"errors"
	"time"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ResourceRepository is the ledger store: resource quantity plus the
// append-only operation history, keyed uniquely by normalized name.
type ResourceRepository struct {
	collection *mongo.Collection
}

// NewResourceRepository creates a new instance of ResourceRepository.
func NewResourceRepository(db *mongo.Database) *ResourceRepository {
	return &ResourceRepository{
		collection: db.Collection("resources"),
	}
}

// ApplyDelta upserts the resource and, in one conditional mutation,
// increments quantity by the signed delta and appends the history entry.
// There is no read-modify-write window: $inc and $push are applied atomically
// to the single resource document. Sufficiency for withdrawals is the
// caller's responsibility; the ledger does not re-check.
func (r *ResourceRepository) ApplyDelta(ctx context.Context, name string, delta int64, entry models.HistoryEntry) (*models.Resource, error) {
	name = models.NormalizeResourceName(name)
	now := time.Now()

	filter := bson.M{"name": name}
	update := bson.M{
		"$inc":  bson.M{"quantity": delta},
		"$push": bson.M{"history": entry},
		"$set":  bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"name":       name,
			"category":   "geral",
			"active":     true,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var resource models.Resource
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&resource); err != nil {
		logger.Log.WithError(err).WithField("resource", name).Error("Failed to apply ledger delta")
		return nil, err
	}
	return &resource, nil
}

// CreateResource inserts a new resource with an empty history.
// Fails with a validation error when the name is already taken.
func (r *ResourceRepository) CreateResource(ctx context.Context, resource *models.Resource) (*models.Resource, error) {
	resource.Name = models.NormalizeResourceName(resource.Name)
	resource.Active = true
	resource.CreatedAt = time.Now()
	resource.UpdatedAt = resource.CreatedAt
	if resource.Category == "" {
		resource.Category = "geral"
	}
	if resource.History == nil {
		resource.History = []models.HistoryEntry{}
	}

	result, err := r.collection.InsertOne(ctx, resource)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.NewValidation("resource_exists", "resource %q already exists", resource.Name)
		}
		logger.Log.WithError(err).WithField("resource", resource.Name).Error("Failed to insert resource")
		return nil, err
	}
	if insertedID, ok := result.InsertedID.(primitive.ObjectID); ok {
		resource.ID = insertedID
	}
	logger.Log.WithField("resource", resource.Name).Info("Resource created")
	return resource, nil
}

// GetResource fetches one resource by normalized name.
func (r *ResourceRepository) GetResource(ctx context.Context, name string) (*models.Resource, error) {
	var resource models.Resource
	err := r.collection.FindOne(ctx, bson.M{"name": models.NormalizeResourceName(name)}).Decode(&resource)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// ListResources returns resources with optional category and active filters.
// History arrays are projected down to the most recent historyLimit entries.
func (r *ResourceRepository) ListResources(ctx context.Context, category string, activeOnly bool, historyLimit int) ([]models.Resource, error) {
	filter := bson.M{}
	if category != "" {
		filter["category"] = models.NormalizeResourceName(category)
	}
	if activeOnly {
		filter["active"] = true
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetProjection(bson.M{"history": bson.M{"$slice": -historyLimit}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list resources")
		return nil, err
	}
	defer cursor.Close(ctx)

	var resources []models.Resource
	if err := cursor.All(ctx, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// SetActive flips the soft-delete flag. Resources are deactivated, never removed.
func (r *ResourceRepository) SetActive(ctx context.Context, name string, active bool) error {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"name": models.NormalizeResourceName(name)},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ResetQuantity zeroes one resource's quantity (emergency rollback scope).
// Idempotent: an already-zeroed resource reports zero modified.
func (r *ResourceRepository) ResetQuantity(ctx context.Context, name string) (int64, error) {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"name": models.NormalizeResourceName(name), "quantity": bson.M{"$ne": 0}},
		bson.M{"$set": bson.M{"quantity": int64(0), "updated_at": time.Now()}},
	)
	if err != nil {
		logger.Log.WithError(err).WithField("resource", name).Error("Failed to reset quantity")
		return 0, err
	}
	return result.ModifiedCount, nil
}
