package database

import (
	"context"
	"time"

	"github.com/estoque-labs/goal-engine/internal/config"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectDB establishes the Mongo connection and ensures the indexes the
// engine's conditional updates rely on. Lifecycle is owned by the caller:
// the returned client must be disconnected on shutdown.
func ConnectDB(cfg *config.Config) (*mongo.Database, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, err
	}

	db := client.Database(cfg.MongoDB)
	if err := ensureIndexes(ctx, db); err != nil {
		return nil, nil, err
	}

	logger.Log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	return db, client, nil
}

// Disconnect tears the connection down with a bounded timeout.
func Disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Log.WithError(err).Warn("Failed to disconnect MongoDB client")
	}
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	// Resources are keyed uniquely by normalized name.
	_, err := db.Collection("resources").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	// One goal record per (resource, target type, target id).
	_, err = db.Collection("goal_records").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "resource_name", Value: 1},
			{Key: "target_type", Value: 1},
			{Key: "target_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	// Unread-inbox query path: recipient + read flag, newest first.
	_, err = db.Collection("notifications").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipient_id", Value: 1},
			{Key: "read", Value: 1},
			{Key: "sent_at", Value: -1},
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("notification_preferences").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
