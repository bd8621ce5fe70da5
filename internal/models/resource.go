package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Action distinguishes the two ledger mutation kinds. Withdrawals decrement
// quantity but never touch goal progress.
type Action string

const (
	ActionAddition   Action = "entrada"
	ActionWithdrawal Action = "saida"
)

// HistoryEntry is one immutable operation appended to a resource's history.
type HistoryEntry struct {
	ActorID   string    `bson:"actor_id" json:"actor_id"`
	ActorName string    `bson:"actor_name" json:"actor_name"`
	Action    Action    `bson:"action" json:"action"`
	Quantity  int64     `bson:"quantity" json:"quantity"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Resource is a tracked countable item. Quantity is only ever mutated through
// atomic $inc updates; the history array is append-only.
type Resource struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"` // unique, case-normalized
	Category    string             `bson:"category" json:"category"`
	Description string             `bson:"description" json:"description"`
	Active      bool               `bson:"active" json:"active"`
	Quantity    int64              `bson:"quantity" json:"quantity"`
	History     []HistoryEntry     `bson:"history" json:"history,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// NormalizeResourceName canonicalizes a resource name the way the store keys
// it: trimmed and lowercased.
func NormalizeResourceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
