package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TargetType says whether a goal belongs to an individual user or to a role.
type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
)

// Period is the accounting window a goal's progress is tracked against.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// GoalRecord holds one target's thresholds and progress for one resource.
// Records live in their own collection keyed by the unique compound index
// (resource_name, target_type, target_id); progress counters only ever grow,
// and only through addition-type ledger operations. Redefining a goal always
// replaces the record with zeroed progress.
type GoalRecord struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ResourceName   string             `bson:"resource_name" json:"resource_name"`
	TargetType     TargetType         `bson:"target_type" json:"target_type"`
	TargetID       string             `bson:"target_id" json:"target_id"`
	TargetName     string             `bson:"target_name" json:"target_name"`
	DailyGoal      int64              `bson:"daily_goal" json:"daily_goal"`
	WeeklyGoal     int64              `bson:"weekly_goal" json:"weekly_goal"`
	DailyProgress  int64              `bson:"daily_progress" json:"daily_progress"`
	WeeklyProgress int64              `bson:"weekly_progress" json:"weekly_progress"`
	LastUpdated    time.Time          `bson:"last_updated" json:"last_updated"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

// Goal returns the threshold for the given period.
func (g *GoalRecord) Goal(period Period) int64 {
	if period == PeriodWeekly {
		return g.WeeklyGoal
	}
	return g.DailyGoal
}

// Progress returns the progress counter for the given period.
func (g *GoalRecord) Progress(period Period) int64 {
	if period == PeriodWeekly {
		return g.WeeklyProgress
	}
	return g.DailyProgress
}

// ResetScope selects which records a bulk progress reset touches.
type ResetScope string

const (
	// ResetResourceGoals zeroes progress on every goal of one resource.
	ResetResourceGoals ResetScope = "resource_goals"
	// ResetAllGoals zeroes progress on every goal globally.
	ResetAllGoals ResetScope = "all_goals"
	// ResetResourceQuantity zeroes one resource's quantity.
	ResetResourceQuantity ResetScope = "resource_quantity"
)
