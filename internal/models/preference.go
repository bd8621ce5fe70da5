package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryDirect means the user wants notifications delivered directly (DM)
// instead of to a preferred channel.
const DeliveryDirect = "direct"

// DefaultProximityThreshold is the percent bound used when a user never
// configured one.
const DefaultProximityThreshold = 80

// NotificationPreference is one user's suppression flags and delivery choice.
// Created lazily on first configuration; absent means all defaults.
type NotificationPreference struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID              string             `bson:"user_id" json:"user_id"` // unique
	NotifyDailyGoalMet  bool               `bson:"notify_daily_goal_met" json:"notify_daily_goal_met"`
	NotifyWeeklyGoalMet bool               `bson:"notify_weekly_goal_met" json:"notify_weekly_goal_met"`
	NotifyProximity     bool               `bson:"notify_proximity" json:"notify_proximity"`
	NotifyUnmetReminder bool               `bson:"notify_unmet_reminder" json:"notify_unmet_reminder"`
	ProximityThreshold  int                `bson:"proximity_threshold" json:"proximity_threshold"` // percent, 1..99
	DeliveryTarget      string             `bson:"delivery_target" json:"delivery_target"`         // "direct" or a channel id
	CreatedAt           time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

// DefaultPreference returns the preference applied to users who never
// configured one: every category enabled, 80% proximity bound, direct delivery.
func DefaultPreference(userID string) *NotificationPreference {
	return &NotificationPreference{
		UserID:              userID,
		NotifyDailyGoalMet:  true,
		NotifyWeeklyGoalMet: true,
		NotifyProximity:     true,
		NotifyUnmetReminder: true,
		ProximityThreshold:  DefaultProximityThreshold,
		DeliveryTarget:      DeliveryDirect,
	}
}

// Allows reports whether the given category is enabled for this user.
// Management-facing categories are never suppressed by user preferences.
func (p *NotificationPreference) Allows(category Category) bool {
	switch category {
	case CategoryDailyGoalMet:
		return p.NotifyDailyGoalMet
	case CategoryWeeklyGoalMet:
		return p.NotifyWeeklyGoalMet
	case CategoryProximity:
		return p.NotifyProximity
	case CategoryUnmetReminder:
		return p.NotifyUnmetReminder
	default:
		return true
	}
}
