package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Category is the notification kind. The wire values predate this service and
// are kept for compatibility with existing stored notifications.
type Category string

const (
	CategoryDailyGoalMet    Category = "meta_diaria_usuario"
	CategoryWeeklyGoalMet   Category = "meta_semanal_usuario"
	CategoryProximity       Category = "proximidade_meta_usuario"
	CategoryUnmetReminder   Category = "lembrete_meta_usuario"
	CategoryDailySummary    Category = "resumo_diario_gerente"
	CategoryHighPerformance Category = "alerta_alto_desempenho_gerente"
	CategoryLowPerformance  Category = "alerta_baixo_desempenho_gerente"
	CategoryWeeklyReport    Category = "relatorio_semanal_gerente"
)

// RelatedData carries the goal context a notification was produced from.
type RelatedData struct {
	ResourceName string `bson:"resource_name,omitempty" json:"resource_name,omitempty"`
	Period       Period `bson:"period,omitempty" json:"period,omitempty"`
	Goal         int64  `bson:"goal,omitempty" json:"goal,omitempty"`
	Progress     int64  `bson:"progress,omitempty" json:"progress,omitempty"`
	Threshold    int64  `bson:"threshold,omitempty" json:"threshold,omitempty"`
}

// NotificationRecord is the persisted audit entry for an individually
// addressed notification. Broadcast sends are never persisted per-recipient.
// Records are created at send time and mutated only by mark-read.
type NotificationRecord struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	RecipientID string                 `bson:"recipient_id" json:"recipient_id"`
	Category    Category               `bson:"category" json:"category"`
	Message     string                 `bson:"message" json:"message"`
	Payload     map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	Related     *RelatedData           `bson:"related,omitempty" json:"related,omitempty"`
	SentAt      time.Time              `bson:"sent_at" json:"sent_at"`
	Read        bool                   `bson:"read" json:"read"`
	ReadAt      *time.Time             `bson:"read_at,omitempty" json:"read_at,omitempty"`
}
