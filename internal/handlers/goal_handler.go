package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/services"
)

// GoalHandler handles HTTP requests related to goal definitions and resets.
type GoalHandler struct {
	Service *services.GoalService
}

// NewGoalHandler creates a new instance of GoalHandler.
func NewGoalHandler(service *services.GoalService) *GoalHandler {
	return &GoalHandler{Service: service}
}

type defineGoalRequest struct {
	Resource   string            `json:"resource"`
	TargetType models.TargetType `json:"target_type"`
	TargetID   string            `json:"target_id"`
	TargetName string            `json:"target_name"`
	DailyGoal  int64             `json:"daily_goal"`
	WeeklyGoal int64             `json:"weekly_goal"`
}

// DefineGoalHandler handles POST /goals.
func (h *GoalHandler) DefineGoalHandler(w http.ResponseWriter, r *http.Request) {
	var req defineGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	record, err := h.Service.DefineGoal(r.Context(), req.Resource, req.TargetType, req.TargetID, req.TargetName, req.DailyGoal, req.WeeklyGoal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListGoalsHandler handles GET /goals with optional resource/target filters.
func (h *GoalHandler) ListGoalsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.Service.ListGoals(r.Context(), q.Get("resource"), models.TargetType(q.Get("target_type")), q.Get("target_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type resetRequest struct {
	Scope    models.ResetScope `json:"scope"`
	Resource string            `json:"resource"`
}

// ResetHandler handles POST /goals/reset (emergency rollback scopes).
func (h *GoalHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	modified, err := h.Service.Reset(r.Context(), req.Scope, req.Resource)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"modified": modified})
}

// SummaryHandler handles GET /summary?period=daily&resource=&top=5.
func (h *GoalHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topN, _ := strconv.Atoi(q.Get("top"))

	summary, err := h.Service.Summarize(r.Context(), q.Get("resource"), models.Period(q.Get("period")), topN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
