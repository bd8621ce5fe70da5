package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/services"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/estoque-labs/goal-engine/pkg/middleware"
	"github.com/gorilla/mux"
)

type NotificationHandler struct {
	Service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{Service: service}
}

// GET /notifications?page=1&page_size=10
func (h *NotificationHandler) ListUnreadHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, err := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	if err != nil {
		page = 1
	}
	pageSize, err := strconv.ParseInt(r.URL.Query().Get("page_size"), 10, 64)
	if err != nil {
		pageSize = 10
	}

	inbox, err := h.Service.ListUnread(r.Context(), claims.UserID, page, pageSize)
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to list unread notifications")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

// POST /notifications/{id}/read
func (h *NotificationHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Service.MarkRead(r.Context(), claims.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// POST /notifications/read-all
func (h *NotificationHandler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	modified, err := h.Service.MarkAllRead(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"modified": modified})
}

// GET /preferences
func (h *NotificationHandler) GetPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	pref, err := h.Service.GetPreference(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// PUT /preferences
func (h *NotificationHandler) UpdatePreferenceHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var pref models.NotificationPreference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	pref.UserID = claims.UserID
	if err := h.Service.UpdatePreference(r.Context(), &pref); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}
