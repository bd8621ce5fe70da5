package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/services"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ResourceHandler handles HTTP requests for resources and ledger operations.
type ResourceHandler struct {
	Service *services.LedgerService
}

// NewResourceHandler creates a new instance of ResourceHandler.
func NewResourceHandler(service *services.LedgerService) *ResourceHandler {
	return &ResourceHandler{Service: service}
}

type createResourceRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type deltaRequest struct {
	Quantity int64 `json:"quantity"`
	// Roles carries the actor's current role memberships, resolved by the
	// command layer.
	Roles []services.RoleRef `json:"roles"`
}

// CreateResourceHandler handles POST /resources.
func (h *ResourceHandler) CreateResourceHandler(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	resource, err := h.Service.CreateResource(r.Context(), req.Name, req.Category, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resource)
}

// ListResourcesHandler handles GET /resources.
func (h *ResourceHandler) ListResourcesHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	historyLimit, _ := strconv.Atoi(r.URL.Query().Get("history_limit"))

	resources, err := h.Service.ListResources(r.Context(), r.URL.Query().Get("category"), activeOnly, historyLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// GetResourceHandler handles GET /resources/{name}.
func (h *ResourceHandler) GetResourceHandler(w http.ResponseWriter, r *http.Request) {
	resource, err := h.Service.GetResource(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

// AddEntryHandler handles POST /resources/{name}/entries (additions).
func (h *ResourceHandler) AddEntryHandler(w http.ResponseWriter, r *http.Request) {
	h.applyDelta(w, r, models.ActionAddition)
}

// WithdrawHandler handles POST /resources/{name}/withdrawals. The sufficiency
// check happens here, caller-side, via a read before the mutation; it is not
// atomic with the decrement (documented race).
func (h *ResourceHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.applyDelta(w, r, models.ActionWithdrawal)
}

func (h *ResourceHandler) applyDelta(w http.ResponseWriter, r *http.Request, action models.Action) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req deltaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	name := mux.Vars(r)["name"]

	if action == models.ActionWithdrawal {
		resource, err := h.Service.GetResource(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		if resource.Quantity < req.Quantity {
			writeError(w, apperrors.NewValidation("quantity",
				"insufficient quantity: have %d, requested %d", resource.Quantity, req.Quantity))
			return
		}
	}

	actor := services.Actor{ID: claims.UserID, Name: claims.DisplayName}
	resource, err := h.Service.ApplyDelta(r.Context(), name, req.Quantity, actor, action, req.Roles)
	if err != nil {
		logrus.WithError(err).WithField("resource", name).Warn("Ledger operation rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

// SetActiveHandler handles PATCH /resources/{name}/active.
func (h *ResourceHandler) SetActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.Service.SetActive(r.Context(), mux.Vars(r)["name"], req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}
