package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// not-found 404, everything else (including retry exhaustion) 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case apperrors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		logger.Log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
