package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/formscan/permit-ocr-service/internal/db"
)

// ListRuns - GET /api/runs?limit=N
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error("api.runs.list", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get runs")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"runs":    runs,
		"count":   len(runs),
	})
}

// GetRun - GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		h.sendError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.log.Error("api.runs.get", "id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"run":     run,
	})
}
