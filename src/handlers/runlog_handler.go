package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/database"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

// RunLogHandler serves the run history and per-run anomaly listings.
type RunLogHandler struct {
	store *database.Store
}

func NewRunLogHandler(store *database.Store) *RunLogHandler {
	return &RunLogHandler{store: store}
}

func (h *RunLogHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			utils.SendJSONError(w, "limit must be a positive integer up to 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.store.ListRunLogs(limit)
	if err != nil {
		logger.L.Error("Failed to list run logs", "error", err)
		utils.SendJSONError(w, "error retrieving run logs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *RunLogHandler) HandleListAnomalies(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if runID == "" {
		utils.SendJSONError(w, "runID path parameter required", http.StatusBadRequest)
		return
	}

	anomalies, err := h.store.ListAnomalies(runID)
	if err != nil {
		logger.L.Error("Failed to list anomalies", "runID", runID, "error", err)
		utils.SendJSONError(w, "error retrieving anomalies", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(anomalies)
}
