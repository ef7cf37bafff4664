package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/ingestion"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/services"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

// IngestionHandler exposes the manual run trigger. The ingestion service
// holds the run-in-flight guard, so a manual trigger cannot overlap a
// scheduled run; concurrent triggers are rejected rather than queued.
type IngestionHandler struct {
	service *ingestion.Service
	alerts  services.AlertService
}

func NewIngestionHandler(service *ingestion.Service, alerts services.AlertService) *IngestionHandler {
	return &IngestionHandler{service: service, alerts: alerts}
}

func (h *IngestionHandler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	triggerTime := time.Now()
	done, err := h.service.StartRun(triggerTime)
	switch {
	case errors.Is(err, ingestion.ErrRunInProgress):
		utils.SendJSONError(w, "an ingestion run is already in progress", http.StatusConflict)
		return
	case errors.Is(err, ingestion.ErrDayAlreadyIngested):
		utils.SendJSONError(w, "yesterday's reports are already ingested", http.StatusConflict)
		return
	case err != nil:
		utils.SendJSONError(w, "failed to start ingestion run", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Manual ingestion run triggered", "remoteAddr", r.RemoteAddr)

	go func() {
		entry := <-done
		if entry.Status != models.RunStatusSuccess {
			if err := h.alerts.SendRunAlert(*entry); err != nil {
				logger.L.Error("Failed to send run alert", "runID", entry.RunID, "error", err)
			}
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message":      "ingestion run started",
		"trigger_time": triggerTime.Format(time.RFC3339),
	})
}
