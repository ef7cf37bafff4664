package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/fetcher"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/ingestion"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/services"
)

// stubSink satisfies ingestion.Sink without touching the shared test
// database; the trigger tests only exercise the pre-run checks.
type stubSink struct {
	ingested bool
}

func (s *stubSink) UpsertMergeSales(models.SalesRecord) error { return nil }
func (s *stubSink) UpsertMergeAds(models.AdsRecord) error     { return nil }
func (s *stubSink) GetSalesRecord(models.MetricKey) (*models.SalesRecord, error) {
	return nil, nil
}
func (s *stubSink) GetAdsRecord(models.MetricKey) (*models.AdsRecord, error) {
	return nil, nil
}
func (s *stubSink) AppendRunLog(models.RunLogEntry) error          { return nil }
func (s *stubSink) InsertAnomalies(string, []models.Anomaly) error { return nil }
func (s *stubSink) HasIngestedDay(string) (bool, error)            { return s.ingested, nil }

func newTriggerHandler(ingested bool) *IngestionHandler {
	f := fetcher.NewFetcher(fetcher.DefaultBackoffPolicy(), fetcher.NewRealClock(), nil)
	svc := ingestion.NewService(f, map[string]fetcher.PlatformClient{}, &stubSink{ingested: ingested},
		[]string{"A123456789"}, 1, time.Minute)
	return NewIngestionHandler(svc, &services.MockAlertService{})
}

func TestHandleTriggerRunAccepted(t *testing.T) {
	h := newTriggerHandler(false)

	req := httptest.NewRequest(http.MethodPost, "/api/ingestion/trigger", nil)
	rec := httptest.NewRecorder()
	h.HandleTriggerRun(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "ingestion run started")
}

func TestHandleTriggerRunConflictWhenDayIngested(t *testing.T) {
	h := newTriggerHandler(true)

	req := httptest.NewRequest(http.MethodPost, "/api/ingestion/trigger", nil)
	rec := httptest.NewRecorder()
	h.HandleTriggerRun(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already ingested")
}
