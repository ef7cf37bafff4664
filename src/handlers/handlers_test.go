package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/database"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/security"
)

var store *database.Store

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	database.InitDB(":memory:")
	store = database.NewStore(database.DB)
	os.Exit(m.Run())
}

func newMetricsHandler() *MetricsHandler {
	return NewMetricsHandler(store, cache.New(DefaultCacheExpiration, CacheCleanupInterval))
}

func seedMetrics(t *testing.T, accountID string) {
	t.Helper()
	require.NoError(t, store.UpsertMergeSales(models.SalesRecord{
		Date: "2025-08-30", Marketplace: "US", AccountID: accountID,
		TotalOrders: 100, TotalRevenue: 8000, NetRevenue: 7920, UnitsSold: 130, RefundsAmount: 80,
	}))
	require.NoError(t, store.UpsertMergeAds(models.AdsRecord{
		Date: "2025-08-30", Marketplace: "US", AccountID: accountID,
		AdSpend: 500, AdSales: 2000, AdOrders: 19, Impressions: 60000, Clicks: 540,
	}))
}

func TestHandleGetSalesMetrics(t *testing.T) {
	seedMetrics(t, "handler-sales")
	h := newMetricsHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/sales?start=2025-08-30&end=2025-08-30", nil)
	rec := httptest.NewRecorder()
	h.HandleGetSalesMetrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("ETag"))

	var metrics []models.SalesMetric
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	require.NotEmpty(t, metrics)

	var found bool
	for _, m := range metrics {
		if m.AccountID == "handler-sales" {
			found = true
			require.Equal(t, 80.00, m.AvgOrderValue)
			require.Equal(t, 1.00, m.RefundRate)
		}
	}
	require.True(t, found)
}

func TestHandleGetSalesMetricsNotModified(t *testing.T) {
	seedMetrics(t, "handler-etag")
	h := newMetricsHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/sales?start=2025-08-30&end=2025-08-30", nil)
	rec := httptest.NewRecorder()
	h.HandleGetSalesMetrics(rec, req)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req = httptest.NewRequest(http.MethodGet, "/api/metrics/sales?start=2025-08-30&end=2025-08-30", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.HandleGetSalesMetrics(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestHandleGetAdsMetricsIncludesTacos(t *testing.T) {
	seedMetrics(t, "handler-ads")
	h := newMetricsHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/ads?start=2025-08-30&end=2025-08-30", nil)
	rec := httptest.NewRecorder()
	h.HandleGetAdsMetrics(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics []models.AdsMetric
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))

	var found bool
	for _, m := range metrics {
		if m.AccountID == "handler-ads" {
			found = true
			require.Equal(t, 25.00, m.ACOS)
			require.Equal(t, 4.00, m.ROAS)
			// The same key has a sales row, so tacos is present.
			require.NotNil(t, m.TACOS)
			require.Equal(t, 6.25, *m.TACOS)
		}
	}
	require.True(t, found)
}

func TestHandleGetAdsMetricsOmitsTacosWithoutSalesRow(t *testing.T) {
	require.NoError(t, store.UpsertMergeAds(models.AdsRecord{
		Date: "2025-08-29", Marketplace: "DE", AccountID: "handler-unpaired",
		AdSpend: 100, AdSales: 400, Impressions: 1000, Clicks: 50,
	}))
	h := newMetricsHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/ads?start=2025-08-29&end=2025-08-29", nil)
	rec := httptest.NewRecorder()
	h.HandleGetAdsMetrics(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))

	var found bool
	for _, m := range raw {
		var account string
		require.NoError(t, json.Unmarshal(m["account_id"], &account))
		if account == "handler-unpaired" {
			found = true
			_, hasTacos := m["tacos"]
			require.False(t, hasTacos)
		}
	}
	require.True(t, found)
}

func TestHandleGetSalesMetricsRejectsBadDates(t *testing.T) {
	h := newMetricsHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/sales?start=yesterday", nil)
	rec := httptest.NewRecorder()
	h.HandleGetSalesMetrics(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListRunsLimitValidation(t *testing.T) {
	h := NewRunLogHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=0", nil)
	rec := httptest.NewRecorder()
	h.HandleListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/runs?limit=501", nil)
	rec = httptest.NewRecorder()
	h.HandleListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec = httptest.NewRecorder()
	h.HandleListRuns(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListAnomaliesByRun(t *testing.T) {
	require.NoError(t, store.AppendRunLog(models.RunLogEntry{
		RunID:     "RUN-20250830-0600",
		StartTime: time.Date(2025, 8, 30, 6, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 8, 30, 6, 5, 0, 0, time.UTC),
		Status:    models.RunStatusSuccess,
	}))
	require.NoError(t, store.InsertAnomalies("RUN-20250830-0600", []models.Anomaly{
		{RecordKind: "sales", Date: "2025-08-29", Marketplace: "US", AccountID: "A1",
			Code: "NEGATIVE_VALUE", Field: "net_revenue", Value: -5, Detail: "net_revenue is negative: -5.00"},
	}))

	mux := http.NewServeMux()
	h := NewRunLogHandler(store)
	mux.HandleFunc("GET /api/runs/{runID}/anomalies", h.HandleListAnomalies)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/RUN-20250830-0600/anomalies", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var anomalies []models.Anomaly
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&anomalies))
	require.Len(t, anomalies, 1)
	require.Equal(t, "NEGATIVE_VALUE", anomalies[0].Code)
}

func TestAuthMiddleware(t *testing.T) {
	orig := config.Cfg
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
	t.Cleanup(func() { config.Cfg = orig })

	authService := security.NewAuthService("middleware-test-secret-of-decent-length")
	protected := AuthMiddleware(authService, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// No header.
	rec := httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	protected(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	token, err := authService.GenerateToken("dashboard")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
