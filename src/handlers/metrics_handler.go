package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/database"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/kpi"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

const (
	ckSalesMetrics = "res_sales_metrics_%s_%s"
	ckAdsMetrics   = "res_ads_metrics_%s_%s"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute

	defaultRangeDays = 30
)

// MetricsHandler serves the dashboard's sales and ads read surface: stored
// canonical rows with their KPIs computed on read.
type MetricsHandler struct {
	store       *database.Store
	metricCache *cache.Cache
}

func NewMetricsHandler(store *database.Store, metricCache *cache.Cache) *MetricsHandler {
	return &MetricsHandler{store: store, metricCache: metricCache}
}

// dateRangeFromQuery defaults to the last 30 days when the query omits
// bounds.
func dateRangeFromQuery(r *http.Request) (string, string, error) {
	end := r.URL.Query().Get("end")
	start := r.URL.Query().Get("start")
	if end == "" {
		end = time.Now().Format(utils.ISODateFormat)
	}
	if start == "" {
		t, _ := utils.ParseISODate(end)
		start = t.AddDate(0, 0, -(defaultRangeDays - 1)).Format(utils.ISODateFormat)
	}
	if _, err := utils.ParseISODate(start); err != nil {
		return "", "", fmt.Errorf("invalid start date %q", start)
	}
	if _, err := utils.ParseISODate(end); err != nil {
		return "", "", fmt.Errorf("invalid end date %q", end)
	}
	return start, end, nil
}

func (h *MetricsHandler) HandleGetSalesMetrics(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRangeFromQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := fmt.Sprintf(ckSalesMetrics, start, end)
	if cached, found := h.metricCache.Get(cacheKey); found {
		writeJSONWithETag(w, r, cached)
		return
	}

	records, err := h.store.ListSalesRecords(start, end)
	if err != nil {
		logger.L.Error("Failed to list sales metrics", "error", err)
		utils.SendJSONError(w, "error retrieving sales metrics", http.StatusInternalServerError)
		return
	}

	metrics := make([]models.SalesMetric, 0, len(records))
	for _, rec := range records {
		metrics = append(metrics, kpi.SalesMetrics(rec))
	}
	h.metricCache.Set(cacheKey, metrics, cache.DefaultExpiration)
	writeJSONWithETag(w, r, metrics)
}

func (h *MetricsHandler) HandleGetAdsMetrics(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRangeFromQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := fmt.Sprintf(ckAdsMetrics, start, end)
	if cached, found := h.metricCache.Get(cacheKey); found {
		writeJSONWithETag(w, r, cached)
		return
	}

	records, err := h.store.ListAdsRecords(start, end)
	if err != nil {
		logger.L.Error("Failed to list ads metrics", "error", err)
		utils.SendJSONError(w, "error retrieving ads metrics", http.StatusInternalServerError)
		return
	}

	metrics := make([]models.AdsMetric, 0, len(records))
	for _, rec := range records {
		// tacos needs the paired sales row; absent pair leaves it omitted.
		paired, err := h.store.GetSalesRecord(rec.Key())
		if err != nil {
			logger.L.Warn("Paired sales lookup failed, omitting tacos", "date", rec.Date, "error", err)
			paired = nil
		}
		metrics = append(metrics, kpi.AdsMetrics(rec, paired))
	}
	h.metricCache.Set(cacheKey, metrics, cache.DefaultExpiration)
	writeJSONWithETag(w, r, metrics)
}

func writeJSONWithETag(w http.ResponseWriter, r *http.Request, data interface{}) {
	etag, err := utils.GenerateETag(data)
	if err == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
