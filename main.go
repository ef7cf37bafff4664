package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/database"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/fetcher"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/handlers"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/ingestion"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/security"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/services"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runScheduler fires the daily ingestion at the configured local time,
// once per day, and alerts on any non-SUCCESS outcome.
func runScheduler(service *ingestion.Service, alerts services.AlertService) {
	loc, err := time.LoadLocation(config.Cfg.ScheduleTimezone)
	if err != nil {
		logger.L.Error("Invalid SCHEDULE_TIMEZONE, falling back to UTC", "timezone", config.Cfg.ScheduleTimezone, "error", err)
		loc = time.UTC
	}

	for {
		now := time.Now().In(loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), config.Cfg.ScheduleHour, config.Cfg.ScheduleMinute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		logger.L.Info("Next scheduled ingestion run", "at", next.Format(time.RFC3339))
		time.Sleep(time.Until(next))

		entry, err := service.RunDailyIngestion(context.Background(), time.Now())
		if err != nil {
			logger.L.Warn("Scheduled ingestion run skipped", "error", err)
			continue
		}
		if entry.Status != models.RunStatusSuccess {
			if err := alerts.SendRunAlert(*entry); err != nil {
				logger.L.Error("Failed to send run alert", "runID", entry.RunID, "error", err)
			}
		}
	}
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Ecommerce reporting backend starting...")

	if len(config.Cfg.APIAuthSecret) < 32 {
		logger.L.Error("API_AUTH_SECRET configuration invalid. Must be at least 32 bytes.")
		stdlog.Fatal("API_AUTH_SECRET must be at least 32 bytes long")
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	store := database.NewStore(database.DB)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing metric cache...")
	metricCache := cache.New(handlers.DefaultCacheExpiration, handlers.CacheCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.APIAuthSecret)
	alertService := services.NewAlertService()

	tokenProvider := fetcher.NewTokenProvider(config.Cfg)
	clients := fetcher.NewClients(config.Cfg, tokenProvider)
	policy := fetcher.BackoffPolicy{
		BaseDelay:            config.Cfg.PollBaseDelay,
		MaxDelay:             config.Cfg.PollMaxDelay,
		Factor:               config.Cfg.PollBackoffFactor,
		Timeout:              config.Cfg.PollTimeout,
		RateLimitMaxAttempts: config.Cfg.RateLimitMaxAttempts,
		Jitter:               true,
	}
	reportFetcher := fetcher.NewFetcher(policy, fetcher.NewRealClock(), tokenProvider)

	ingestionService := ingestion.NewService(
		reportFetcher, clients, store,
		config.Cfg.Accounts, config.Cfg.ConcurrencyPerPlatform, config.Cfg.RunTimeout,
	)

	metricsHandler := handlers.NewMetricsHandler(store, metricCache)
	runLogHandler := handlers.NewRunLogHandler(store)
	ingestionHandler := handlers.NewIngestionHandler(ingestionService, alertService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	withAuth := func(handler http.HandlerFunc) http.HandlerFunc {
		return handlers.AuthMiddleware(authService, handler)
	}

	apiRouter.HandleFunc("GET /api/metrics/sales", withAuth(metricsHandler.HandleGetSalesMetrics))
	apiRouter.HandleFunc("GET /api/metrics/ads", withAuth(metricsHandler.HandleGetAdsMetrics))
	apiRouter.HandleFunc("GET /api/runs", withAuth(runLogHandler.HandleListRuns))
	apiRouter.HandleFunc("GET /api/runs/{runID}/anomalies", withAuth(runLogHandler.HandleListAnomalies))
	apiRouter.HandleFunc("POST /api/ingestion/trigger", withAuth(ingestionHandler.HandleTriggerRun))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Ecommerce reporting backend is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Starting ingestion scheduler...",
		"hour", config.Cfg.ScheduleHour, "minute", config.Cfg.ScheduleMinute, "timezone", config.Cfg.ScheduleTimezone)
	go runScheduler(ingestionService, alertService)

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
