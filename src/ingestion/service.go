// Package ingestion drives one end-to-end run: every configured
// (platform, account, reportType) triple goes through
// Fetch -> Decode -> Normalize -> Validate -> Commit independently, under a
// bounded per-platform concurrency limit and a global run timeout. Each run
// produces exactly one RunLogEntry.
package ingestion

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/fetcher"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/platforms"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

// errorSummaryLimit bounds the run log's error string.
const errorSummaryLimit = 256

// commitRetries is the number of immediate retries after a failed commit,
// so each key gets commitRetries+1 attempts in total.
const commitRetries = 3

// The scheduler and the manual trigger share one run slot, so these are
// returned wherever a run is started.
var (
	ErrRunInProgress      = errors.New("an ingestion run is already in progress")
	ErrDayAlreadyIngested = errors.New("target day already ingested by a prior run")
)

// Triple is one unit of work: a single report for one account on one
// platform.
type Triple struct {
	Platform   string
	AccountID  string
	ReportType string
}

// Sink is the durable store the pipeline commits to. database.Store is the
// production implementation.
type Sink interface {
	UpsertMergeSales(rec models.SalesRecord) error
	UpsertMergeAds(rec models.AdsRecord) error
	GetSalesRecord(key models.MetricKey) (*models.SalesRecord, error)
	GetAdsRecord(key models.MetricKey) (*models.AdsRecord, error)
	AppendRunLog(entry models.RunLogEntry) error
	InsertAnomalies(runID string, anomalies []models.Anomaly) error
	HasIngestedDay(day string) (bool, error)
}

type Service struct {
	fetcher     *fetcher.Fetcher
	clients     map[string]fetcher.PlatformClient
	sink        Sink
	accounts    []string
	concurrency int
	runTimeout  time.Duration
	running     atomic.Bool
}

func NewService(f *fetcher.Fetcher, clients map[string]fetcher.PlatformClient, sink Sink, accounts []string, concurrencyPerPlatform int, runTimeout time.Duration) *Service {
	if concurrencyPerPlatform <= 0 {
		concurrencyPerPlatform = 4
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	return &Service{
		fetcher:     f,
		clients:     clients,
		sink:        sink,
		accounts:    accounts,
		concurrency: concurrencyPerPlatform,
		runTimeout:  runTimeout,
	}
}

// Triples enumerates the work for one run in a stable order.
func (s *Service) Triples() []Triple {
	platformIDs := make([]string, 0, len(s.clients))
	for p := range s.clients {
		platformIDs = append(platformIDs, p)
	}
	sort.Strings(platformIDs)

	var triples []Triple
	for _, platform := range platformIDs {
		reportTypes := platforms.ReportTypes(platform)
		sort.Strings(reportTypes)
		for _, account := range s.accounts {
			for _, rt := range reportTypes {
				triples = append(triples, Triple{Platform: platform, AccountID: account, ReportType: rt})
			}
		}
	}
	return triples
}

// RunDailyIngestion executes one run for the day before triggerTime and
// returns the finalized run log entry. At most one run is in flight at a
// time, and a day whose rows are already committed is not re-ingested:
// commits merge additively, so running the same day twice would double every
// stored metric. A failed run that wrote no rows does not block a retry.
func (s *Service) RunDailyIngestion(ctx context.Context, triggerTime time.Time) (*models.RunLogEntry, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	if err := s.checkDay(targetDay(triggerTime)); err != nil {
		return nil, err
	}
	return s.run(ctx, triggerTime), nil
}

// StartRun reserves the run slot and checks the target day synchronously,
// then executes the run in the background. The returned channel yields the
// finalized entry.
func (s *Service) StartRun(triggerTime time.Time) (<-chan *models.RunLogEntry, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	if err := s.checkDay(targetDay(triggerTime)); err != nil {
		s.running.Store(false)
		return nil, err
	}
	done := make(chan *models.RunLogEntry, 1)
	go func() {
		defer s.running.Store(false)
		done <- s.run(context.Background(), triggerTime)
	}()
	return done, nil
}

// targetDay is the ISO day a run ingests: the day before its trigger.
func targetDay(triggerTime time.Time) string {
	return triggerTime.AddDate(0, 0, -1).Format(utils.ISODateFormat)
}

func (s *Service) checkDay(day string) error {
	ingested, err := s.sink.HasIngestedDay(day)
	if err != nil {
		logger.L.Warn("Run history lookup failed, proceeding", "date", day, "error", err)
		return nil
	}
	if ingested {
		return ErrDayAlreadyIngested
	}
	return nil
}

func (s *Service) run(ctx context.Context, triggerTime time.Time) *models.RunLogEntry {
	runID := "RUN-" + triggerTime.Format("20060102-1504")
	day := targetDay(triggerTime)
	dateRange := models.DateRange{Start: day, End: day}

	triples := s.Triples()
	entry := &models.RunLogEntry{
		RunID:            runID,
		TargetDate:       day,
		StartTime:        triggerTime,
		ReportsRequested: len(triples),
	}
	logger.L.Info("Ingestion run starting", "runID", runID, "date", day, "triples", len(triples))

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	// One semaphore per platform keeps in-flight report requests bounded
	// where the rate limits live.
	sems := map[string]chan struct{}{}
	for _, t := range triples {
		if _, ok := sems[t.Platform]; !ok {
			sems[t.Platform] = make(chan struct{}, s.concurrency)
		}
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		errorKinds = map[string]struct{}{}
	)

	for _, triple := range triples {
		wg.Add(1)
		go func(t Triple) {
			defer wg.Done()
			sem := sems[t.Platform]
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				mu.Lock()
				errorKinds[fetcher.KindCancelled] = struct{}{}
				mu.Unlock()
				return
			}

			rows, err := s.runTriple(runCtx, runID, t, dateRange)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errorKinds[errorKind(err)] = struct{}{}
				logger.L.Error("Triple failed", "runID", runID, "platform", t.Platform, "reportType", t.ReportType, "error", err)
				return
			}
			entry.ReportsCompleted++
			entry.RowsWritten += rows
		}(triple)
	}
	wg.Wait()

	entry.EndTime = time.Now()
	entry.DurationSeconds = int64(entry.EndTime.Sub(entry.StartTime).Seconds())
	entry.Status = models.DeriveRunStatus(entry.ReportsRequested, entry.ReportsCompleted)
	entry.ErrorSummary = summarizeErrors(errorKinds)

	if err := s.sink.AppendRunLog(*entry); err != nil {
		logger.L.Error("Failed to append run log", "runID", runID, "error", err)
	}
	logger.L.Info("Ingestion run finished",
		"runID", runID, "status", entry.Status,
		"reportsCompleted", entry.ReportsCompleted, "reportsRequested", entry.ReportsRequested,
		"rowsWritten", entry.RowsWritten, "durationSeconds", entry.DurationSeconds)
	return entry
}

func summarizeErrors(kinds map[string]struct{}) string {
	if len(kinds) == 0 {
		return ""
	}
	distinct := make([]string, 0, len(kinds))
	for k := range kinds {
		distinct = append(distinct, k)
	}
	sort.Strings(distinct)
	summary := strings.Join(distinct, "; ")
	if len(summary) > errorSummaryLimit {
		summary = summary[:errorSummaryLimit]
	}
	return summary
}
