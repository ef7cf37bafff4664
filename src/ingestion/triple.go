package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/database"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/decoder"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/fetcher"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/normalizer"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/platforms"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/validator"
)

// runTriple processes one report through the full chain and returns the
// number of source rows accepted into the sink. Row- and record-level
// problems are counted and skipped; any returned error is terminal for this
// triple only.
func (s *Service) runTriple(ctx context.Context, runID string, t Triple, dateRange models.DateRange) (int64, error) {
	client, ok := s.clients[t.Platform]
	if !ok {
		return 0, fmt.Errorf("no client configured for platform %s", t.Platform)
	}
	mapping, err := platforms.GetMapping(t.Platform, t.ReportType)
	if err != nil {
		return 0, err
	}

	log := logger.L.With("runID", runID, "platform", t.Platform, "accountID", t.AccountID, "reportType", t.ReportType)

	log.Debug("Triple stage", "stage", "FETCHING")
	payload, format, err := s.fetcher.Fetch(ctx, client, t.AccountID, t.ReportType, dateRange)
	if err != nil {
		return 0, err
	}

	log.Debug("Triple stage", "stage", "DECODING")
	decoded, err := decoder.Decode(payload, format)
	if err != nil {
		return 0, err
	}
	// A cancelled run discards partial decode output instead of committing it.
	if ctx.Err() != nil {
		return 0, &fetcher.FetchError{Kind: fetcher.KindCancelled, Platform: t.Platform, ReportType: t.ReportType, Err: ctx.Err()}
	}

	log.Debug("Triple stage", "stage", "NORMALIZING", "rows", len(decoded.Records), "malformedRows", decoded.MalformedRows)
	salesByKey := map[models.MetricKey]models.SalesRecord{}
	adsByKey := map[models.MetricKey]models.AdsRecord{}
	var accepted int64
	var rejected int
	for _, raw := range decoded.Records {
		result, err := normalizer.Normalize(raw, mapping, t.AccountID)
		if err != nil {
			rejected++
			log.Debug("Record rejected", "error", err)
			continue
		}
		accepted++
		if result.Sales != nil {
			key := result.Sales.Key()
			if existing, ok := salesByKey[key]; ok {
				salesByKey[key] = normalizer.MergeSales(existing, *result.Sales)
			} else {
				salesByKey[key] = *result.Sales
			}
		} else if result.Ads != nil {
			key := result.Ads.Key()
			if existing, ok := adsByKey[key]; ok {
				adsByKey[key] = normalizer.MergeAds(existing, *result.Ads)
			} else {
				adsByKey[key] = *result.Ads
			}
		}
	}
	if rejected > 0 {
		log.Warn("Rejected records during normalization", "rejected", rejected, "accepted", accepted)
	}
	if ctx.Err() != nil {
		return 0, &fetcher.FetchError{Kind: fetcher.KindCancelled, Platform: t.Platform, ReportType: t.ReportType, Err: ctx.Err()}
	}

	log.Debug("Triple stage", "stage", "VALIDATING")
	var anomalies []models.Anomaly
	for _, rec := range salesByKey {
		prior, err := s.sink.GetSalesRecord(models.MetricKey{
			Date: utils.PreviousDay(rec.Date), Marketplace: rec.Marketplace, AccountID: rec.AccountID,
		})
		if err != nil {
			log.Warn("Prior-day lookup failed, skipping day-over-day check", "error", err)
		}
		anomalies = append(anomalies, validator.ValidateSales(rec, prior)...)
	}
	for _, rec := range adsByKey {
		prior, err := s.sink.GetAdsRecord(models.MetricKey{
			Date: utils.PreviousDay(rec.Date), Marketplace: rec.Marketplace, AccountID: rec.AccountID,
		})
		if err != nil {
			log.Warn("Prior-day lookup failed, skipping day-over-day check", "error", err)
		}
		anomalies = append(anomalies, validator.ValidateAds(rec, prior)...)
	}

	log.Debug("Triple stage", "stage", "COMMITTING", "keys", len(salesByKey)+len(adsByKey))
	for _, rec := range salesByKey {
		if err := s.commitWithRetry(func() error { return s.sink.UpsertMergeSales(rec) }); err != nil {
			return 0, err
		}
	}
	for _, rec := range adsByKey {
		if err := s.commitWithRetry(func() error { return s.sink.UpsertMergeAds(rec) }); err != nil {
			return 0, err
		}
	}
	if len(anomalies) > 0 {
		log.Warn("Anomalies recorded", "count", len(anomalies))
		if err := s.sink.InsertAnomalies(runID, anomalies); err != nil {
			log.Error("Failed to store anomalies", "error", err)
		}
	}
	return accepted, nil
}

// commitWithRetry retries a failed commit immediately up to commitRetries
// times after the initial attempt before surfacing the error.
func (s *Service) commitWithRetry(commit func() error) error {
	var err error
	for attempt := 0; attempt <= commitRetries; attempt++ {
		if err = commit(); err == nil {
			return nil
		}
	}
	return err
}

// errorKind reduces a triple failure to its taxonomy kind for the run log's
// error summary.
func errorKind(err error) string {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var ce *database.CommitError
	if errors.As(err, &ce) {
		return "COMMIT_" + ce.Kind
	}
	if errors.Is(err, decoder.ErrUnsupportedFormat) {
		return "UNSUPPORTED_FORMAT"
	}
	return "INTERNAL"
}
