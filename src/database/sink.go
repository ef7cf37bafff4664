package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/normalizer"
)

// Commit error kinds, per the pipeline's error taxonomy. CONFLICT errors are
// retryable; IO errors usually are not, but both get the same bounded retry.
const (
	CommitConflict = "CONFLICT"
	CommitIO       = "IO"
)

type CommitError struct {
	Kind string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed (%s): %v", e.Kind, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func commitError(err error) *CommitError {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "busy") || strings.Contains(msg, "locked") || strings.Contains(msg, "constraint") || strings.Contains(msg, "conflict") {
		return &CommitError{Kind: CommitConflict, Err: err}
	}
	return &CommitError{Kind: CommitIO, Err: err}
}

// Store is the durable commit sink. Merges to one (date, marketplace,
// account_id) key run read-merge-write inside a transaction on the single
// writer connection, so concurrent triples touching the same key serialize
// instead of losing updates.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertMergeSales merges rec into the stored row for its key, inserting the
// row if none exists.
func (s *Store) UpsertMergeSales(rec models.SalesRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return commitError(err)
	}
	defer tx.Rollback()

	existing, err := getSalesTx(tx, rec.Key())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return commitError(err)
	}
	if err == nil {
		rec = normalizer.MergeSales(*existing, rec)
	}

	_, err = tx.Exec(`INSERT INTO sales_metrics
		(date, marketplace, account_id, total_orders, total_revenue, net_revenue, units_sold, refunds_amount, organic_sales, promoted_sales, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date, marketplace, account_id) DO UPDATE SET
		total_orders=excluded.total_orders, total_revenue=excluded.total_revenue,
		net_revenue=excluded.net_revenue, units_sold=excluded.units_sold,
		refunds_amount=excluded.refunds_amount, organic_sales=excluded.organic_sales,
		promoted_sales=excluded.promoted_sales, updated_at=CURRENT_TIMESTAMP`,
		rec.Date, rec.Marketplace, rec.AccountID, rec.TotalOrders, rec.TotalRevenue,
		rec.NetRevenue, rec.UnitsSold, rec.RefundsAmount, rec.OrganicSales, rec.PromotedSales)
	if err != nil {
		return commitError(err)
	}
	if err := tx.Commit(); err != nil {
		return commitError(err)
	}
	return nil
}

// UpsertMergeAds mirrors UpsertMergeSales for the ads table.
func (s *Store) UpsertMergeAds(rec models.AdsRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return commitError(err)
	}
	defer tx.Rollback()

	existing, err := getAdsTx(tx, rec.Key())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return commitError(err)
	}
	if err == nil {
		rec = normalizer.MergeAds(*existing, rec)
	}

	_, err = tx.Exec(`INSERT INTO ads_metrics
		(date, marketplace, account_id, ad_spend, ad_sales, ad_orders, impressions, clicks, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date, marketplace, account_id) DO UPDATE SET
		ad_spend=excluded.ad_spend, ad_sales=excluded.ad_sales, ad_orders=excluded.ad_orders,
		impressions=excluded.impressions, clicks=excluded.clicks, updated_at=CURRENT_TIMESTAMP`,
		rec.Date, rec.Marketplace, rec.AccountID, rec.AdSpend, rec.AdSales,
		rec.AdOrders, rec.Impressions, rec.Clicks)
	if err != nil {
		return commitError(err)
	}
	if err := tx.Commit(); err != nil {
		return commitError(err)
	}
	return nil
}

// GetSalesRecord returns the stored sales row for a key, or nil when absent.
func (s *Store) GetSalesRecord(key models.MetricKey) (*models.SalesRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, commitError(err)
	}
	defer tx.Rollback()
	rec, err := getSalesTx(tx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, commitError(err)
	}
	return rec, nil
}

// GetAdsRecord returns the stored ads row for a key, or nil when absent.
func (s *Store) GetAdsRecord(key models.MetricKey) (*models.AdsRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, commitError(err)
	}
	defer tx.Rollback()
	rec, err := getAdsTx(tx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, commitError(err)
	}
	return rec, nil
}

func getSalesTx(tx *sql.Tx, key models.MetricKey) (*models.SalesRecord, error) {
	row := tx.QueryRow(`SELECT date, marketplace, account_id, total_orders, total_revenue, net_revenue, units_sold, refunds_amount, organic_sales, promoted_sales
		FROM sales_metrics WHERE date = ? AND marketplace = ? AND account_id = ?`,
		key.Date, key.Marketplace, key.AccountID)
	var rec models.SalesRecord
	err := row.Scan(&rec.Date, &rec.Marketplace, &rec.AccountID, &rec.TotalOrders, &rec.TotalRevenue,
		&rec.NetRevenue, &rec.UnitsSold, &rec.RefundsAmount, &rec.OrganicSales, &rec.PromotedSales)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func getAdsTx(tx *sql.Tx, key models.MetricKey) (*models.AdsRecord, error) {
	row := tx.QueryRow(`SELECT date, marketplace, account_id, ad_spend, ad_sales, ad_orders, impressions, clicks
		FROM ads_metrics WHERE date = ? AND marketplace = ? AND account_id = ?`,
		key.Date, key.Marketplace, key.AccountID)
	var rec models.AdsRecord
	err := row.Scan(&rec.Date, &rec.Marketplace, &rec.AccountID, &rec.AdSpend, &rec.AdSales,
		&rec.AdOrders, &rec.Impressions, &rec.Clicks)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSalesRecords returns sales rows in an inclusive ISO date range, oldest
// first.
func (s *Store) ListSalesRecords(startDate, endDate string) ([]models.SalesRecord, error) {
	rows, err := s.db.Query(`SELECT date, marketplace, account_id, total_orders, total_revenue, net_revenue, units_sold, refunds_amount, organic_sales, promoted_sales
		FROM sales_metrics WHERE date >= ? AND date <= ? ORDER BY date ASC, marketplace ASC, account_id ASC`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("error querying sales metrics: %w", err)
	}
	defer rows.Close()

	var out []models.SalesRecord
	for rows.Next() {
		var rec models.SalesRecord
		if err := rows.Scan(&rec.Date, &rec.Marketplace, &rec.AccountID, &rec.TotalOrders, &rec.TotalRevenue,
			&rec.NetRevenue, &rec.UnitsSold, &rec.RefundsAmount, &rec.OrganicSales, &rec.PromotedSales); err != nil {
			return nil, fmt.Errorf("error scanning sales metric row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAdsRecords returns ads rows in an inclusive ISO date range, oldest
// first.
func (s *Store) ListAdsRecords(startDate, endDate string) ([]models.AdsRecord, error) {
	rows, err := s.db.Query(`SELECT date, marketplace, account_id, ad_spend, ad_sales, ad_orders, impressions, clicks
		FROM ads_metrics WHERE date >= ? AND date <= ? ORDER BY date ASC, marketplace ASC, account_id ASC`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("error querying ads metrics: %w", err)
	}
	defer rows.Close()

	var out []models.AdsRecord
	for rows.Next() {
		var rec models.AdsRecord
		if err := rows.Scan(&rec.Date, &rec.Marketplace, &rec.AccountID, &rec.AdSpend, &rec.AdSales,
			&rec.AdOrders, &rec.Impressions, &rec.Clicks); err != nil {
			return nil, fmt.Errorf("error scanning ads metric row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendRunLog appends one finalized run entry. Run logs are append-only;
// a duplicate run_id is a programming defect surfaced as a CONFLICT.
func (s *Store) AppendRunLog(entry models.RunLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO run_logs
		(run_id, target_date, start_time, end_time, duration_seconds, status, reports_requested, reports_completed, rows_written, error_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.TargetDate, entry.StartTime, entry.EndTime, entry.DurationSeconds, entry.Status,
		entry.ReportsRequested, entry.ReportsCompleted, entry.RowsWritten, entry.ErrorSummary)
	if err != nil {
		return commitError(err)
	}
	return nil
}

// HasIngestedDay reports whether a prior run already wrote rows for the given
// target day. Commits merge additively, so a day with committed rows must not
// be ingested again.
func (s *Store) HasIngestedDay(day string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM run_logs WHERE target_date = ? AND rows_written > 0`, day).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error checking run history for %s: %w", day, err)
	}
	return n > 0, nil
}

// ListRunLogs returns the most recent run entries, newest first.
func (s *Store) ListRunLogs(limit int) ([]models.RunLogEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(`SELECT run_id, target_date, start_time, end_time, duration_seconds, status, reports_requested, reports_completed, rows_written, COALESCE(error_summary, '')
		FROM run_logs ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying run logs: %w", err)
	}
	defer rows.Close()

	var out []models.RunLogEntry
	for rows.Next() {
		var entry models.RunLogEntry
		if err := rows.Scan(&entry.RunID, &entry.TargetDate, &entry.StartTime, &entry.EndTime, &entry.DurationSeconds, &entry.Status,
			&entry.ReportsRequested, &entry.ReportsCompleted, &entry.RowsWritten, &entry.ErrorSummary); err != nil {
			return nil, fmt.Errorf("error scanning run log row: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// InsertAnomalies stores validator findings for a run.
func (s *Store) InsertAnomalies(runID string, anomalies []models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	stmt, err := s.db.Prepare(`INSERT INTO anomalies (run_id, record_kind, date, marketplace, account_id, code, field, value, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return commitError(err)
	}
	defer stmt.Close()
	for _, a := range anomalies {
		if _, err := stmt.Exec(runID, a.RecordKind, a.Date, a.Marketplace, a.AccountID, a.Code, a.Field, a.Value, a.Detail); err != nil {
			return commitError(err)
		}
	}
	return nil
}

// ListAnomalies returns the findings recorded by one run.
func (s *Store) ListAnomalies(runID string) ([]models.Anomaly, error) {
	rows, err := s.db.Query(`SELECT run_id, record_kind, date, marketplace, account_id, code, COALESCE(field, ''), COALESCE(value, 0), detail
		FROM anomalies WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("error querying anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.RunID, &a.RecordKind, &a.Date, &a.Marketplace, &a.AccountID, &a.Code, &a.Field, &a.Value, &a.Detail); err != nil {
			return nil, fmt.Errorf("error scanning anomaly row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
