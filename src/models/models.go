package models

import "time"

// MetricKey identifies one day of metrics for one account on one marketplace.
// Both SalesRecord and AdsRecord are unique per key.
type MetricKey struct {
	Date        string // ISO calendar day, "2006-01-02"
	Marketplace string
	AccountID   string
}

// SalesRecord is the canonical daily sales row. Derived values (average order
// value, refund rate) are not stored; the kpi package computes them on read.
type SalesRecord struct {
	Date          string  `json:"date"`
	Marketplace   string  `json:"marketplace"`
	AccountID     string  `json:"account_id"`
	TotalOrders   int64   `json:"total_orders"`
	TotalRevenue  float64 `json:"total_revenue"`
	NetRevenue    float64 `json:"net_revenue"`
	UnitsSold     int64   `json:"units_sold"`
	RefundsAmount float64 `json:"refunds_amount"`
	OrganicSales  float64 `json:"organic_sales"`
	PromotedSales float64 `json:"promoted_sales"`
}

func (r SalesRecord) Key() MetricKey {
	return MetricKey{Date: r.Date, Marketplace: r.Marketplace, AccountID: r.AccountID}
}

// AdsRecord is the canonical daily advertising row, same uniqueness rule as
// SalesRecord.
type AdsRecord struct {
	Date        string  `json:"date"`
	Marketplace string  `json:"marketplace"`
	AccountID   string  `json:"account_id"`
	AdSpend     float64 `json:"ad_spend"`
	AdSales     float64 `json:"ad_sales"`
	AdOrders    int64   `json:"ad_orders"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
}

func (r AdsRecord) Key() MetricKey {
	return MetricKey{Date: r.Date, Marketplace: r.Marketplace, AccountID: r.AccountID}
}

// SalesMetric is the read-side shape the dashboard consumes: the stored
// SalesRecord plus the KPIs computed for it.
type SalesMetric struct {
	SalesRecord
	AvgOrderValue float64 `json:"avg_order_value"`
	RefundRate    float64 `json:"refund_rate"`
}

// AdsMetric is the read-side shape for advertising rows. Tacos needs the
// paired SalesRecord for the same key; when none exists it stays nil and is
// omitted from the payload.
type AdsMetric struct {
	AdsRecord
	CTR            float64  `json:"ctr"`
	CPC            float64  `json:"cpc"`
	ACOS           float64  `json:"acos"`
	TACOS          *float64 `json:"tacos,omitempty"`
	ROAS           float64  `json:"roas"`
	ConversionRate float64  `json:"conversion_rate"`
}

// Run statuses, derived from reportsCompleted vs reportsRequested.
const (
	RunStatusSuccess = "SUCCESS"
	RunStatusPartial = "PARTIAL"
	RunStatusFailed  = "FAILED"
)

// RunLogEntry is the bookkeeping record for one orchestrator execution.
// Created when the run starts, finalized exactly once when it ends, then
// append-only in the run_logs table.
type RunLogEntry struct {
	RunID            string    `json:"run_id"`
	TargetDate       string    `json:"target_date"` // ISO day the run ingested
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationSeconds  int64     `json:"duration_seconds"`
	Status           string    `json:"status"`
	ReportsRequested int       `json:"reports_requested"`
	ReportsCompleted int       `json:"reports_completed"`
	RowsWritten      int64     `json:"rows_written"`
	ErrorSummary     string    `json:"errors,omitempty"`
}

// DeriveRunStatus maps completion counts onto the run status.
// FAILED iff nothing completed, SUCCESS iff everything did.
func DeriveRunStatus(requested, completed int) string {
	switch {
	case completed == 0:
		return RunStatusFailed
	case completed < requested:
		return RunStatusPartial
	default:
		return RunStatusSuccess
	}
}

// Anomaly is a validator finding. Anomalies never block storage; they attach
// to the committed record for downstream review.
type Anomaly struct {
	RunID       string  `json:"run_id,omitempty"`
	RecordKind  string  `json:"record_kind"` // "sales" or "ads"
	Date        string  `json:"date"`
	Marketplace string  `json:"marketplace"`
	AccountID   string  `json:"account_id"`
	Code        string  `json:"code"`
	Field       string  `json:"field,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Detail      string  `json:"detail"`
}
