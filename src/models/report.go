package models

import "time"

// Report poll states as surfaced by the platform status endpoints.
type PollState string

const (
	PollInProgress PollState = "IN_PROGRESS"
	PollDone       PollState = "DONE"
	PollCancelled  PollState = "CANCELLED"
	PollError      PollState = "ERROR"
)

// RawReportHandle tracks one asynchronous report request from acceptance until
// the bytes are downloaded or the request permanently fails. The fetcher's
// poll loop mutates PollState and Attempts; the handle is discarded afterwards.
type RawReportHandle struct {
	PlatformID  string
	AccountID   string
	ReportType  string
	ReportID    string // platform-assigned id used for polling
	RequestedAt time.Time
	PollState   PollState
	Attempts    int
	DownloadRef string // URL or document id, set once PollState is DONE
	Format      string // declared content type/encoding, may be empty
}

// UntypedRecord is one decoded source row: column name to raw string, with
// the source column order preserved.
type UntypedRecord struct {
	Columns []string
	Values  map[string]string
}

// Get returns the raw value for a column and whether the column was present.
func (r UntypedRecord) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// DateRange is the inclusive day span a report is requested for.
type DateRange struct {
	Start string // "2006-01-02"
	End   string
}
