package utils

import "time"

// ISODateFormat is the calendar-day layout used across the pipeline
// ("2025-08-31"). It is also the wire format the dashboard consumes.
const ISODateFormat = "2006-01-02"

// ParseISODate parses an ISO calendar day.
func ParseISODate(dateStr string) (time.Time, error) {
	return time.Parse(ISODateFormat, dateStr)
}

// PreviousDay returns the ISO day immediately before the given ISO day.
// Returns an empty string if the input does not parse.
func PreviousDay(dateStr string) string {
	t, err := time.Parse(ISODateFormat, dateStr)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(ISODateFormat)
}
