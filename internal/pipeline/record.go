// Package pipeline implements the data-processing core for plant telemetry:
// CSV parsing with metadata-header handling and deduplication, time-range
// filtering, outlier detection and correction, and daily/weekly aggregation.
//
// Every function in this package is a total function over in-memory record
// sequences: malformed or empty input degrades to empty/zero results, it is
// never surfaced as an error.
package pipeline

import (
	"strings"
	"time"
)

// Record is one timestamped sensor sample. Fields is an open map of
// normalized sensor names to values produced by typed-value inference
// (float64, bool, or string); the set of variables is not fixed.
type Record struct {
	Time   string
	Fields map[string]any
}

// Numeric returns the value of field as a float64 and whether the field
// exists with a numeric value.
func (r Record) Numeric(field string) (float64, bool) {
	v, ok := r.Fields[field].(float64)
	return v, ok
}

// NumericOr returns the numeric value of field, or def when the field is
// missing or non-numeric.
func (r Record) NumericOr(field string, def float64) float64 {
	if v, ok := r.Numeric(field); ok {
		return v
	}
	return def
}

// DateToken returns the date portion of the timestamp, i.e. everything
// before the first space. A timestamp without a time-of-day part is returned
// whole.
func (r Record) DateToken() string {
	if i := strings.IndexByte(r.Time, ' '); i >= 0 {
		return r.Time[:i]
	}
	return r.Time
}

// Clone returns a copy of the record with its own field map.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{Time: r.Time, Fields: fields}
}

var timestampLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006",
	"2006-01-02",
}

// ParseTimestamp parses a record timestamp in any of the formats the plant
// exports use (DD/MM/YYYY or ISO dates, with or without seconds).
func ParseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortableDate rewrites a DD/MM/YYYY date token into YYYY-MM-DD so that
// string comparison orders tokens like the calendar does. Tokens already in
// a sortable form (or unrecognized) are returned unchanged.
func sortableDate(token string) string {
	parts := strings.Split(token, "/")
	if len(parts) != 3 {
		return token
	}
	day, month, year := parts[0], parts[1], parts[2]
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return year + "-" + month + "-" + day
}
