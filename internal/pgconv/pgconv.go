// Package pgconv converts the raw string fields produced by row.FromRecord
// into the typed values the gateway statements expect, the way
// internal/core/convert.go converts raw CSV cells into pgtype values.
package pgconv

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are the log_line_prefix timestamp formats the collector
// is known to emit, tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.000 MST",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.000-07",
	"2006-01-02 15:04:05-07",
}

// Timestamp parses a log timestamp column into time.Time. Returns the zero
// time and ok=false for an absent or unparseable value; the caller decides
// whether that is fatal for the column in question.
func Timestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Text returns a *string for use as a nullable query argument: nil when
// valid is false or s is empty, otherwise a pointer to s.
func Text(s string, valid bool) *string {
	if !valid || s == "" {
		return nil
	}
	return &s
}

// Int4 parses s as a base-10 int32. Returns ok=false for an absent or
// unparseable value.
func Int4(s string) (v int32, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// Int8 parses s as a base-10 int64. Returns ok=false for an absent or
// unparseable value.
func Int8(s string) (v int64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Int4OrZero is Int4 with the absent/unparseable case collapsed to 0, for
// columns (like query_pos) where zero and absent are not distinguished
// downstream.
func Int4OrZero(s string) int32 {
	v, _ := Int4(s)
	return v
}

// MustTimestamp parses s and returns an error instead of a silent zero
// value, for columns where an unparseable timestamp indicates malformed
// input rather than a legitimately absent one.
func MustTimestamp(s string) (time.Time, error) {
	t, ok := Timestamp(s)
	if !ok {
		return time.Time{}, fmt.Errorf("pgconv: invalid timestamp %q", s)
	}
	return t, nil
}
