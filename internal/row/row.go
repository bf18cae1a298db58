// Package row defines the fixed 23-column audit CSV layout emitted by the
// database's logging collector, and the conversions needed to turn a raw
// CSV record into typed fields.
package row

import (
	"fmt"
	"strconv"
	"strings"
)

// NumFields is the number of columns in a top-level audit log CSV record.
const NumFields = 23

// Column indices, in the order documented by the logging collector.
const (
	ColLogTime = iota
	ColUserName
	ColDatabaseName
	ColProcessID
	ColConnectionFrom
	ColSessionID
	ColSessionLineNum
	ColCommandTag
	ColSessionStartTime
	ColVirtualTransactionID
	ColTransactionID
	ColErrorSeverity
	ColSQLStateCode
	ColMessage
	ColDetail
	ColHint
	ColInternalQuery
	ColInternalQueryPos
	ColContext
	ColQuery
	ColQueryPos
	ColLocation
	ColApplicationName
)

// Row is one parsed audit log line. Fields that were absent in the source
// CSV are the zero value of their Go type. Database name, connection
// origin, message and application name also carry a companion Valid flag
// recording whether the reader returned the field as absent (nil).
type Row struct {
	LogTime              string
	UserName             string
	DatabaseName         string
	DatabaseNameValid    bool
	ProcessID            string
	ConnectionFrom       string
	ConnectionFromValid  bool
	SessionID            string
	SessionLineNum       int64
	CommandTag           string
	SessionStartTime     string
	VirtualTransactionID string
	TransactionID        string
	ErrorSeverity        string
	SQLStateCode         string
	Message              string
	MessageValid         bool
	Detail               string
	Hint                 string
	InternalQuery        string
	InternalQueryPos     string
	Context              string
	Query                string
	QueryPos             string
	Location             string
	ApplicationName      string
	ApplicationNameValid bool
}

// FromRecord builds a Row from a raw CSV record as produced by the reader
// package. fields[i] is nil when the corresponding column was absent.
func FromRecord(fields []*string) (Row, error) {
	if len(fields) != NumFields {
		return Row{}, fmt.Errorf("row: expected %d fields, got %d", NumFields, len(fields))
	}

	get := func(i int) string {
		if fields[i] == nil {
			return ""
		}
		return *fields[i]
	}

	lineNum, err := strconv.ParseInt(strings.TrimSpace(get(ColSessionLineNum)), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("row: invalid session_line_num %q: %w", get(ColSessionLineNum), err)
	}

	r := Row{
		LogTime:              get(ColLogTime),
		UserName:             get(ColUserName),
		DatabaseName:         get(ColDatabaseName),
		DatabaseNameValid:    fields[ColDatabaseName] != nil,
		ProcessID:            get(ColProcessID),
		ConnectionFrom:       get(ColConnectionFrom),
		ConnectionFromValid:  fields[ColConnectionFrom] != nil,
		SessionID:            get(ColSessionID),
		SessionLineNum:       lineNum,
		CommandTag:           get(ColCommandTag),
		SessionStartTime:     get(ColSessionStartTime),
		VirtualTransactionID: get(ColVirtualTransactionID),
		TransactionID:        get(ColTransactionID),
		ErrorSeverity:        get(ColErrorSeverity),
		SQLStateCode:         get(ColSQLStateCode),
		Message:              get(ColMessage),
		MessageValid:         fields[ColMessage] != nil,
		Detail:               get(ColDetail),
		Hint:                 get(ColHint),
		InternalQuery:        get(ColInternalQuery),
		InternalQueryPos:     get(ColInternalQueryPos),
		Context:              get(ColContext),
		Query:                get(ColQuery),
		QueryPos:             get(ColQueryPos),
		Location:             get(ColLocation),
		ApplicationName:      get(ColApplicationName),
		ApplicationNameValid: fields[ColApplicationName] != nil,
	}
	return r, nil
}

// ApplicationNameOrDefault returns the row's application name, substituting
// "[unknown]" when absent.
func (r Row) ApplicationNameOrDefault() string {
	if !r.ApplicationNameValid || r.ApplicationName == "" {
		return "[unknown]"
	}
	return r.ApplicationName
}

// ConnectionFromOrDefault returns the row's connection origin, substituting
// "[unknown]" when absent.
func (r Row) ConnectionFromOrDefault() string {
	if !r.ConnectionFromValid || r.ConnectionFrom == "" {
		return "[unknown]"
	}
	return r.ConnectionFrom
}

// IsAuthenticationFatal reports whether this row is the authentication-fatal
// event that marks a new session as errored from birth.
func (r Row) IsAuthenticationFatal() bool {
	return strings.EqualFold(r.CommandTag, "authentication") && strings.EqualFold(r.ErrorSeverity, "fatal")
}

// IsErrorSeverity reports whether the row's error_severity should trigger
// the audit-statement error update: error, fatal, or panic.
func (r Row) IsErrorSeverity() bool {
	switch strings.ToLower(r.ErrorSeverity) {
	case "error", "fatal", "panic":
		return true
	default:
		return false
	}
}
