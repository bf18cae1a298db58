// Package session implements the per-session state cache and state
// machine, the logon history updater, and the log-event and audit writers
// that gate writes on it.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgaudit/pgauditd/internal/auditmsg"
	"github.com/pgaudit/pgauditd/internal/gateway"
	"github.com/pgaudit/pgauditd/internal/pgconv"
	"github.com/pgaudit/pgauditd/internal/row"
)

const (
	stateOK    = "ok"
	stateError = "error"
)

// State is the in-memory high-water-mark record for one session.
type State struct {
	ApplicationName string
	SessionState    string
	SessionLineNum  int64
	StatementID     int64
	SubstatementID  int64
}

// Cache is the set of session states for one database. It belongs to a
// single ingest loop and is never accessed concurrently.
type Cache struct {
	sessions map[string]*State
}

// NewCache returns an empty session cache.
func NewCache() *Cache {
	return &Cache{sessions: make(map[string]*State)}
}

// Reset discards all cached session state. The ingest loop's cache-wide
// reset does not call it; it replaces its Cache values with new ones.
func (c *Cache) Reset() {
	c.sessions = make(map[string]*State)
}

// Ensure returns the cached state for r's session, seeding it from the
// database (resumed session) or creating it (new session) if this is the
// first time this process has seen the session id.
func Ensure(ctx context.Context, db *gateway.DB, cache *Cache, r row.Row) (*State, error) {
	if s, ok := cache.sessions[r.SessionID]; ok {
		return s, nil
	}

	selected, found, err := db.SessionSelect(ctx, r.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session: select %s: %w", r.SessionID, err)
	}
	if found {
		// Resumed session: prior ingest progress recovered after restart.
		s := &State{
			ApplicationName: selected.ApplicationName,
			SessionState:    selected.State,
			SessionLineNum:  selected.SessionLineNum,
			StatementID:     selected.StatementID,
			SubstatementID:  selected.SubstatementID,
		}
		cache.sessions[r.SessionID] = s
		return s, nil
	}

	// New session.
	state := stateOK
	if r.IsAuthenticationFatal() {
		state = stateError
	}
	applicationName := r.ApplicationNameOrDefault()
	connectionFrom := r.ConnectionFromOrDefault()

	processID, _ := pgconv.Int4(r.ProcessID)
	sessionStart, startErr := pgconv.MustTimestamp(r.SessionStartTime)
	if startErr != nil {
		return nil, fmt.Errorf("session: new session %s: %w", r.SessionID, startErr)
	}

	if err := db.SessionInsert(ctx, r.SessionID, processID, sessionStart, r.UserName, applicationName, connectionFrom, state); err != nil {
		return nil, fmt.Errorf("session: insert %s: %w", r.SessionID, err)
	}

	if err := updateLogon(ctx, db, r.UserName, sessionStart, state); err != nil {
		return nil, fmt.Errorf("session: logon update for %s: %w", r.UserName, err)
	}

	s := &State{ApplicationName: applicationName, SessionState: state}
	cache.sessions[r.SessionID] = s
	return s, nil
}

// Advance applies the "advance step": when the row's application name
// differs from the cached one and the row is itself past the cached
// session_line_num, the new name is persisted and the cache refreshed. The
// last application name observed wins, by design.
func Advance(ctx context.Context, db *gateway.DB, s *State, r row.Row) error {
	if r.SessionLineNum <= s.SessionLineNum {
		return nil
	}
	name := r.ApplicationNameOrDefault()
	if name == s.ApplicationName {
		return nil
	}
	if err := db.SessionUpdate(ctx, name, r.SessionID); err != nil {
		return fmt.Errorf("session: update application_name for %s: %w", r.SessionID, err)
	}
	s.ApplicationName = name
	return nil
}

// Gated reports whether r should be written: the central monotonicity gate
// true iff r's session_line_num strictly exceeds the cached value.
func Gated(s *State, r row.Row) bool {
	return r.SessionLineNum > s.SessionLineNum
}

// updateLogon applies the logon history transition table for a new session.
func updateLogon(ctx context.Context, db *gateway.DB, userName string, sessionStart any, state string) error {
	current, found, err := db.LogonSelect(ctx, userName)
	if err != nil {
		return err
	}

	if !found {
		if state == stateOK {
			return db.LogonInsert(ctx, userName, nil, sessionStart, nil, 0)
		}
		return db.LogonInsert(ctx, userName, nil, nil, sessionStart, 1)
	}

	if state == stateOK {
		lastSuccess := current.LastSuccess
		if current.CurrentSuccess != nil {
			lastSuccess = current.CurrentSuccess
		}
		return db.LogonUpdate(ctx, lastSuccess, sessionStart, nil, 0, userName)
	}

	failures := current.FailuresSinceLastSucc + 1
	return db.LogonUpdate(ctx, current.LastSuccess, current.CurrentSuccess, sessionStart, failures, userName)
}

// WriteLogEvent routes an embedded audit payload to the audit writer, nulls
// out the message on the log_event row, inserts it, and advances the
// session's cached session_line_num. Must only be called once Gated(s, r)
// is true.
func WriteLogEvent(ctx context.Context, db *gateway.DB, s *State, r row.Row) error {
	message := pgconv.Text(r.Message, r.MessageValid)

	if r.MessageValid && auditmsg.HasPrefix(r.Message) {
		if err := writeAudit(ctx, db, s, r); err != nil {
			return fmt.Errorf("session: audit writer for %s line %d: %w", r.SessionID, r.SessionLineNum, err)
		}
		message = nil
	}

	logTime, err := pgconv.MustTimestamp(r.LogTime)
	if err != nil {
		return fmt.Errorf("session: log_event %s line %d: %w", r.SessionID, r.SessionLineNum, err)
	}
	transactionID, _ := pgconv.Int8(r.TransactionID)
	queryPos := pgconv.Int4OrZero(r.QueryPos)
	internalQueryPos := pgconv.Int4OrZero(r.InternalQueryPos)

	event := gateway.LogEventRow{
		SessionID:            r.SessionID,
		LogTime:              logTime,
		SessionLineNum:       r.SessionLineNum,
		Command:              r.CommandTag,
		ErrorSeverity:        r.ErrorSeverity,
		SQLStateCode:         r.SQLStateCode,
		VirtualTransactionID: r.VirtualTransactionID,
		TransactionID:        transactionID,
		Message:              message,
		Detail:               pgconv.Text(r.Detail, r.Detail != ""),
		Hint:                 pgconv.Text(r.Hint, r.Hint != ""),
		Query:                pgconv.Text(r.Query, r.Query != ""),
		QueryPos:             &queryPos,
		InternalQuery:        pgconv.Text(r.InternalQuery, r.InternalQuery != ""),
		InternalQueryPos:     &internalQueryPos,
		Context:              pgconv.Text(r.Context, r.Context != ""),
		Location:             pgconv.Text(r.Location, r.Location != ""),
	}
	if err := db.LogInsert(ctx, event); err != nil {
		return fmt.Errorf("session: insert log_event %s line %d: %w", r.SessionID, r.SessionLineNum, err)
	}
	s.SessionLineNum = r.SessionLineNum

	if r.IsErrorSeverity() {
		if err := db.AuditStmtErrorUpdate(ctx, r.SessionLineNum, r.SessionID, r.VirtualTransactionID); err != nil {
			return fmt.Errorf("session: audit_stmt_error_update %s line %d: %w", r.SessionID, r.SessionLineNum, err)
		}
	}
	return nil
}

// writeAudit applies three-way gating on statement_id,
// substatement_id, and session_line_num against the session cache.
func writeAudit(ctx context.Context, db *gateway.DB, s *State, r row.Row) error {
	msg, err := auditmsg.Parse(r.Message)
	if err != nil {
		return err
	}

	if msg.StatementID > s.StatementID {
		if err := db.AuditStmtInsert(ctx, r.SessionID, msg.StatementID); err != nil {
			return fmt.Errorf("insert audit_statement: %w", err)
		}
		s.StatementID = msg.StatementID
		s.SubstatementID = 0
	}

	if msg.StatementID == s.StatementID && msg.SubstatementID > s.SubstatementID {
		var parameter *string
		if msg.HasParameter {
			parameter = &msg.Parameter
		}
		if err := db.AuditSubstmtInsert(ctx, r.SessionID, msg.StatementID, msg.SubstatementID, msg.Statement, parameter); err != nil {
			return fmt.Errorf("insert audit_substatement: %w", err)
		}
		s.SubstatementID = msg.SubstatementID
	}

	if r.SessionLineNum > s.SessionLineNum {
		detail := gateway.AuditSubstmtDetail{
			SessionID:      r.SessionID,
			StatementID:    msg.StatementID,
			SubstatementID: msg.SubstatementID,
			SessionLineNum: r.SessionLineNum,
			AuditType:      strings.ToLower(msg.AuditType),
			Class:          strings.ToLower(msg.Class),
			Command:        strings.ToLower(msg.Command),
			ObjectType:     strings.ToLower(msg.ObjectType),
			ObjectName:     strings.ToLower(msg.ObjectName),
		}
		if err := db.AuditSubstmtDetailInsert(ctx, detail); err != nil {
			return fmt.Errorf("insert audit_substatement_detail: %w", err)
		}
	}

	return nil
}
