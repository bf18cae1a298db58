package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// statements holds the schema-qualified SQL text for every gateway
// operation, built once per database handle and reused verbatim so pgx's
// per-connection statement cache keys on a stable string.
type statements struct {
	schema string

	sessionSelect       string
	sessionInsert        string
	sessionUpdate        string
	logonSelect          string
	logonInsert          string
	logonUpdate          string
	logInsert            string
	auditStmtInsert      string
	auditStmtErrorUpdate string
	auditSubstmtInsert   string
	auditSubstmtDetail   string
}

func newStatements(schema string) statements {
	q := pgx.Identifier{schema}.Sanitize()
	return statements{
		schema: schema,

		// session carries no high-water-mark columns of its own; they are
		// recovered as the max session_line_num/statement_id/substatement_id
		// ever written for this session, defaulting to 0 when nothing has been
		// written yet (a session row with no log_event/audit_statement/
		// audit_substatement rows, i.e. the very first line after restart).
		sessionSelect: fmt.Sprintf(
			`SELECT s.application_name, s.state,
			        COALESCE((SELECT MAX(session_line_num) FROM %s.log_event WHERE session_id = $1), 0),
			        COALESCE((SELECT MAX(statement_id) FROM %s.audit_statement WHERE session_id = $1), 0),
			        COALESCE((SELECT MAX(substatement_id) FROM %s.audit_substatement WHERE session_id = $1), 0)
			 FROM %s.session s WHERE s.session_id = $1`, q, q, q, q),

		sessionInsert: fmt.Sprintf(
			`INSERT INTO %s.session
			 (session_id, process_id, session_start_time, user_name, application_name, connection_from, state)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`, q),

		sessionUpdate: fmt.Sprintf(
			`UPDATE %s.session SET application_name = $1 WHERE session_id = $2`, q),

		logonSelect: fmt.Sprintf(
			`SELECT last_success, current_success, last_failure, failures_since_last_success
			 FROM %s.logon WHERE user_name = $1`, q),

		logonInsert: fmt.Sprintf(
			`INSERT INTO %s.logon (user_name, last_success, current_success, last_failure, failures_since_last_success)
			 VALUES ($1, $2, $3, $4, $5)`, q),

		logonUpdate: fmt.Sprintf(
			`UPDATE %s.logon
			 SET last_success = $1, current_success = $2, last_failure = $3, failures_since_last_success = $4
			 WHERE user_name = $5`, q),

		logInsert: fmt.Sprintf(
			`INSERT INTO %s.log_event
			 (session_id, log_time, session_line_num, command, error_severity, sql_state_code,
			  virtual_transaction_id, transaction_id, message, detail, hint, query, query_pos,
			  internal_query, internal_query_pos, context, location)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, q),

		auditStmtInsert: fmt.Sprintf(
			`INSERT INTO %s.audit_statement (session_id, statement_id) VALUES ($1, $2)`, q),

		// The tool this daemon is modeled on hardcodes the literal schema
		// name "pgaudit" in this one statement regardless of the computed
		// schema, so a logging-server deployment with a per-source schema
		// silently updates (or fails against) the wrong namespace. That is
		// corrected here by splicing in the same computed schema as every
		// other statement.
		auditStmtErrorUpdate: fmt.Sprintf(
			`UPDATE %s.audit_statement SET state = 'error', error_session_line_num = $1
			 WHERE session_id = $2 AND statement_id IN (
			   SELECT DISTINCT statement_id FROM %s.audit_substatement_detail
			   WHERE session_id = $2 AND session_line_num IN (
			     SELECT session_line_num FROM %s.log_event
			     WHERE session_id = $2 AND virtual_transaction_id = $3
			   )
			 )`, q, q, q),

		auditSubstmtInsert: fmt.Sprintf(
			`INSERT INTO %s.audit_substatement (session_id, statement_id, substatement_id, substatement, parameter)
			 VALUES ($1, $2, $3, $4, $5)`, q),

		auditSubstmtDetail: fmt.Sprintf(
			`INSERT INTO %s.audit_substatement_detail
			 (session_id, statement_id, substatement_id, session_line_num, audit_type, class, command, object_type, object_name)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, q),
	}
}

// SessionRow is the result of SessionSelect.
type SessionRow struct {
	ApplicationName string
	State           string
	SessionLineNum  int64
	StatementID     int64
	SubstatementID  int64
}

// SessionSelect fetches the cached high-water marks for sessionID.
// Returns found=false when no row exists yet.
func (d *DB) SessionSelect(ctx context.Context, sessionID string) (row SessionRow, found bool, err error) {
	err = d.q.QueryRow(ctx, d.stmts.sessionSelect, sessionID).Scan(
		&row.ApplicationName, &row.State, &row.SessionLineNum, &row.StatementID, &row.SubstatementID,
	)
	if err == pgx.ErrNoRows {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, err
	}
	return row, true, nil
}

// SessionInsert creates a new session row.
func (d *DB) SessionInsert(ctx context.Context, sessionID string, processID int32, sessionStartTime any, userName, applicationName, connectionFrom, state string) error {
	_, err := d.q.Exec(ctx, d.stmts.sessionInsert,
		sessionID, processID, sessionStartTime, userName, applicationName, connectionFrom, state)
	return err
}

// SessionUpdate refreshes application_name for an existing session.
func (d *DB) SessionUpdate(ctx context.Context, applicationName, sessionID string) error {
	_, err := d.q.Exec(ctx, d.stmts.sessionUpdate, applicationName, sessionID)
	return err
}

// LogonRow is the result of LogonSelect.
type LogonRow struct {
	LastSuccess           any
	CurrentSuccess        any
	LastFailure           any
	FailuresSinceLastSucc int32
}

// LogonSelect fetches the current logon history row for userName.
func (d *DB) LogonSelect(ctx context.Context, userName string) (row LogonRow, found bool, err error) {
	err = d.q.QueryRow(ctx, d.stmts.logonSelect, userName).Scan(
		&row.LastSuccess, &row.CurrentSuccess, &row.LastFailure, &row.FailuresSinceLastSucc,
	)
	if err == pgx.ErrNoRows {
		return LogonRow{}, false, nil
	}
	if err != nil {
		return LogonRow{}, false, err
	}
	return row, true, nil
}

// LogonInsert creates the first logon history row for userName.
func (d *DB) LogonInsert(ctx context.Context, userName string, lastSuccess, currentSuccess, lastFailure any, failures int32) error {
	_, err := d.q.Exec(ctx, d.stmts.logonInsert, userName, lastSuccess, currentSuccess, lastFailure, failures)
	return err
}

// LogonUpdate applies a transition to an existing logon history row.
func (d *DB) LogonUpdate(ctx context.Context, lastSuccess, currentSuccess, lastFailure any, failures int32, userName string) error {
	_, err := d.q.Exec(ctx, d.stmts.logonUpdate, lastSuccess, currentSuccess, lastFailure, failures, userName)
	return err
}

// LogEventRow carries the 17 columns of a single log_event insert.
type LogEventRow struct {
	SessionID            string
	LogTime              any
	SessionLineNum       int64
	Command              string
	ErrorSeverity        string
	SQLStateCode         string
	VirtualTransactionID string
	TransactionID         int64
	Message              *string
	Detail               *string
	Hint                 *string
	Query                *string
	QueryPos             *int32
	InternalQuery        *string
	InternalQueryPos     *int32
	Context              *string
	Location             *string
}

// LogInsert writes one log_event row.
func (d *DB) LogInsert(ctx context.Context, r LogEventRow) error {
	_, err := d.q.Exec(ctx, d.stmts.logInsert,
		r.SessionID, r.LogTime, r.SessionLineNum, r.Command, r.ErrorSeverity, r.SQLStateCode,
		r.VirtualTransactionID, r.TransactionID, r.Message, r.Detail, r.Hint, r.Query, r.QueryPos,
		r.InternalQuery, r.InternalQueryPos, r.Context, r.Location,
	)
	return err
}

// AuditStmtInsert creates a new audit_statement parent row.
func (d *DB) AuditStmtInsert(ctx context.Context, sessionID string, statementID int64) error {
	_, err := d.q.Exec(ctx, d.stmts.auditStmtInsert, sessionID, statementID)
	return err
}

// AuditStmtErrorUpdate marks every statement in sessionID whose substatements
// executed under virtualTxID as failed at sessionLineNum.
func (d *DB) AuditStmtErrorUpdate(ctx context.Context, sessionLineNum int64, sessionID, virtualTxID string) error {
	_, err := d.q.Exec(ctx, d.stmts.auditStmtErrorUpdate, sessionLineNum, sessionID, virtualTxID)
	return err
}

// AuditSubstmtInsert creates a new audit_substatement row. parameter is nil
// when the parameter is absent or the literal <none>; otherwise it is bound
// as a one-element collection literal, matching the column's storage of the
// raw parameter string wrapped in a single-element array rather than as a
// bare scalar.
func (d *DB) AuditSubstmtInsert(ctx context.Context, sessionID string, statementID, substatementID int64, substatement string, parameter *string) error {
	var param any
	if parameter != nil {
		param = []string{*parameter}
	}
	_, err := d.q.Exec(ctx, d.stmts.auditSubstmtInsert, sessionID, statementID, substatementID, substatement, param)
	return err
}

// AuditSubstmtDetail carries one audit_substatement_detail row.
type AuditSubstmtDetail struct {
	SessionID      string
	StatementID    int64
	SubstatementID int64
	SessionLineNum int64
	AuditType      string
	Class          string
	Command        string
	ObjectType     string
	ObjectName     string
}

// AuditSubstmtDetailInsert writes one detail row. Enumeration-like fields
// must already be lower-cased by the caller.
func (d *DB) AuditSubstmtDetailInsert(ctx context.Context, r AuditSubstmtDetail) error {
	_, err := d.q.Exec(ctx, d.stmts.auditSubstmtDetail,
		r.SessionID, r.StatementID, r.SubstatementID, r.SessionLineNum,
		r.AuditType, r.Class, r.Command, r.ObjectType, r.ObjectName,
	)
	return err
}
