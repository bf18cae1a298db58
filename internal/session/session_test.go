package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgaudit/pgauditd/internal/gateway"
	"github.com/pgaudit/pgauditd/internal/row"
)

// fakeQuerier is an in-memory gateway.Querier stand-in: QueryRow responses
// are keyed by a substring of the target table name, and every Exec call is
// recorded for assertions.
type fakeQuerier struct {
	sessionRow fakeRow
	logonRow   fakeRow

	execs []execCall
}

type execCall struct {
	sql  string
	args []any
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeQuerier: Query not implemented")
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, ".session") {
		return f.sessionRow
	}
	return f.logonRow
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *int64:
			*v = r.values[i].(int64)
		case *int32:
			*v = r.values[i].(int32)
		case *any:
			*v = r.values[i]
		default:
			return errors.New("fakeRow: unsupported scan target")
		}
	}
	return nil
}

func newRow(t *testing.T, sessionID, userName, commandTag, errorSeverity, sessionStart string, lineNum int64) row.Row {
	t.Helper()
	fields := make([]*string, row.NumFields)
	set := func(i int, v string) { fields[i] = &v }
	set(row.ColLogTime, "2024-01-01 00:00:00.000 UTC")
	set(row.ColUserName, userName)
	set(row.ColDatabaseName, "appdb")
	set(row.ColProcessID, "100")
	set(row.ColConnectionFrom, "127.0.0.1")
	set(row.ColSessionID, sessionID)
	fields[row.ColSessionLineNum] = strPtr(itoa(lineNum))
	set(row.ColCommandTag, commandTag)
	set(row.ColSessionStartTime, sessionStart)
	set(row.ColVirtualTransactionID, "1/1")
	set(row.ColTransactionID, "0")
	set(row.ColErrorSeverity, errorSeverity)
	set(row.ColSQLStateCode, "00000")
	set(row.ColMessage, "connection authorized")
	set(row.ColDetail, "")
	set(row.ColHint, "")
	set(row.ColInternalQuery, "")
	set(row.ColInternalQueryPos, "")
	set(row.ColContext, "")
	set(row.ColQuery, "")
	set(row.ColQueryPos, "")
	set(row.ColLocation, "")
	set(row.ColApplicationName, "psql")

	r, err := row.FromRecord(fields)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	return r
}

func strPtr(s string) *string { return &s }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestEnsure_NewSessionOK(t *testing.T) {
	q := &fakeQuerier{
		sessionRow: fakeRow{err: pgx.ErrNoRows},
		logonRow:   fakeRow{err: pgx.ErrNoRows},
	}
	db := gateway.NewTestDB("pgaudit", q)
	cache := NewCache()
	r := newRow(t, "s1", "alice", "authentication", "log", "2024-01-01 00:00:00.000 UTC", 1)

	s, err := Ensure(context.Background(), db, cache, r)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s.SessionState != stateOK {
		t.Fatalf("state = %q, want ok", s.SessionState)
	}

	// Second reference to the same session must not hit the database again.
	q.sessionRow = fakeRow{err: errors.New("should not be queried twice")}
	if _, err := Ensure(context.Background(), db, cache, r); err != nil {
		t.Fatalf("Ensure (cached): %v", err)
	}
}

func TestEnsure_NewSessionAuthenticationFatalIsError(t *testing.T) {
	q := &fakeQuerier{
		sessionRow: fakeRow{err: pgx.ErrNoRows},
		logonRow:   fakeRow{err: pgx.ErrNoRows},
	}
	db := gateway.NewTestDB("pgaudit", q)
	cache := NewCache()
	r := newRow(t, "s1", "alice", "authentication", "fatal", "2024-01-01 00:00:00.000 UTC", 1)

	s, err := Ensure(context.Background(), db, cache, r)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s.SessionState != stateError {
		t.Fatalf("state = %q, want error", s.SessionState)
	}
}

func TestEnsure_ResumedSessionSeedsFromSelect(t *testing.T) {
	q := &fakeQuerier{
		sessionRow: fakeRow{values: []any{"psql", "ok", int64(10), int64(2), int64(1)}},
	}
	db := gateway.NewTestDB("pgaudit", q)
	cache := NewCache()
	r := newRow(t, "s1", "alice", "authentication", "log", "2024-01-01 00:00:00.000 UTC", 11)

	s, err := Ensure(context.Background(), db, cache, r)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s.SessionLineNum != 10 || s.StatementID != 2 || s.SubstatementID != 1 {
		t.Fatalf("seeded state = %+v", s)
	}
}

func TestGated_MonotonicityGate(t *testing.T) {
	s := &State{SessionLineNum: 10}
	r := newRow(t, "s1", "alice", "select", "log", "2024-01-01 00:00:00.000 UTC", 10)
	if Gated(s, r) {
		t.Fatalf("line 10 should not be gated through against cached 10")
	}
	r11 := newRow(t, "s1", "alice", "select", "log", "2024-01-01 00:00:00.000 UTC", 11)
	if !Gated(s, r11) {
		t.Fatalf("line 11 should be gated through against cached 10")
	}
}

func TestAdvance_UpdatesOnNewApplicationName(t *testing.T) {
	q := &fakeQuerier{}
	db := gateway.NewTestDB("pgaudit", q)
	s := &State{ApplicationName: "[unknown]", SessionLineNum: 5}
	r := newRow(t, "s1", "alice", "select", "log", "2024-01-01 00:00:00.000 UTC", 6)

	if err := Advance(context.Background(), db, s, r); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.ApplicationName != "psql" {
		t.Fatalf("ApplicationName = %q, want psql", s.ApplicationName)
	}
	if len(q.execs) != 1 {
		t.Fatalf("expected exactly one session_update exec, got %d", len(q.execs))
	}
}

func TestAdvance_NoOpWhenLineNotPastCache(t *testing.T) {
	q := &fakeQuerier{}
	db := gateway.NewTestDB("pgaudit", q)
	s := &State{ApplicationName: "[unknown]", SessionLineNum: 10}
	r := newRow(t, "s1", "alice", "select", "log", "2024-01-01 00:00:00.000 UTC", 5)

	if err := Advance(context.Background(), db, s, r); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(q.execs) != 0 {
		t.Fatalf("expected no exec when row is not past cache, got %d", len(q.execs))
	}
}
