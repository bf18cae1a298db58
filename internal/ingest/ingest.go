// Package ingest implements the driver loop that ties the sequencer,
// reader, and session packages together against one log directory: the
// Ingester owns all mutable state and runs single-threaded, tight-looping
// over available rows and sleeping only when there is nothing to do.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pgaudit/pgauditd/internal/gateway"
	"github.com/pgaudit/pgauditd/internal/logging"
	"github.com/pgaudit/pgauditd/internal/reader"
	"github.com/pgaudit/pgauditd/internal/row"
	"github.com/pgaudit/pgauditd/internal/sequencer"
	"github.com/pgaudit/pgauditd/internal/session"
)

// pollInterval is how long the loop sleeps when the current file has no
// new data and no newer file has appeared.
const pollInterval = 100 * time.Millisecond

// recoverySleep is how long the loop sleeps after a transient failure,
// between the cache-wide reset and the directory re-enumeration.
const recoverySleep = 5 * time.Second

// dbGateway is the subset of *gateway.Gateway the ingest loop needs; tests
// substitute a fake to avoid a live database.
type dbGateway interface {
	Get(ctx context.Context, dbName string) (*gateway.DB, bool, error)
	Reset()
}

// Ingester owns the full set of mutable ingest state: the gateway of
// open database connections, one session cache per database, the
// sequencer tracking file progression, and the currently-open reader.
type Ingester struct {
	seq *sequencer.Sequencer
	gw  dbGateway

	caches map[string]*session.Cache // keyed by database name

	current  *reader.Reader
	lastFile string
	wake     chan struct{}
}

// New creates an Ingester that tails logDir and writes through gw.
func New(logDir string, gw *gateway.Gateway) *Ingester {
	return &Ingester{
		seq:    sequencer.New(logDir),
		gw:     gw,
		caches: make(map[string]*session.Cache),
		wake:   make(chan struct{}, 1),
	}
}

// newForTest builds an Ingester against a fake dbGateway, for exercising
// the loop's file/row plumbing without a live database.
func newForTest(logDir string, gw dbGateway) *Ingester {
	return &Ingester{
		seq:    sequencer.New(logDir),
		gw:     gw,
		caches: make(map[string]*session.Cache),
		wake:   make(chan struct{}, 1),
	}
}

// Run drives the ingest loop until ctx is cancelled. It starts an fsnotify
// watch on the log directory as a latency optimization; the loop itself
// still polls on its own timer regardless, since fsnotify can coalesce or
// drop events under load.
func (ing *Ingester) Run(ctx context.Context) error {
	sequencer.Watch(ctx, ing.seq.Dir, ing.wake)

	for {
		if err := ctx.Err(); err != nil {
			return ing.closeCurrent()
		}

		progressed, err := ing.step(ctx)
		if err != nil {
			if errors.Is(err, sequencer.ErrNoLogsFound) {
				ing.closeCurrent()
				return err // startup-fatal: never retry an empty log directory
			}
			slog.Error("ingest: row failed, resetting caches and re-enumerating", "error", err)
			ing.recover()
			if !sleepCtx(ctx, recoverySleep) {
				return ing.closeCurrent()
			}
			continue
		}
		if !progressed {
			if !sleepCtxOrWake(ctx, pollInterval, ing.wake) {
				return ing.closeCurrent()
			}
		}
	}
}

// step advances the ingest loop by at most one row. progressed is false
// when there was nothing to do (caller should sleep).
func (ing *Ingester) step(ctx context.Context) (progressed bool, err error) {
	if ing.current == nil {
		if err := ing.openNext(""); err != nil {
			return false, err
		}
		if ing.current == nil {
			return false, nil // no log files yet; caller sleeps and retries
		}
	}

	fields, err := ing.current.Next()
	if err != nil {
		if !errors.Is(err, reader.ErrExhausted) {
			return false, err
		}
		return ing.handleExhausted(ctx)
	}

	if err := ing.ingestRecord(ctx, fields); err != nil {
		return false, err
	}
	return true, nil
}

// handleExhausted is called when the current reader has no more
// confirmable records. If a newer file has appeared, the current file is
// known to be rotated away: its last pending record is flushed via
// Finalize, then the reader advances to the new file. Otherwise there is
// genuinely nothing new yet.
func (ing *Ingester) handleExhausted(ctx context.Context) (progressed bool, err error) {
	next, err := ing.seq.Next(ing.lastFile)
	if err != nil {
		if errors.Is(err, sequencer.ErrNoLogsFound) {
			return false, nil
		}
		return false, err
	}
	if next == "" {
		if err := ing.current.Retry(); err != nil {
			return false, err
		}
		return false, nil
	}

	if fields, ok := ing.current.Finalize(); ok {
		if err := ing.ingestRecord(ctx, fields); err != nil {
			return false, err
		}
	}
	if err := ing.current.Close(); err != nil {
		slog.Warn("ingest: close rotated file", "file", ing.current.Name(), "error", err)
	}
	ing.current = nil

	if err := ing.openNext(next); err != nil {
		return false, err
	}
	return true, nil
}

// openNext opens path (already resolved by the sequencer) as the current
// reader and records it as the last-seen file. Called with path == "" only
// when no file is open (the first call the process makes, or the first
// after a recovery reset), to start from the smallest file in the
// directory; sequencer.ErrNoLogsFound in that case means the directory has
// zero .csv files at all, a fatal condition that must propagate rather
// than be treated as "nothing new yet".
func (ing *Ingester) openNext(path string) error {
	if path == "" {
		first, err := ing.seq.Next("")
		if err != nil {
			return err
		}
		if first == "" {
			return nil
		}
		path = first
	}
	r, err := reader.Open(path)
	if err != nil {
		return err
	}
	ing.current = r
	ing.lastFile = path
	slog.Info("ingest: opened log file", "file", path)
	return nil
}

// ingestRecord parses one raw record and applies the boundary filter and
// session/audit writers, per the monotonicity gate.
func (ing *Ingester) ingestRecord(ctx context.Context, fields []*string) error {
	r, err := row.FromRecord(fields)
	if err != nil {
		return err
	}

	// Boundary filter: never audit the ingester's own connection, and skip
	// rows whose database is absent or known not to carry the audit
	// schema.
	if r.UserName == gateway.IngestUser {
		return nil
	}
	if !r.DatabaseNameValid || r.DatabaseName == "" {
		return nil
	}

	ctx = logging.WithSession(ctx, r.DatabaseName, r.SessionID)

	db, ok, err := ing.gw.Get(ctx, r.DatabaseName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	cache, found := ing.caches[r.DatabaseName]
	if !found {
		cache = session.NewCache()
		ing.caches[r.DatabaseName] = cache
	}

	s, err := session.Ensure(ctx, db, cache, r)
	if err != nil {
		return err
	}
	if err := session.Advance(ctx, db, s, r); err != nil {
		return err
	}
	if !session.Gated(s, r) {
		return nil
	}
	if err := session.WriteLogEvent(ctx, db, s, r); err != nil {
		return err
	}
	logging.FromContext(ctx).Debug("ingest: row applied", "session_line_num", r.SessionLineNum)
	return nil
}

// recover implements the cache-wide reset: every database connection and
// every session cache is discarded, forcing a clean reconnect and re-seed
// from the database on the next row referencing each. The open reader is
// closed too, so the next step re-enumerates the directory from its first
// file and replays rows, which the monotonicity gate skips where they were
// already written.
func (ing *Ingester) recover() {
	ing.gw.Reset()
	ing.caches = make(map[string]*session.Cache)
	if err := ing.closeCurrent(); err != nil {
		slog.Warn("ingest: close reader during reset", "error", err)
	}
	ing.lastFile = ""
}

func (ing *Ingester) closeCurrent() error {
	if ing.current == nil {
		return nil
	}
	err := ing.current.Close()
	ing.current = nil
	return err
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sleepCtxOrWake sleeps for at most d, waking early if wake fires (an
// fsnotify-observed file change), or returns false if ctx is cancelled.
func sleepCtxOrWake(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-wake:
		return true
	}
}
