// Package gateway manages one connection per target database name,
// lazily opened, with the "does this database have the audit schema"
// decision cached for the life of the process, and a typed set of write
// operations backing the rest of the ingest pipeline.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx, and *pgx.Conn, letting
// the statement helpers in statements.go run against either a bare
// connection or an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the gateway's per-database handle: a live connection, the schema
// presence decision, and the schema-qualified SQL text for every prepared
// operation, prepared once and memoized for the life of the connection.
//
// pgx's default QueryExecMode already caches a server-side prepared
// statement per distinct SQL string on each pooled connection, so holding
// the schema-qualified text here and always executing it verbatim gets us
// the same effect as an explicit PREPARE without pgxpool's awkward
// per-connection PREPARE lifecycle.
type DB struct {
	Name   string
	Schema string
	Pool   *pgxpool.Pool // nil when HasSchema is false; owns the connection's lifecycle
	q      Querier       // statement target; equal to Pool outside of tests
	stmts  statements
}

// HasSchema reports whether this database has the expected audit schema
// installed. When false, Pool is nil and every reference to this database
// name should be ignored without reconnecting.
func (d *DB) HasSchema() bool { return d.q != nil }

// Gateway owns the set of per-database handles. It is not safe for
// concurrent use — the ingest loop is single-threaded by design — but
// guards its map with a mutex anyway since Reset can race a deferred
// Close from a prior generation during shutdown.
type Gateway struct {
	opts Options

	mu sync.Mutex
	dbs map[string]*DB
}

// New creates a Gateway that will connect using opts.
func New(opts Options) *Gateway {
	return &Gateway{
		opts: opts,
		dbs:  make(map[string]*DB),
	}
}

// Get returns the handle for dbName, opening and probing it on first
// reference. Returns ok=false (with a nil error) when the
// database is known not to carry the audit schema — callers should ignore
// the row rather than treat that as a failure.
func (g *Gateway) Get(ctx context.Context, dbName string) (db *DB, ok bool, err error) {
	g.mu.Lock()
	existing, found := g.dbs[dbName]
	g.mu.Unlock()
	if found {
		return existing, existing.HasSchema(), nil
	}

	schema := g.opts.SchemaName(dbName)
	connStr := g.opts.ConnString(dbName)

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, false, fmt.Errorf("gateway: parse connection string for %s: %w", dbName, err)
	}
	// A single connection per target database.
	cfg.MaxConns = 1
	cfg.MinConns = 0
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Adopt the fixed audit identity for the rest of the connection's life.
		_, err := conn.Exec(ctx, fmt.Sprintf("SET ROLE %s", pgx.Identifier{IngestUser}.Sanitize()))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, false, fmt.Errorf("gateway: open %s: %w", dbName, err)
	}

	present, err := probeSchema(ctx, pool, schema)
	if err != nil {
		pool.Close()
		return nil, false, fmt.Errorf("gateway: probe schema for %s: %w", dbName, err)
	}

	if !present {
		pool.Close()
		handle := &DB{Name: dbName, Schema: schema}
		g.mu.Lock()
		g.dbs[dbName] = handle
		g.mu.Unlock()
		slog.Info("gateway: database has no audit schema, ignoring future rows", "database", dbName, "schema", schema)
		return handle, false, nil
	}

	handle := &DB{
		Name:   dbName,
		Schema: schema,
		Pool:   pool,
		q:      pool,
		stmts:  newStatements(schema),
	}
	g.mu.Lock()
	g.dbs[dbName] = handle
	g.mu.Unlock()
	slog.Info("gateway: connected", "database", dbName, "schema", schema)
	return handle, true, nil
}

// probeSchema counts rows in the catalog for schemaName.
func probeSchema(ctx context.Context, pool *pgxpool.Pool, schemaName string) (bool, error) {
	var count int64
	err := pool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.schemata WHERE schema_name = $1`,
		schemaName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// NewTestDB builds a *DB backed by q instead of a real pgxpool.Pool, so
// callers in this module's tests can exercise the statement helpers
// against a fake Querier without a live server.
func NewTestDB(schema string, q Querier) *DB {
	return &DB{Name: "test", Schema: schema, q: q, stmts: newStatements(schema)}
}

// Reset discards every cached handle, closing any open connections. This is
// the gateway's half of the cache-wide reset the ingest loop performs after
// a per-row transient failure.
func (g *Gateway) Reset() {
	g.mu.Lock()
	dbs := g.dbs
	g.dbs = make(map[string]*DB)
	g.mu.Unlock()

	for _, db := range dbs {
		if db.Pool != nil {
			db.Pool.Close()
		}
	}
}
