package gateway

import "fmt"

// FixedSchemaName is the schema used in single-server mode.
const FixedSchemaName = "pgaudit"

// IngestUser is the fixed audit role every gateway connection assumes
// after authenticating, and the user_name the boundary filter excludes
// from ingestion so the ingester never audits itself.
const IngestUser = "pgaudit_etl"

// Options carries the subset of CLI configuration the gateway needs to
// open connections and compute schema names.
type Options struct {
	// Port is the database port for single-server mode (--port).
	Port int
	// SocketPath is the socket directory / default host (--socket-path).
	SocketPath string
	// User is the database user used to authenticate (--user).
	User string

	// LogServer, when non-empty, selects logging-server mode: a central
	// database receives audit rows from multiple source servers
	// (--log-server).
	LogServer string
	// LogDatabase is the database name on the logging server
	// (--log-database).
	LogDatabase string
	// LogPort is the port for the logging server (--log-port).
	LogPort int
	// LogFromServer is the logical source-server name used in schema
	// naming (--log-from-server).
	LogFromServer string
}

// LoggingServerMode reports whether the gateway should operate in
// logging-server mode.
func (o Options) LoggingServerMode() bool {
	return o.LogServer != ""
}

// SchemaName computes the audit schema name for a row referencing
// database dbName.
func (o Options) SchemaName(dbName string) string {
	if !o.LoggingServerMode() {
		return FixedSchemaName
	}

	// --log-from-server is the intended source for the schema's host
	// component. When absent, the socket path is substituted instead.
	// Whether this fallback is a deliberate convenience or a latent bug
	// in the tool this was modeled on is unclear; the behavior is
	// preserved as observed rather than "corrected".
	source := o.LogFromServer
	if source == "" {
		source = o.SocketPath
	}
	return source + "_" + dbName
}

// ConnString builds a libpq-style connection string for dbName.
//
// In single-server mode, dbName is a literal database on the configured
// server: each target database gets its own connection. In
// logging-server mode every source database is written into the same
// shared logging database, distinguished only by schema, so dbName does
// not appear in the DSN at all — the physical connection target is always
// --log-server/--log-database.
func (o Options) ConnString(dbName string) string {
	if !o.LoggingServerMode() {
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=disable",
			o.SocketPath, o.Port, dbName, o.User)
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=disable",
		o.LogServer, o.LogPort, o.LogDatabase, o.User)
}
