// Package config parses the daemon's command-line surface and validates it
// before anything else in the process starts. A .env file, if present, is
// loaded before flags are parsed so it can supply defaults an operator would
// otherwise have to repeat on every invocation.
package config

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the fully parsed and validated daemon configuration.
type Config struct {
	// LogPath is the directory of CSV audit logs to tail (positional arg).
	LogPath string

	// Daemon detaches the process: redirect stdout and stderr to LogFile,
	// stdin to null, and start a new session group.
	Daemon bool

	// Port is the database port (default 5432).
	Port int

	// SocketPath is the socket directory / default host for the local
	// connection.
	SocketPath string

	// LogFile is this daemon's own log file.
	LogFile string

	// User is the database user (default: invoker's OS user).
	User string

	// LogServer is the host for the logging server. A non-empty value
	// switches the daemon into logging-server mode.
	LogServer string

	// LogDatabase is the database name on the logging server.
	LogDatabase string

	// LogPort is the port for the logging server.
	LogPort int

	// LogFromServer is the logical source-server name used in schema
	// naming. When empty in logging-server mode, SocketPath is substituted
	// (an observed behavior, preserved rather than corrected).
	LogFromServer string

	// UseCentralServer is accepted for compatibility but has no effect on
	// ingest behavior.
	UseCentralServer bool

	// Help requests usage text and a clean exit.
	Help bool

	// Version requests the build version and a clean exit.
	Version bool

	// LogLevel and LogFormat configure this daemon's own structured
	// logging (debug|info|warn|error, text|json).
	LogLevel  string
	LogFormat string
}

const defaultLogFile = "/var/log/pgauditd.log"

// Load loads a .env file if present, parses args against a fresh FlagSet,
// and validates the result. args is normally os.Args[1:].
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "config: .env present but unreadable: %v\n", err)
	}

	fs := flag.NewFlagSet("pgauditd", flag.ContinueOnError)

	cfg := &Config{}
	fs.Usage = func() { printUsage(fs) }
	fs.BoolVar(&cfg.Daemon, "daemon", false, "detach and run as a background daemon")
	fs.IntVar(&cfg.Port, "port", 5432, "database port")
	fs.StringVar(&cfg.SocketPath, "socket-path", "", "socket directory / default host")
	fs.StringVar(&cfg.LogFile, "log-file", envOr("PGAUDITD_LOG_FILE", defaultLogFile), "this daemon's own log file")
	fs.StringVar(&cfg.User, "user", defaultOSUser(), "database user")
	fs.StringVar(&cfg.LogServer, "log-server", "", "host for the logging server (enables logging-server mode)")
	fs.StringVar(&cfg.LogDatabase, "log-database", "", "database name on the logging server")
	fs.IntVar(&cfg.LogPort, "log-port", 5432, "port for the logging server")
	fs.StringVar(&cfg.LogFromServer, "log-from-server", "", "logical source-server name used in schema naming")
	fs.BoolVar(&cfg.UseCentralServer, "use-centeral-server", false, "accepted for compatibility; has no effect")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("PGAUDITD_LOG_LEVEL", "info"), "daemon log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("PGAUDITD_LOG_FORMAT", "text"), "daemon log format: text, json")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			cfg.Help = true
			return cfg, nil
		}
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if cfg.Version {
		return cfg, nil
	}

	if fs.NArg() < 1 {
		return nil, fmt.Errorf("config: missing required <log-path> argument")
	}
	cfg.LogPath = fs.Arg(0)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func defaultOSUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// LoggingServerMode reports whether LogServer was supplied, switching
// schema naming from the fixed single-server name to a per-source name.
func (c *Config) LoggingServerMode() bool {
	return c.LogServer != ""
}

// Validate checks the parsed configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.LogPath == "" {
		errs = append(errs, "<log-path> is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("--port (%d) must be 1-65535", c.Port))
	}
	if c.LoggingServerMode() {
		if c.LogDatabase == "" {
			errs = append(errs, "--log-database is required when --log-server is set")
		}
		if c.LogPort <= 0 || c.LogPort > 65535 {
			errs = append(errs, fmt.Sprintf("--log-port (%d) must be 1-65535", c.LogPort))
		}
	}
	if c.LogFile == "" {
		errs = append(errs, "--log-file must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("--log-level (%q) must be one of: debug, info, warn, error", c.LogLevel))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("--log-format (%q) must be one of: text, json", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for startup logging. Socket path and
// logging-server host are operator-identifying rather than secret, so they
// are included plainly.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{LogPath: %q, Daemon: %v, User: %q, Port: %d", c.LogPath, c.Daemon, c.User, c.Port)
	if c.LoggingServerMode() {
		fmt.Fprintf(&b, ", LogServer: %q, LogDatabase: %q, LogPort: %d, LogFromServer: %q",
			c.LogServer, c.LogDatabase, c.LogPort, c.LogFromServer)
	} else {
		fmt.Fprintf(&b, ", SocketPath: %q", c.SocketPath)
	}
	fmt.Fprintf(&b, ", LogLevel: %q, LogFormat: %q}", c.LogLevel, c.LogFormat)
	return b.String()
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: pgauditd [flags] <log-path>")
	fmt.Fprintln(os.Stderr)
	fs.PrintDefaults()
}
