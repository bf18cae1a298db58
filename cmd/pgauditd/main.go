// Command pgauditd tails a directory of CSV-formatted PostgreSQL audit
// logs and materializes them into the normalized audit schema of the same
// database(s) they came from.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgaudit/pgauditd/internal/config"
	"github.com/pgaudit/pgauditd/internal/gateway"
	"github.com/pgaudit/pgauditd/internal/ingest"
	"github.com/pgaudit/pgauditd/internal/logging"
)

// version is set at build time via -ldflags; left as a placeholder default
// for local builds.
var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Help {
		os.Exit(0)
	}
	if cfg.Version {
		fmt.Println("pgauditd", version)
		os.Exit(0)
	}

	if cfg.Daemon {
		if err := daemonize(cfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "pgauditd: daemonize: %v\n", err)
			os.Exit(1)
		}
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if _, err := os.Stat(cfg.LogPath); err != nil {
		slog.Error("pgauditd: log directory unreadable", "path", cfg.LogPath, "error", err)
		os.Exit(1)
	}

	opts := gateway.Options{
		Port:          cfg.Port,
		SocketPath:    cfg.SocketPath,
		User:          cfg.User,
		LogServer:     cfg.LogServer,
		LogDatabase:   cfg.LogDatabase,
		LogPort:       cfg.LogPort,
		LogFromServer: cfg.LogFromServer,
	}
	gw := gateway.New(opts)
	defer gw.Reset()

	mode := "single-server"
	if opts.LoggingServerMode() {
		mode = "logging-server"
	}
	slog.Info("pgauditd: starting", "log_path", cfg.LogPath, "mode", mode, "config", cfg.String())

	ing := ingest.New(cfg.LogPath, gw)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ing.Run(ctx); err != nil {
		slog.Error("pgauditd: ingest loop exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("pgauditd: shut down cleanly")
}
