package config

import "testing"

func TestLoad_RequiresLogPath(t *testing.T) {
	_, err := Load([]string{"--port", "5432"})
	if err == nil {
		t.Fatal("Load() expected error for missing <log-path>")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"/var/log/postgresql"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogPath != "/var/log/postgresql" {
		t.Errorf("LogPath = %q, want /var/log/postgresql", cfg.LogPath)
	}
	if cfg.Port != 5432 {
		t.Errorf("Port = %d, want 5432", cfg.Port)
	}
	if cfg.LogFile != defaultLogFile {
		t.Errorf("LogFile = %q, want %q", cfg.LogFile, defaultLogFile)
	}
	if cfg.LoggingServerMode() {
		t.Error("LoggingServerMode() should be false with no --log-server")
	}
	if cfg.UseCentralServer {
		t.Error("UseCentralServer should default to false")
	}
}

func TestLoad_LoggingServerModeRequiresLogDatabase(t *testing.T) {
	_, err := Load([]string{"--log-server", "primary.example.com", "/var/log/postgresql"})
	if err == nil {
		t.Fatal("Load() expected error when --log-server is set without --log-database")
	}
}

func TestLoad_LoggingServerMode(t *testing.T) {
	cfg, err := Load([]string{
		"--log-server", "primary.example.com",
		"--log-database", "reporting",
		"--log-from-server", "acctg01",
		"/var/log/postgresql",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.LoggingServerMode() {
		t.Fatal("LoggingServerMode() should be true with --log-server set")
	}
	if cfg.LogDatabase != "reporting" {
		t.Errorf("LogDatabase = %q, want reporting", cfg.LogDatabase)
	}
	if cfg.LogFromServer != "acctg01" {
		t.Errorf("LogFromServer = %q, want acctg01", cfg.LogFromServer)
	}
}

func TestLoad_Help(t *testing.T) {
	cfg, err := Load([]string{"--help"})
	if err != nil {
		t.Fatalf("Load() with --help should not error, got %v", err)
	}
	if !cfg.Help {
		t.Fatal("Help should be true")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := &Config{LogPath: "/var/log/postgresql", Port: 99999, LogFile: "/tmp/x.log", LogLevel: "info", LogFormat: "text"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid port")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := &Config{LogPath: "/var/log/postgresql", Port: 5432, LogFile: "/tmp/x.log", LogLevel: "verbose", LogFormat: "text"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level")
	}
	if !contains(err.Error(), "--log-level") {
		t.Errorf("error should mention --log-level: %v", err)
	}
}

func TestConfigString_OmitsSocketPathInLoggingServerMode(t *testing.T) {
	cfg := &Config{
		LogPath: "/var/log/postgresql", Port: 5432, LogFile: "/tmp/x.log",
		LogServer: "primary.example.com", LogDatabase: "reporting", LogPort: 5432,
		LogLevel: "info", LogFormat: "text",
	}
	str := cfg.String()
	if !contains(str, "LogServer") {
		t.Errorf("String() should mention LogServer in logging-server mode: %s", str)
	}
	if contains(str, "SocketPath") {
		t.Errorf("String() should not mention SocketPath in logging-server mode: %s", str)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}
