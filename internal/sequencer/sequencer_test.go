package sequencer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatalf("touch %s: %v", name, err)
	}
}

func TestSequencer_FirstCallNoLogs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if _, err := s.Next(""); !errors.Is(err, ErrNoLogsFound) {
		t.Fatalf("Next(\"\") = %v, want ErrNoLogsFound", err)
	}
}

func TestSequencer_OrdersLexicographically(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "postgresql-2024-01-02_000000.csv")
	touch(t, dir, "postgresql-2024-01-01_000000.csv")
	touch(t, dir, "ignored.txt")

	s := New(dir)

	first, err := s.Next("")
	if err != nil {
		t.Fatalf("Next(\"\"): %v", err)
	}
	if filepath.Base(first) != "postgresql-2024-01-01_000000.csv" {
		t.Fatalf("first = %q, want 2024-01-01 file", first)
	}

	second, err := s.Next(filepath.Base(first))
	if err != nil {
		t.Fatalf("Next(first): %v", err)
	}
	if filepath.Base(second) != "postgresql-2024-01-02_000000.csv" {
		t.Fatalf("second = %q, want 2024-01-02 file", second)
	}

	none, err := s.Next(filepath.Base(second))
	if err != nil {
		t.Fatalf("Next(second): %v", err)
	}
	if none != "" {
		t.Fatalf("none = %q, want empty string", none)
	}
}

func TestSequencer_NoNewFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.csv")
	s := New(dir)

	first, err := s.Next("")
	if err != nil {
		t.Fatalf("Next(\"\"): %v", err)
	}

	again, err := s.Next(filepath.Base(first))
	if err != nil {
		t.Fatalf("Next should not error when steady-state: %v", err)
	}
	if again != "" {
		t.Fatalf("again = %q, want empty", again)
	}
}

func TestSequencer_DirectoryUnreadable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := s.Next(""); !errors.Is(err, ErrDirectoryUnreadable) {
		t.Fatalf("Next = %v, want ErrDirectoryUnreadable", err)
	}
}
