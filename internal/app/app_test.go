package app

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/humanreel/backend/internal/db/migrations"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"seed"},
		{"moderator", "grant"},
		{"moderator", "set-password"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("find %v: %v", path, err)
		}
		if cmd.Name() != path[len(path)-1] {
			t.Fatalf("find %v resolved to %q", path, cmd.Name())
		}
	}
}

func TestSeedRequiresName(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"seed"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err == nil {
		t.Fatal("expected missing seed name to fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", slog.String("videoId", "v1"))

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, `"videoId":"v1"`) {
		t.Fatalf("unexpected log output %q", out)
	}

	if _, err := newLogger(&buf, "loud"); err == nil {
		t.Fatal("expected invalid level to fail")
	}
}

func TestSeedFilePath(t *testing.T) {
	path, err := seedFilePath("/srv/seeds", "dev")
	if err != nil {
		t.Fatalf("seed path: %v", err)
	}
	if path != filepath.Join("/srv/seeds", "dev_seed.sql") {
		t.Fatalf("unexpected path %q", path)
	}

	path, err = seedFilePath("/srv/seeds", "custom.sql")
	if err != nil || path != filepath.Join("/srv/seeds", "custom.sql") {
		t.Fatalf("unexpected path %q (%v)", path, err)
	}

	for _, name := range []string{"", "../etc/passwd"} {
		if _, err := seedFilePath("/srv/seeds", name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestSeedBackoffIsCapped(t *testing.T) {
	if got := seedBackoff(1); got != seedBaseBackoff {
		t.Fatalf("first retry backoff = %s", got)
	}
	if got := seedBackoff(10); got != seedMaxBackoff {
		t.Fatalf("backoff not capped: %s", got)
	}
}

func TestReadPasswordFromPipe(t *testing.T) {
	password, err := readPassword(strings.NewReader("hunter22\r\nignored\n"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("read password: %v", err)
	}
	if password != "hunter22" {
		t.Fatalf("unexpected password %q", password)
	}

	if _, err := readPassword(strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatal("expected empty input to fail")
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status migrations.Status
		want   string
	}{
		{migrations.Status{}, "no migrations applied"},
		{migrations.Status{Version: 1, Applied: true}, "schema version 1"},
		{migrations.Status{Version: 2, Dirty: true, Applied: true}, "schema version 2 (dirty)"},
	}
	for _, tc := range tests {
		if got := formatStatus(tc.status); got != tc.want {
			t.Errorf("formatStatus(%+v) = %q, want %q", tc.status, got, tc.want)
		}
	}
}
