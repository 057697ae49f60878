package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startWatch runs Watch on p and returns the configs it reports.
func startWatch(t *testing.T, p string) <-chan *Config {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan *Config, 8)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return got
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	got := startWatch(t, p)

	if err := os.WriteFile(p, []byte("server:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-got:
		if c.Server.LogLevel != "debug" {
			t.Errorf("reloaded log_level: got %q, want debug", c.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatch_ReloadsOnRenameSave(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	got := startWatch(t, p)

	tmp := filepath.Join(filepath.Dir(p), ".config.yaml.swp")
	if err := os.WriteFile(tmp, []byte("server:\n  log_level: warn\n"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case c := <-got:
		if c.Server.LogLevel != "warn" {
			t.Errorf("reloaded log_level: got %q, want warn", c.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload after rename")
	}

	// A second save must still be seen after the file was replaced.
	if err := os.WriteFile(p, []byte("server:\n  log_level: error\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case c := <-got:
		if c.Server.LogLevel != "error" {
			t.Errorf("second reload log_level: got %q, want error", c.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second reload")
	}
}

func TestWatch_CoalescesBurst(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	got := startWatch(t, p)

	for _, lvl := range []string{"warn", "error", "debug"} {
		if err := os.WriteFile(p, []byte("server:\n  log_level: "+lvl+"\n"), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
	}

	select {
	case c := <-got:
		if c.Server.LogLevel != "debug" {
			t.Errorf("reloaded log_level: got %q, want debug", c.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	select {
	case c := <-got:
		t.Errorf("extra reload for one burst: log_level %q", c.Server.LogLevel)
	case <-time.After(3 * reloadDelay):
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	got := startWatch(t, p)

	other := filepath.Join(filepath.Dir(p), "other.yaml")
	if err := os.WriteFile(other, []byte("server:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case c := <-got:
		t.Fatalf("onChange called for another file: %+v", c.Server)
	case <-time.After(3 * reloadDelay):
	}
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	got := startWatch(t, p)

	if err := os.WriteFile(p, []byte("server:\n  log_level: loud\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-got:
		t.Fatalf("onChange called with invalid config: %+v", c.Server)
	case <-time.After(3 * reloadDelay):
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "gone", "config.yaml")
	if err := Watch(context.Background(), p, func(*Config) {}); err == nil {
		t.Fatal("Watch on a missing directory: expected error, got nil")
	}
}
