package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func startWatch(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let the watcher register before the test starts editing the file.
	time.Sleep(200 * time.Millisecond)
}

func TestWatchPublishesOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "monitor:\n  interval: 5\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(2)
	startWatch(t, m)

	writeConfigFile(t, path, "monitor:\n  interval: 9\n")

	select {
	case cfg := <-sub:
		if cfg.Monitor.Interval != 9 {
			t.Fatalf("published interval = %d, want 9", cfg.Monitor.Interval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after rewrite")
	}
	if got := m.Get().Monitor.Interval; got != 9 {
		t.Fatalf("committed interval = %d, want 9", got)
	}
}

func TestWatchKeepsRunningConfigOnBadEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "monitor:\n  interval: 5\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(2)
	startWatch(t, m)

	// A rejected edit must never be committed or published; the next good
	// edit is, so the first thing on the channel is the good one.
	writeConfigFile(t, path, "monitor:\n  interval: -1\n")
	time.Sleep(500 * time.Millisecond)
	if got := m.Get().Monitor.Interval; got != 5 {
		t.Fatalf("bad edit committed: interval = %d", got)
	}

	writeConfigFile(t, path, "monitor:\n  interval: 9\n")
	select {
	case cfg := <-sub:
		if cfg.Monitor.Interval != 9 {
			t.Fatalf("published interval = %d, want 9", cfg.Monitor.Interval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after the good edit")
	}
}
