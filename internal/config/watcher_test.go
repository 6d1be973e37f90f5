package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
redis:
  addr: "localhost:6379"
postgres:
  dsn: "postgres://localhost/test"
providers:
  asr_primary:
    name: deepgram
  vad:
    name: silero
streams:
  - id: lobby
    url: rtsp://cam1/audio
    protocol: rtsp
    enabled: true
`

const watcherUpdatedYAML = `
server:
  log_level: debug
redis:
  addr: "localhost:6379"
postgres:
  dsn: "postgres://localhost/test"
providers:
  asr_primary:
    name: deepgram
  vad:
    name: silero
streams:
  - id: lobby
    url: rtsp://cam1-relocated/audio
    protocol: rtsp
    enabled: true
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, watcherValidYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].ID != "lobby" {
		t.Errorf("unexpected streams: %+v", cfg.Streams)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, watcherValidYAML)

	var mu sync.Mutex
	var gotNew *config.Config
	onChange := func(_, updated *config.Config) {
		mu.Lock()
		gotNew = updated
		mu.Unlock()
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime so the rewrite is always detected.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.WriteFile(path, []byte(watcherUpdatedYAML), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for onChange callback")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("reloaded log_level = %q, want debug", gotNew.Server.LogLevel)
	}
	if w.Current().Streams[0].URL != "rtsp://cam1-relocated/audio" {
		t.Errorf("Current() not updated: %+v", w.Current().Streams)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidReload(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.WriteFile(path, []byte("streams: [this is not valid"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if w.Current().Streams[0].ID != "lobby" {
		t.Error("watcher should keep the last valid config after a broken reload")
	}
}
