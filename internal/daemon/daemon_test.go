package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/msageha/kestrel/internal/config"
	"github.com/msageha/kestrel/internal/lock"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.URL = "http://localhost:8000"
	cfg.Daemon.LockFile = ""
	cfg.Health.Addr = ""
	return cfg
}

func TestNewDaemon(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Logging.Level = "debug"

	d, err := newDaemon(cfg, &fakeEngine{}, "1.0.0", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.logLevel.Level() != LogLevelDebug {
		t.Errorf("logLevel: got %d, want %d", d.logLevel.Level(), LogLevelDebug)
	}
	if d.version != "1.0.0" {
		t.Errorf("version: got %q, want 1.0.0", d.version)
	}
	if d.fileLock != nil {
		t.Error("expected no file lock with an empty lock_file")
	}
	if d.slot.Load().Len() != 0 {
		t.Error("expected an empty starting snapshot")
	}
}

func TestNewDaemon_LockFileConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.LockFile = filepath.Join(t.TempDir(), "kestrel.lock")

	d, err := newDaemon(cfg, &fakeEngine{}, "dev", &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.fileLock == nil {
		t.Error("expected a file lock to be configured")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"unknown", LogLevelInfo},
		{"", LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLogLevel(tt.input)
			if got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDaemonLog(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Logging.Level = "warn"

	d, err := newDaemon(cfg, &fakeEngine{}, "dev", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Info should be filtered
	d.log(LogLevelInfo, "should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}

	// Warn should pass
	d.log(LogLevelWarn, "warning message")
	if !bytes.Contains(buf.Bytes(), []byte("WARN")) {
		t.Errorf("expected WARN in output, got: %s", buf.String())
	}
}

func TestDaemonShutdownIdempotent(t *testing.T) {
	d, err := newDaemon(testConfig(), &fakeEngine{}, "dev", &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Shutdown should be idempotent
	d.Shutdown()
	d.Shutdown() // second call should not panic
}

func TestDaemon_ApplyConfigChange(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	d, err := newDaemon(cfg, &fakeEngine{}, "dev", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cur := cfg
	cur.QueueHandler.PollIntervalSec = 7
	cur.Igniter.ReleaseIntervalSec = 9
	cur.Logging.Level = "error"
	d.applyConfigChange(cfg, cur)

	if got := d.pollInterval(); got != 7*time.Second {
		t.Errorf("poll interval: got %s, want 7s", got)
	}
	if got := d.releaseInterval(); got != 9*time.Second {
		t.Errorf("release interval: got %s, want 9s", got)
	}
	if d.logLevel.Level() != LogLevelError {
		t.Errorf("log level: got %d, want %d", d.logLevel.Level(), LogLevelError)
	}
}

func TestDaemon_ApplyConfigChange_IdentityNeedsRestart(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	d, err := newDaemon(cfg, &fakeEngine{}, "dev", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cur := cfg
	cur.Engine.URL = "http://other:8000"
	d.applyConfigChange(cfg, cur)

	if !bytes.Contains(buf.Bytes(), []byte("restart required")) {
		t.Errorf("expected restart warning, got: %s", buf.String())
	}
	// The running identity must not change underneath the loops.
	if d.currentConfig().Engine.URL != cfg.Engine.URL {
		t.Errorf("engine url changed to %q", d.currentConfig().Engine.URL)
	}
}

func TestDaemon_RunAndShutdown(t *testing.T) {
	var buf bytes.Buffer
	lockPath := filepath.Join(t.TempDir(), "kestrel.lock")
	cfg := testConfig()
	cfg.Daemon.LockFile = lockPath
	cfg.Daemon.ShutdownTimeoutSec = 2
	cfg.Health.Addr = "127.0.0.1:0"

	fe := &fakeEngine{}
	d, err := newDaemon(cfg, fe, "dev", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	// Wait for the first poll so both loops are known to be running.
	deadline := time.Now().Add(2 * time.Second)
	for fe.queryCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue handler never polled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	if !bytes.Contains(buf.Bytes(), []byte("daemon stopped")) {
		t.Errorf("expected daemon stopped in log, got: %s", buf.String())
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed, stat err=%v", err)
	}
}

func TestDaemon_RunRejectedWhileLockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "kestrel.lock")
	holder := lock.NewFileLock(lockPath)
	if err := holder.TryLock(); err != nil {
		t.Fatalf("holder TryLock: %v", err)
	}
	defer holder.Unlock()

	cfg := testConfig()
	cfg.Daemon.LockFile = lockPath

	d, err := newDaemon(cfg, &fakeEngine{}, "dev", &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Run(); err == nil {
		t.Fatal("expected Run to fail while another daemon holds the lock")
	}
}
