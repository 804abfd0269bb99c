package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/msageha/kestrel/internal/daemon"
	"github.com/msageha/kestrel/internal/health"
	"github.com/msageha/kestrel/internal/lock"
)

func startHealthServer(t *testing.T, staleAfter time.Duration) (string, *daemon.Heartbeats) {
	t.Helper()
	hb := daemon.NewHeartbeats()
	srv := health.NewServer("127.0.0.1:0", hb, staleAfter, "9.9.9", func(format string, args ...any) {
		t.Logf(format, args...)
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("start health server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv.Addr(), hb
}

func TestCollect_DaemonStopped(t *testing.T) {
	// Nothing listens on a closed port
	s := collect("127.0.0.1:1", "")
	if s.Daemon.Running {
		t.Error("expected daemon reported stopped")
	}
}

func TestCollect_HealthDisabled(t *testing.T) {
	s := collect("", "")
	if s.Daemon.Running {
		t.Error("expected daemon reported stopped with no health address")
	}
}

func TestCollect_RunningHealthy(t *testing.T) {
	addr, hb := startHealthServer(t, time.Minute)
	hb.Beat(daemon.LoopQueueHandler)
	hb.Beat(daemon.LoopIgniter)

	lockPath := filepath.Join(t.TempDir(), "kestrel.lock")
	fl := lock.NewFileLock(lockPath)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer fl.Unlock()

	s := collect(addr, lockPath)

	if !s.Daemon.Running {
		t.Fatal("expected daemon reported running")
	}
	if s.Daemon.Health != "ok" {
		t.Errorf("health: got %q, want ok", s.Daemon.Health)
	}
	if s.Daemon.Version != "9.9.9" {
		t.Errorf("version: got %q, want 9.9.9", s.Daemon.Version)
	}
	if s.Daemon.Pid != os.Getpid() {
		t.Errorf("pid: got %d, want %d", s.Daemon.Pid, os.Getpid())
	}
	if len(s.Loops) != 2 {
		t.Fatalf("expected 2 loops, got %v", s.Loops)
	}
	// Sorted by name
	if s.Loops[0].Name != daemon.LoopIgniter || s.Loops[1].Name != daemon.LoopQueueHandler {
		t.Errorf("loop order: got [%s %s]", s.Loops[0].Name, s.Loops[1].Name)
	}
	for _, l := range s.Loops {
		if l.Stale {
			t.Errorf("loop %s unexpectedly stale", l.Name)
		}
	}
}

func TestCollect_Unhealthy(t *testing.T) {
	// Zero threshold marks every loop stale immediately.
	addr, hb := startHealthServer(t, 0)
	hb.Beat(daemon.LoopIgniter)
	time.Sleep(time.Millisecond)

	s := collect(addr, "")

	if !s.Daemon.Running {
		t.Fatal("expected daemon reported running")
	}
	if s.Daemon.Health != "unhealthy" {
		t.Errorf("health: got %q, want unhealthy", s.Daemon.Health)
	}
	if len(s.Loops) != 1 || !s.Loops[0].Stale {
		t.Errorf("expected igniter stale, got %v", s.Loops)
	}
}

func TestPrintStatus_DoesNotPanic(t *testing.T) {
	// Verify printing works without panicking for all cases
	s := PipelineStatus{
		Daemon: DaemonStatus{Running: false},
	}
	printStatus(s)

	s.Daemon = DaemonStatus{Running: true, Pid: 1234, Version: "dev", Health: "ok"}
	s.Loops = []LoopStatus{
		{Name: daemon.LoopQueueHandler, Age: "2s", Stale: false},
		{Name: daemon.LoopIgniter, Age: "10m", Stale: true},
	}
	printStatus(s)
}
