// Package daemon runs the kestrel admission pipeline: an intake poller that
// snapshots held workflows from the engine and an igniter that releases or
// aborts them one per cycle.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/kestrel/internal/audit"
	"github.com/msageha/kestrel/internal/config"
	"github.com/msageha/kestrel/internal/engine"
	"github.com/msageha/kestrel/internal/health"
	"github.com/msageha/kestrel/internal/lock"
	"github.com/msageha/kestrel/internal/queue"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// levelVar holds a log level that can change at runtime, shared by every
// component's log method.
type levelVar struct {
	v atomic.Int32
}

func newLevelVar(level LogLevel) *levelVar {
	lv := &levelVar{}
	lv.Set(level)
	return lv
}

func (lv *levelVar) Level() LogLevel { return LogLevel(lv.v.Load()) }

func (lv *levelVar) Set(level LogLevel) { lv.v.Store(int32(level)) }

// sleepCtx sleeps for d unless ctx ends first; reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// EngineClient is the engine surface the pipeline loops consume.
type EngineClient interface {
	Query(ctx context.Context, f engine.Filter) (*engine.Response, error)
	ReleaseHold(ctx context.Context, id string) (*engine.Response, error)
	Abort(ctx context.Context, id string) (*engine.Response, error)
}

// Daemon is the kestrel daemon process.
type Daemon struct {
	cfgMu  sync.RWMutex
	config config.Config

	version  string
	logLevel *levelVar
	logger   *log.Logger
	logFile  io.Closer

	client    EngineClient
	slot      *queue.Slot
	heartbeat *Heartbeats
	fileLock  *lock.FileLock
	loader    *config.Loader
	journal   *audit.Journal

	handler *QueueHandler
	igniter *Igniter
	health  *health.Server

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context

	shutdown  sync.Once
	forceExit atomic.Bool
}

// New creates a new Daemon instance.
func New(cfg config.Config, client EngineClient, version string) (*Daemon, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open daemon log: %w", err)
		}
		w = f
		closer = f
	}
	d, err := newDaemon(cfg, client, version, w, closer)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.AuditFile != "" {
		j, err := audit.Open(cfg.Logging.AuditFile, 0)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		d.journal = j
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(cfg config.Config, client EngineClient, version string, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	d := &Daemon{
		config:    cfg,
		version:   version,
		logLevel:  newLevelVar(parseLogLevel(cfg.Logging.Level)),
		logger:    log.New(w, "", 0),
		logFile:   closer,
		client:    client,
		slot:      queue.NewSlot(),
		heartbeat: NewHeartbeats(),
		ctx:       ctx,
		cancel:    cancel,
		group:     group,
		gctx:      gctx,
	}
	if cfg.Daemon.LockFile != "" {
		d.fileLock = lock.NewFileLock(cfg.Daemon.LockFile)
	}
	return d, nil
}

// SetLoader wires the config loader so interval changes on disk apply while
// the daemon runs. Must be called before Run().
func (d *Daemon) SetLoader(l *config.Loader) {
	d.loader = l
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if d.fileLock != nil {
		if err := d.fileLock.TryLock(); err != nil {
			return fmt.Errorf("daemon lock: %w", err)
		}
	}
	d.log(LogLevelInfo, "daemon starting pid=%d engine=%s", os.Getpid(), d.config.Engine.URL)

	// Step 2: Start pipeline loops
	d.heartbeat.Beat(LoopQueueHandler)
	d.heartbeat.Beat(LoopIgniter)
	d.handler = NewQueueHandler(d.client, d.slot, d.heartbeat, d.pollInterval, d.logger, d.logLevel)
	d.igniter = NewIgniter(d.client, d.slot, d.heartbeat, d.releaseInterval, d.logger, d.logLevel)
	if d.journal != nil {
		d.igniter.SetJournal(d.journal)
		d.log(LogLevelInfo, "audit journal enabled path=%s", d.config.Logging.AuditFile)
	}
	d.group.Go(func() error { return d.handler.Run(d.gctx) })
	d.group.Go(func() error { return d.igniter.Run(d.gctx) })

	// Step 3: Start health server
	if addr := d.config.Health.Addr; addr != "" {
		srv := health.NewServer(addr, d.heartbeat, d.config.Daemon.HeartbeatStale(), d.version, func(format string, args ...any) {
			d.log(LogLevelError, format, args...)
		})
		if err := srv.Start(); err != nil {
			d.Shutdown()
			return fmt.Errorf("start health server: %w", err)
		}
		d.health = srv
		d.log(LogLevelInfo, "health server listening on %s", addr)
	}

	// Step 4: Watch config for interval changes
	if d.loader != nil {
		d.loader.Watch(d.applyConfigChange, func(err error) {
			d.log(LogLevelWarn, "%v", err)
		})
	}

	d.log(LogLevelInfo, "daemon ready")

	// Step 5: Wait for signals
	d.waitSignals()

	return nil
}

// applyConfigChange absorbs a config file rewrite. Only the loop intervals
// and the log level apply live; everything else needs a restart.
func (d *Daemon) applyConfigChange(old, cur config.Config) {
	d.cfgMu.Lock()
	d.config.QueueHandler = cur.QueueHandler
	d.config.Igniter = cur.Igniter
	d.config.Logging.Level = cur.Logging.Level
	d.cfgMu.Unlock()

	d.logLevel.Set(parseLogLevel(cur.Logging.Level))

	if old.QueueHandler != cur.QueueHandler || old.Igniter != cur.Igniter {
		d.log(LogLevelInfo, "intervals_updated poll=%s release=%s", cur.QueueHandler.PollInterval(), cur.Igniter.ReleaseInterval())
	}
	if old.Logging.Level != cur.Logging.Level {
		d.log(LogLevelInfo, "log_level_updated level=%s", cur.Logging.Level)
	}
	if old.Engine != cur.Engine || old.Health != cur.Health ||
		old.Daemon != cur.Daemon || old.Logging.File != cur.Logging.File {
		d.log(LogLevelWarn, "engine/daemon/health settings changed on disk, restart required to apply")
	}
}

func (d *Daemon) pollInterval() time.Duration {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.config.QueueHandler.PollInterval()
}

func (d *Daemon) releaseInterval() time.Duration {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.config.Igniter.ReleaseInterval()
}

// waitSignals blocks until a shutdown signal arrives or Shutdown is
// triggered elsewhere.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

		// Second signal → force exit
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}()

		d.Shutdown()
	case <-d.ctx.Done():
		d.Shutdown()
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (loops exit at their next suspension point)
		d.cancel()

		timeout := d.currentConfig().Daemon.ShutdownTimeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		// 2. Stop the health server
		if d.health != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := d.health.Shutdown(ctx); err != nil {
				d.log(LogLevelWarn, "health server shutdown: %v", err)
			}
			cancel()
		}

		// 3. Drain the loops with timeout
		done := make(chan struct{})
		go func() {
			d.group.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "pipeline loops drained")
		case <-time.After(timeout):
			d.log(LogLevelWarn, "shutdown timeout after %s, a loop may be mid-call", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.fileLock != nil {
		d.fileLock.Unlock()
	}
	if d.journal != nil {
		d.journal.Close()
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) currentConfig() config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.config
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel.Level() {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
