// Package health exposes the daemon's liveness over HTTP.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Monitor reports loop heartbeats. Implemented by daemon.Heartbeats.
type Monitor interface {
	Snapshot() map[string]time.Time
	Stale(threshold time.Duration, now time.Time) []string
}

// Report is the /health payload. Loops maps each loop name to the age of
// its last heartbeat.
type Report struct {
	Status string            `json:"status"`
	Stale  []string          `json:"stale,omitempty"`
	Loops  map[string]string `json:"loops"`
}

// VersionInfo is the /version payload.
type VersionInfo struct {
	Version string `json:"version"`
}

// Server serves the health and version endpoints.
type Server struct {
	echo       *echo.Echo
	addr       string
	monitor    Monitor
	staleAfter time.Duration
	version    string
	logf       func(format string, args ...any)
}

// NewServer creates a health server listening on addr. A loop whose last
// heartbeat is older than staleAfter marks the daemon unhealthy.
func NewServer(addr string, m Monitor, staleAfter time.Duration, version string, logf func(format string, args ...any)) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		addr:       addr,
		monitor:    m,
		staleAfter: staleAfter,
		version:    version,
		logf:       logf,
	}
	e.GET("/health", s.handleHealth)
	e.GET("/version", s.handleVersion)
	return s
}

// Start binds the listen address and serves in the background. The bind is
// synchronous so an address conflict surfaces before the daemon reports
// ready.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listen on %s: %w", s.addr, err)
	}
	s.echo.Listener = ln
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.logf("health server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one
// when the port was 0.
func (s *Server) Addr() string {
	if s.echo.Listener != nil {
		return s.echo.Listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	now := time.Now()
	stale := s.monitor.Stale(s.staleAfter, now)

	loops := make(map[string]string)
	for name, at := range s.monitor.Snapshot() {
		loops[name] = now.Sub(at).Truncate(time.Millisecond).String()
	}

	if len(stale) > 0 {
		return c.JSON(http.StatusInternalServerError, Report{Status: "unhealthy", Stale: stale, Loops: loops})
	}
	return c.JSON(http.StatusOK, Report{Status: "ok", Loops: loops})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionInfo{Version: s.version})
}
