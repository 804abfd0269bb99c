package daemon

import (
	"sort"
	"sync"
	"time"
)

// Loop names registered with the heartbeat table.
const (
	LoopQueueHandler = "queue_handler"
	LoopIgniter      = "igniter"
)

// Heartbeats tracks when each pipeline loop last started a cycle. The
// health endpoint reads it to decide whether a loop has died or wedged.
type Heartbeats struct {
	mu    sync.Mutex
	beats map[string]time.Time
}

// NewHeartbeats returns an empty table.
func NewHeartbeats() *Heartbeats {
	return &Heartbeats{beats: make(map[string]time.Time)}
}

// Beat records that the named loop is alive now.
func (h *Heartbeats) Beat(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats[name] = time.Now()
}

// Snapshot returns a copy of every loop's last beat.
func (h *Heartbeats) Snapshot() map[string]time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]time.Time, len(h.beats))
	for name, at := range h.beats {
		out[name] = at
	}
	return out
}

// Stale returns the loops whose last beat is older than threshold at now,
// sorted by name.
func (h *Heartbeats) Stale(threshold time.Duration, now time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var stale []string
	for name, at := range h.beats {
		if now.Sub(at) > threshold {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}
