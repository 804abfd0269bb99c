// Package enginetest provides a fake engine server for tests.
package enginetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/msageha/kestrel/internal/engine"
)

// Operation names recorded per call.
const (
	OpQuery       = "query"
	OpReleaseHold = "releaseHold"
	OpAbort       = "abort"
)

// Call is one request the simulator served.
type Call struct {
	Op    string
	ID    string     // workflow id for releaseHold/abort
	Query url.Values // query parameters for query calls
}

// Simulator is an in-memory engine double. Fresh instances answer every
// operation with 200 and an empty result set; tests switch individual
// operations into canned failure modes.
type Simulator struct {
	Server *httptest.Server

	mu           sync.Mutex
	calls        []Call
	queryCode    int
	queryResults []engine.WorkflowMeta
	totalCount   *int
	releaseCode  int
	abortCode    int
	dropConns    bool
}

// New starts a simulator. Callers own Close.
func New() *Simulator {
	s := &Simulator{
		queryCode:   http.StatusOK,
		releaseCode: http.StatusOK,
		abortCode:   http.StatusOK,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the underlying server down.
func (s *Simulator) Close() {
	s.Server.Close()
}

// URL returns the simulator's base URL.
func (s *Simulator) URL() string {
	return s.Server.URL
}

// SetQueryResults makes query calls answer 200 with these metadata blocks.
func (s *Simulator) SetQueryResults(metas ...engine.WorkflowMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCode = http.StatusOK
	s.queryResults = metas
}

// SetQueryStatus makes query calls answer with code and an error body.
func (s *Simulator) SetQueryStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCode = code
}

// SetTotalResultsCount overrides the totalResultsCount reported on query,
// independent of the actual result list length.
func (s *Simulator) SetTotalResultsCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCount = &n
}

// SetReleaseStatus makes releaseHold calls answer with code.
func (s *Simulator) SetReleaseStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCode = code
}

// SetAbortStatus makes abort calls answer with code.
func (s *Simulator) SetAbortStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortCode = code
}

// DropConnections makes every subsequent request fail at the transport
// layer by closing the connection before any response is written.
func (s *Simulator) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropConns = true
}

// Calls returns every request served so far, in order.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the recorded calls for one operation.
func (s *Simulator) CallsTo(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *Simulator) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	drop := s.dropConns
	s.mu.Unlock()

	if drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		panic("enginetest: response writer does not support hijacking")
	}

	// Paths: /api/workflows/{version}/query, /api/workflows/{version}/{id}/{op}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "workflows" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == OpQuery:
		s.handleQuery(w, r)
	case len(parts) == 5 && parts[4] == OpReleaseHold:
		s.handleRelease(w, parts[3])
	case len(parts) == 5 && parts[4] == OpAbort:
		s.handleAbort(w, parts[3])
	default:
		http.NotFound(w, r)
	}
}

func (s *Simulator) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpQuery, Query: r.URL.Query()})
	code := s.queryCode
	results := s.queryResults
	total := len(results)
	if s.totalCount != nil {
		total = *s.totalCount
	}
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{
			"status":  "fail",
			"message": fmt.Sprintf("query rejected with %d", code),
		})
		return
	}
	writeJSON(w, http.StatusOK, engine.QueryResponse{
		Results:           results,
		TotalResultsCount: total,
	})
}

func (s *Simulator) handleRelease(w http.ResponseWriter, id string) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpReleaseHold, ID: id})
	code := s.releaseCode
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{
			"status":  "fail",
			"message": fmt.Sprintf("release rejected for %s", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "Submitted"})
}

func (s *Simulator) handleAbort(w http.ResponseWriter, id string) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpAbort, ID: id})
	code := s.abortCode
	s.mu.Unlock()

	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{
			"status":  "fail",
			"message": fmt.Sprintf("abort rejected for %s", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "Aborting"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Meta builds one query result block with a fresh engine-style id.
func Meta(submission string, labels map[string]string) engine.WorkflowMeta {
	return engine.WorkflowMeta{
		ID:         uuid.NewString(),
		Submission: submission,
		Labels:     labels,
	}
}
