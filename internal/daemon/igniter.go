package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/msageha/kestrel/internal/audit"
	"github.com/msageha/kestrel/internal/engine"
	"github.com/msageha/kestrel/internal/model"
	"github.com/msageha/kestrel/internal/queue"
)

// verdict is the outcome of duplicate resolution for one candidate.
type verdict int

const (
	verdictRelease verdict = iota
	verdictDuplicate
	verdictUnknown
)

// Igniter drains one workflow per cycle from the current snapshot and
// issues the admission decision to the engine.
type Igniter struct {
	client    EngineClient
	slot      *queue.Slot
	heartbeat *Heartbeats
	interval  func() time.Duration
	logger    *log.Logger
	logLevel  *levelVar
	journal   *audit.Journal
}

// NewIgniter creates the release loop. interval is read at the top of every
// cycle so configuration changes apply without a restart.
func NewIgniter(client EngineClient, slot *queue.Slot, hb *Heartbeats, interval func() time.Duration, logger *log.Logger, logLevel *levelVar) *Igniter {
	return &Igniter{
		client:    client,
		slot:      slot,
		heartbeat: hb,
		interval:  interval,
		logger:    logger,
		logLevel:  logLevel,
	}
}

// SetJournal attaches the admission decision journal. A nil journal
// disables recording.
func (ig *Igniter) SetJournal(j *audit.Journal) {
	ig.journal = j
}

// Run executes release cycles until ctx is cancelled. Every cycle ends with
// an interval sleep, bounding the engine call rate, except when the engine
// answers a release with 403.
func (ig *Igniter) Run(ctx context.Context) error {
	ig.log(LogLevelInfo, "igniter started interval=%s", ig.interval())
	for {
		if ctx.Err() != nil {
			ig.log(LogLevelInfo, "igniter stopped")
			return nil
		}
		ig.heartbeat.Beat(LoopIgniter)
		if ig.ReleaseCycle(ctx) {
			if !sleepCtx(ctx, ig.interval()) {
				ig.log(LogLevelInfo, "igniter stopped")
				return nil
			}
		}
	}
}

// ReleaseCycle pops one workflow, resolves duplicates and calls the engine.
// It reports whether the cycle should end with the usual sleep; only a 403
// on release skips it, to avoid idling while the engine is not ready to
// accept releases.
func (ig *Igniter) ReleaseCycle(ctx context.Context) bool {
	w, ok := ig.slot.Load().TryPop()
	if !ok {
		ig.log(LogLevelDebug, "queue empty, going back to sleep")
		return true
	}

	if w.Forced() {
		ig.log(LogLevelInfo, "force_release id=%s", w.ID)
		return ig.release(ctx, w)
	}

	switch ig.resolveDuplicate(ctx, w) {
	case verdictDuplicate:
		ig.abort(ctx, w)
		return true
	case verdictUnknown:
		ig.log(LogLevelWarn, "duplicate_check_unresolved id=%s, skipping this cycle", w.ID)
		return true
	default:
		return ig.release(ctx, w)
	}
}

// resolveDuplicate decides whether w is superseded by a different held
// workflow sharing its hash-id with a strictly newer bundle version. A
// failed or undecodable lookup yields verdictUnknown: neither release nor
// abort happens on ambiguity.
func (ig *Igniter) resolveDuplicate(ctx context.Context, w model.Workflow) verdict {
	hashID := w.HashID()
	if hashID == "" {
		ig.log(LogLevelDebug, "no hash-id label id=%s, duplicate check skipped", w.ID)
		return verdictRelease
	}

	resp, err := ig.client.Query(ctx, engine.LabeledWorkflows(model.LabelHashID, hashID))
	if err != nil {
		ig.log(LogLevelError, "duplicate_query_failed id=%s error=%v", w.ID, err)
		return verdictUnknown
	}
	if !resp.Success() {
		ig.log(LogLevelError, "duplicate_query_rejected id=%s status=%d body=%s", w.ID, resp.StatusCode, resp.Body)
		return verdictUnknown
	}
	qr, err := engine.ParseQueryResponse(resp.Body)
	if err != nil {
		ig.log(LogLevelError, "duplicate_query_decode_failed id=%s error=%v", w.ID, err)
		return verdictUnknown
	}

	ownVersion, err := model.ParseBundleVersion(w.BundleVersion)
	if err != nil {
		// Without a comparable version of our own, no peer can be ranked
		// against the candidate.
		ig.log(LogLevelWarn, "bundle_version_unparseable id=%s value=%q", w.ID, w.BundleVersion)
		return verdictRelease
	}

	for _, meta := range qr.Results {
		if meta.ID == w.ID {
			continue
		}
		if model.Status(meta.Status) != model.StatusOnHold {
			continue
		}
		peerVersion, err := model.ParseBundleVersion(meta.Labels[model.LabelBundleVersion])
		if err != nil {
			ig.log(LogLevelWarn, "peer_version_unparseable id=%s peer=%s value=%q", w.ID, meta.ID, meta.Labels[model.LabelBundleVersion])
			continue
		}
		// Strictly newer only; an equal version never supersedes.
		if peerVersion.After(ownVersion) {
			ig.log(LogLevelInfo, "superseded id=%s by=%s hash_id=%s", w.ID, meta.ID, hashID)
			return verdictDuplicate
		}
	}
	return verdictRelease
}

// release issues the releaseHold call and reports whether to sleep after.
func (ig *Igniter) release(ctx context.Context, w model.Workflow) bool {
	resp, err := ig.client.ReleaseHold(ctx, w.ID)
	if err != nil {
		ig.log(LogLevelError, "release_failed id=%s error=%v", w.ID, err)
		return true
	}
	switch {
	case resp.Success():
		ig.log(LogLevelInfo, "workflow_released id=%s", w.ID)
		ig.record(audit.OutcomeReleased, w, "", 0)
		return true
	case resp.StatusCode == http.StatusForbidden:
		ig.log(LogLevelWarn, "release_forbidden id=%s, skipping sleep to avoid idle time", w.ID)
		ig.record(audit.OutcomeRejected, w, "release", resp.StatusCode)
		return false
	default:
		ig.log(LogLevelError, "release_rejected id=%s status=%d body=%s", w.ID, resp.StatusCode, resp.Body)
		ig.record(audit.OutcomeRejected, w, "release", resp.StatusCode)
		return true
	}
}

// abort issues the abort call for a superseded workflow. The workflow ends
// in a terminal state either way; failures are logged and not retried.
func (ig *Igniter) abort(ctx context.Context, w model.Workflow) {
	resp, err := ig.client.Abort(ctx, w.ID)
	if err != nil {
		ig.log(LogLevelError, "abort_failed id=%s error=%v", w.ID, err)
		return
	}
	if !resp.Success() {
		ig.log(LogLevelError, "abort_rejected id=%s status=%d body=%s", w.ID, resp.StatusCode, resp.Body)
		ig.record(audit.OutcomeRejected, w, "abort", resp.StatusCode)
		return
	}
	ig.log(LogLevelInfo, "workflow_aborted id=%s reason=superseded", w.ID)
	ig.record(audit.OutcomeAborted, w, "superseded", 0)
}

// record writes one journal entry. Transport failures never reach here;
// only decisions the engine acknowledged are journaled.
func (ig *Igniter) record(outcome string, w model.Workflow, reason string, status int) {
	if ig.journal == nil {
		return
	}
	err := ig.journal.Record(audit.Entry{
		Outcome:    outcome,
		WorkflowID: w.ID,
		BundleUUID: w.BundleUUID,
		HashID:     w.HashID(),
		Reason:     reason,
		StatusCode: status,
	})
	if err != nil {
		ig.log(LogLevelWarn, "audit_write_failed id=%s error=%v", w.ID, err)
	}
}

func (ig *Igniter) log(level LogLevel, format string, args ...any) {
	if level < ig.logLevel.Level() {
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
	ig.logger.Printf("%s %s igniter: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
