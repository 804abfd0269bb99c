package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/msageha/kestrel/internal/engine"
	"github.com/msageha/kestrel/internal/model"
	"github.com/msageha/kestrel/internal/queue"
)

// QueueHandler polls the engine for held workflows and publishes each result
// set as a fresh queue snapshot.
type QueueHandler struct {
	client    EngineClient
	slot      *queue.Slot
	heartbeat *Heartbeats
	interval  func() time.Duration
	logger    *log.Logger
	logLevel  *levelVar
}

// NewQueueHandler creates the intake poller. interval is read at the top of
// every cycle so configuration changes apply without a restart.
func NewQueueHandler(client EngineClient, slot *queue.Slot, hb *Heartbeats, interval func() time.Duration, logger *log.Logger, logLevel *levelVar) *QueueHandler {
	return &QueueHandler{
		client:    client,
		slot:      slot,
		heartbeat: hb,
		interval:  interval,
		logger:    logger,
		logLevel:  logLevel,
	}
}

// Run executes poll cycles until ctx is cancelled.
func (qh *QueueHandler) Run(ctx context.Context) error {
	qh.log(LogLevelInfo, "queue handler started interval=%s", qh.interval())
	for {
		if ctx.Err() != nil {
			qh.log(LogLevelInfo, "queue handler stopped")
			return nil
		}
		qh.heartbeat.Beat(LoopQueueHandler)
		qh.PollCycle(ctx)
		if !sleepCtx(ctx, qh.interval()) {
			qh.log(LogLevelInfo, "queue handler stopped")
			return nil
		}
	}
}

// PollCycle performs one poll: query the engine for held workflows,
// normalize them to oldest-first order, and swap in a fresh snapshot.
// Failures leave the current snapshot untouched.
func (qh *QueueHandler) PollCycle(ctx context.Context) {
	resp, err := qh.client.Query(ctx, engine.HeldWorkflows())
	if err != nil {
		qh.log(LogLevelError, "query_failed error=%v", err)
		return
	}
	if !resp.Success() {
		qh.log(LogLevelError, "query_rejected status=%d body=%s", resp.StatusCode, resp.Body)
		return
	}
	qr, err := engine.ParseQueryResponse(resp.Body)
	if err != nil {
		qh.log(LogLevelError, "query_decode_failed error=%v", err)
		return
	}
	if qr.TotalResultsCount != len(qr.Results) {
		qh.log(LogLevelWarn, "results_count_mismatch reported=%d received=%d", qr.TotalResultsCount, len(qr.Results))
	}
	if len(qr.Results) == 0 {
		qh.log(LogLevelDebug, "no held workflows, keeping previous snapshot")
		return
	}

	workflows := qh.prepare(qr.Results)

	// Swap before the first push so the igniter never sees stale entries
	// mixed into the new snapshot.
	fresh := queue.New()
	qh.slot.Swap(fresh)
	for _, w := range workflows {
		fresh.Push(w)
	}
	qh.log(LogLevelInfo, "snapshot_published count=%d", len(workflows))
}

// prepare maps metadata blocks to workflows in oldest-submission-first order.
func (qh *QueueHandler) prepare(results []engine.WorkflowMeta) []model.Workflow {
	if !qh.oldestFirst(results) {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	workflows := make([]model.Workflow, 0, len(results))
	for _, meta := range results {
		workflows = append(workflows, model.NewWorkflow(meta.ID, meta.Labels))
	}
	return workflows
}

// oldestFirst reports whether results arrived oldest-submission-first. The
// engine flips chronological order between backend versions, so compare the
// two ends. Unparseable timestamps default to oldest-first.
func (qh *QueueHandler) oldestFirst(results []engine.WorkflowMeta) bool {
	if len(results) < 2 {
		return true
	}
	first, err := model.ParseSubmissionTime(results[0].Submission)
	if err != nil {
		qh.log(LogLevelWarn, "submission_parse_failed value=%q error=%v, assuming oldest-first", results[0].Submission, err)
		return true
	}
	last, err := model.ParseSubmissionTime(results[len(results)-1].Submission)
	if err != nil {
		qh.log(LogLevelWarn, "submission_parse_failed value=%q error=%v, assuming oldest-first", results[len(results)-1].Submission, err)
		return true
	}
	return !first.After(last)
}

func (qh *QueueHandler) log(level LogLevel, format string, args ...any) {
	if level < qh.logLevel.Level() {
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
	qh.logger.Printf("%s %s queue_handler: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
