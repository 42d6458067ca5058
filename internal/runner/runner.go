package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/db"
	"github.com/tasklane/orchestrator/internal/metrics"
	"github.com/tasklane/orchestrator/internal/orchestration"
	"github.com/tasklane/orchestrator/internal/websearch"
)

// Config tunes the background worker pool.
type Config struct {
	Workers   int
	QueueSize int
	BatchSize int
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 64, BatchSize: 50}
}

// itemStore is the slice of the items store the runner needs.
type itemStore interface {
	ClaimPending(ctx context.Context, limit int) ([]db.Item, error)
	SetState(ctx context.Context, id uuid.UUID, state string, doneOutput *string) error
	RecordAnalysis(ctx context.Context, id uuid.UUID, taskType string, confidence float64, suitable bool) error
	AppendLog(ctx context.Context, itemID uuid.UUID, level, message string, metadata db.JSONB) error
}

// executor runs one orchestration to a terminal state.
type executor interface {
	ExecuteTask(ctx context.Context, taskID, request string) *orchestration.State
}

// Runner drains pending items through orchestration on a bounded worker
// pool. A failed run returns the item to pending so it can be retried.
type Runner struct {
	supervisor executor
	items      itemStore
	cfg        Config
	logger     *zap.Logger

	jobs chan db.Item
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// New creates a runner. Start must be called before Enqueue.
func New(supervisor executor, items itemStore, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Runner{
		supervisor: supervisor,
		items:      items,
		cfg:        cfg,
		logger:     logger,
		jobs:       make(chan db.Item, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.logger.Info("Runner started", zap.Int("workers", r.cfg.Workers))
}

// Stop closes the queue and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.jobs) })
	r.wg.Wait()
	r.logger.Info("Runner stopped")
}

// Enqueue hands one claimed item to the pool without blocking. The caller
// keeps ownership of the item when the queue is full.
func (r *Runner) Enqueue(item db.Item) error {
	select {
	case r.jobs <- item:
		metrics.RunnerQueueDepth.Set(float64(len(r.jobs)))
		return nil
	default:
		return fmt.Errorf("runner queue full")
	}
}

// ProcessBatch claims a batch of pending items and enqueues them. Items
// that do not fit in the queue are released back to pending.
func (r *Runner) ProcessBatch(ctx context.Context) (int, error) {
	items, err := r.items.ClaimPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, item := range items {
		if err := r.Enqueue(item); err != nil {
			r.release(ctx, item.ID, "runner queue full")
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// Poll claims and enqueues batches on a fixed interval until ctx is done.
func (r *Runner) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("Batch claim failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for item := range r.jobs {
		metrics.RunnerQueueDepth.Set(float64(len(r.jobs)))
		r.runItem(ctx, item)
	}
}

// runItem drives one item through orchestration and settles its state. The
// item never stays stuck in processing: panics and failures release it back
// to pending.
func (r *Runner) runItem(ctx context.Context, item db.Item) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RunnerPanicsRecovered.Inc()
			r.logger.Error("Background orchestration panicked",
				zap.String("item_id", item.ID.String()), zap.Any("panic", rec))
			r.release(ctx, item.ID, fmt.Sprintf("orchestration panic: %v", rec))
		}
	}()

	r.logger.Info("Starting background orchestration",
		zap.String("item_id", item.ID.String()), zap.String("title", item.Title))
	r.logItem(ctx, item.ID, "info", "orchestration started", nil)

	request := itemRequest(item)
	state := r.supervisor.ExecuteTask(ctx, item.ID.String(), request)

	if state.Analysis != nil {
		if err := r.items.RecordAnalysis(ctx, item.ID,
			state.Analysis.TaskType, state.Analysis.Confidence, state.Analysis.Suitable); err != nil {
			r.logger.Warn("Failed to record analysis",
				zap.String("item_id", item.ID.String()), zap.Error(err))
		}
	}

	if state.Analysis != nil && !state.Analysis.Suitable {
		// Not automatable; leave the item for a human.
		r.logItem(ctx, item.ID, "info", "not suitable for automation: "+state.Analysis.Reasoning, nil)
		r.release(ctx, item.ID, "not suitable for automation")
		return
	}

	if state.ExecutionStatus != orchestration.StatusCompleted {
		summary := errorSummary(state.Errors)
		r.logger.Error("Orchestration failed",
			zap.String("item_id", item.ID.String()), zap.String("reason", summary))
		r.logItem(ctx, item.ID, "error", summary, nil)
		r.release(ctx, item.ID, summary)
		return
	}

	summary := resultSummary(state)
	if err := r.items.SetState(ctx, item.ID, db.ItemStateCompleted, &summary); err != nil {
		r.logger.Error("Failed to complete item",
			zap.String("item_id", item.ID.String()), zap.Error(err))
		return
	}
	r.logItem(ctx, item.ID, "info", "orchestration completed", db.JSONB{
		"task_type": taskType(state),
	})
	r.logger.Info("Orchestration completed successfully",
		zap.String("item_id", item.ID.String()))
}

// release returns an item to pending so it can be retried.
func (r *Runner) release(ctx context.Context, id uuid.UUID, reason string) {
	if err := r.items.SetState(ctx, id, db.ItemStatePending, nil); err != nil {
		r.logger.Error("Failed to release item",
			zap.String("item_id", id.String()),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (r *Runner) logItem(ctx context.Context, id uuid.UUID, level, message string, metadata db.JSONB) {
	if err := r.items.AppendLog(ctx, id, level, message, metadata); err != nil {
		r.logger.Warn("Failed to append item log",
			zap.String("item_id", id.String()), zap.Error(err))
	}
}

// itemRequest joins title and description into the orchestration request.
func itemRequest(item db.Item) string {
	if item.Description == "" {
		return item.Title
	}
	return item.Title + "\n\n" + item.Description
}

func taskType(state *orchestration.State) string {
	if state.Analysis == nil {
		return "unknown"
	}
	return state.Analysis.TaskType
}

// resultSummary renders a human-readable outcome for the item.
func resultSummary(state *orchestration.State) string {
	var b strings.Builder

	confidence := 0.0
	if state.Analysis != nil {
		confidence = state.Analysis.Confidence
	}
	fmt.Fprintf(&b, "**Task Analysis:** %s task (confidence: %.0f%%)\n\n", taskType(state), confidence*100)

	if started, ok := startedAgentSummary(state); ok {
		b.WriteString(started)
		return b.String()
	}

	search, ok := state.AgentResponse("search_agent")
	if !ok {
		b.WriteString("Task completed but no detailed results available.")
		return b.String()
	}

	results, ok := search.Data["results"].(websearch.Results)
	if !ok || len(results.Results) == 0 {
		b.WriteString("Search completed but no results found.")
		return b.String()
	}

	first := results.Results[0]
	b.WriteString("**Search Results:**\n")
	fmt.Fprintf(&b, "- %s\n", first.Title)
	fmt.Fprintf(&b, "- %s\n", first.Summary)
	if first.URL != "" {
		fmt.Fprintf(&b, "- Source: %s\n", first.URL)
	}

	if agg, ok := state.Aggregated(); ok {
		fmt.Fprintf(&b, "\nCompleted at: %s", agg.CompletedAt.Format(time.RFC3339))
	}
	return b.String()
}

// startedAgentSummary covers long-running capabilities that report a handle
// instead of a final result, like browser sessions and outbound calls.
func startedAgentSummary(state *orchestration.State) (string, bool) {
	if resp, ok := state.AgentResponse("browser_agent"); ok && resp.Status == "started" {
		live, _ := resp.Data["live_url"].(string)
		if live != "" {
			return fmt.Sprintf("**Browser Task Started:**\n- Watch live: %s", live), true
		}
		return "**Browser Task Started.**", true
	}
	if resp, ok := state.AgentResponse("voice_agent"); ok && resp.Status == "call_initiated" {
		callID, _ := resp.Data["call_id"].(string)
		return fmt.Sprintf("**Call Initiated:** %s\nThe outcome arrives when the call completes.", callID), true
	}
	return "", false
}

// errorSummary renders the first failure, mirroring how operators read it.
func errorSummary(errors []orchestration.ErrorRecord) string {
	if len(errors) == 0 {
		return "Orchestration did not complete"
	}
	return fmt.Sprintf("Orchestration failed: %s", errors[0].Error)
}
