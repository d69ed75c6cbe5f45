// Package worker implements the run coordinator: one sequential pass from the
// stored cursor through fetch, filter and delivery back to the cursor store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/metrics"
	"github.com/JakeFAU/postrelay/internal/relay"
)

// Dispatcher delivers a run's fresh posts.
type Dispatcher interface {
	Dispatch(ctx context.Context, fresh []relay.Post) relay.Tally
}

// Config controls Worker behavior.
type Config struct {
	Source string
	// Topic receives a Summary after every run. Empty disables notifications.
	Topic string
	// RunTimeout bounds a queued run once it starts. Zero means no bound.
	RunTimeout time.Duration
}

// Worker coordinates runs. At most one run executes at a time per Worker.
type Worker struct {
	cursors    relay.CursorStore
	fetcher    relay.Fetcher
	dispatcher Dispatcher
	publisher  relay.Publisher
	runs       relay.RunStore
	queue      relay.Queue
	clock      relay.Clock
	ids        relay.IDGenerator
	cfg        Config
	logger     *zap.Logger

	lock    chan struct{}
	running atomic.Bool
}

// New constructs a Worker. publisher, runs and queue may be nil when the
// caller only needs RunOnce.
func New(
	cursors relay.CursorStore,
	fetcher relay.Fetcher,
	dispatcher Dispatcher,
	publisher relay.Publisher,
	runs relay.RunStore,
	queue relay.Queue,
	clock relay.Clock,
	ids relay.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cursors:    cursors,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		publisher:  publisher,
		runs:       runs,
		queue:      queue,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger.Named("worker"),
		lock:       make(chan struct{}, 1),
	}
}

// Running reports whether a run is executing.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Run blocks, consuming queued run requests until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("queue closed, worker stopping", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID), zap.String("trigger", req.Trigger))
		w.processQueued(ctx, req)
	}
}

// processQueued runs a dequeued request to completion. Shutdown stops the
// loop between runs, never inside one. When a synchronous run holds the lock
// the request waits for it instead of failing.
func (w *Worker) processQueued(ctx context.Context, req relay.RunRequest) {
	runCtx := context.WithoutCancel(ctx)
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.RunTimeout)
		defer cancel()
	}
	if err := w.acquire(runCtx, true); err != nil {
		w.updateRun(runCtx, req.RunID, relay.RunStatusFailed, err.Error(), nil)
		return
	}
	defer w.release()
	// Outcome is recorded in the run store; nothing else to do here.
	_, _ = w.processLocked(runCtx, req)
}

// Process executes a request and records its lifecycle in the run store. It
// fails with relay.ErrRunInProgress when another run holds this Worker.
func (w *Worker) Process(ctx context.Context, req relay.RunRequest) (relay.Summary, error) {
	if err := w.acquire(ctx, false); err != nil {
		w.updateRun(ctx, req.RunID, relay.RunStatusFailed, err.Error(), nil)
		return relay.Summary{}, err
	}
	defer w.release()
	return w.processLocked(ctx, req)
}

func (w *Worker) processLocked(ctx context.Context, req relay.RunRequest) (relay.Summary, error) {
	w.updateRun(ctx, req.RunID, relay.RunStatusRunning, "", nil)
	summary, err := w.execute(ctx, req.RunID)
	if err != nil {
		w.updateRun(ctx, req.RunID, relay.RunStatusFailed, err.Error(), &summary)
		return summary, err
	}
	w.updateRun(ctx, req.RunID, relay.RunStatusSucceeded, "", &summary)
	return summary, nil
}

// RunOnce executes one run under a fresh run ID.
func (w *Worker) RunOnce(ctx context.Context) (relay.Summary, error) {
	runID, err := w.ids.NewID()
	if err != nil {
		return relay.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	return w.Execute(ctx, runID)
}

// Execute performs one run. It returns relay.ErrRunInProgress immediately when
// another run holds this Worker.
func (w *Worker) Execute(ctx context.Context, runID string) (relay.Summary, error) {
	if err := w.acquire(ctx, false); err != nil {
		return relay.Summary{}, err
	}
	defer w.release()
	return w.execute(ctx, runID)
}

// acquire takes the run lock, blocking only when wait is set.
func (w *Worker) acquire(ctx context.Context, wait bool) error {
	if wait {
		select {
		case w.lock <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("wait for active run: %w", ctx.Err())
		}
	} else {
		select {
		case w.lock <- struct{}{}:
		default:
			return relay.ErrRunInProgress
		}
	}
	w.running.Store(true)
	metrics.SetRunInProgress(true)
	return nil
}

func (w *Worker) release() {
	w.running.Store(false)
	metrics.SetRunInProgress(false)
	<-w.lock
}

func (w *Worker) execute(ctx context.Context, runID string) (relay.Summary, error) {
	logger := w.logger.With(zap.String("run_id", runID), zap.String("source", w.cfg.Source))
	summary := relay.Summary{
		RunID:     runID,
		Source:    w.cfg.Source,
		StartedAt: w.clock.Now(),
	}

	summary, err := w.pipeline(ctx, logger, summary)
	summary.FinishedAt = w.clock.Now()
	metrics.ObserveRun(string(summary.Outcome), summary.Duration())

	if err != nil {
		logger.Error("run failed", zap.String("outcome", string(summary.Outcome)), zap.Error(err))
	} else {
		logger.Info("run finished",
			zap.Stringer("summary", summary),
			zap.Int64("cursor", summary.Cursor),
			zap.Duration("duration", summary.Duration()),
		)
	}
	w.notify(ctx, logger, summary)
	return summary, err
}

func (w *Worker) pipeline(ctx context.Context, logger *zap.Logger, summary relay.Summary) (relay.Summary, error) {
	last, found, err := w.cursors.Load(ctx, w.cfg.Source)
	if err != nil {
		summary.Outcome = relay.OutcomePersistError
		return summary, &relay.PersistError{Source: w.cfg.Source, Op: "load", Err: err}
	}
	var prev *relay.Cursor
	if found {
		prev = &last
		lastID := last.LastID
		summary.PreviousCursor = &lastID
		summary.Cursor = lastID
	}

	batch, err := w.fetcher.Fetch(ctx, prev)
	if err != nil {
		summary.Outcome = relay.OutcomeFetchFailed
		var fetchErr *relay.FetchError
		if !errors.As(err, &fetchErr) {
			err = &relay.FetchError{Err: err}
		}
		return summary, err
	}
	summary.Fetched = len(batch)
	metrics.AddPostsFetched(len(batch))

	sel := relay.Select(batch, prev)
	summary.New = len(sel.Fresh)

	if len(sel.Fresh) == 0 {
		summary.Outcome = relay.OutcomeNothingNew
		// An empty first batch must not create a cursor at zero.
		if !found || sel.MaxID <= last.LastID {
			logger.Debug("nothing new, cursor unchanged")
			return summary, nil
		}
		return w.save(ctx, summary, sel.MaxID)
	}

	tally := w.dispatcher.Dispatch(ctx, sel.Fresh)
	summary.Delivered = tally.Delivered
	summary.Failed = tally.Failed
	summary.Skipped = tally.Skipped
	summary.Outcome = relay.OutcomeDelivered
	if tally.Failed > 0 {
		logger.Warn("some deliveries failed", zap.Int("failed", tally.Failed))
	}
	return w.save(ctx, summary, sel.MaxID)
}

func (w *Worker) save(ctx context.Context, summary relay.Summary, maxID int64) (relay.Summary, error) {
	cursor := relay.Cursor{Source: w.cfg.Source, LastID: maxID, UpdatedAt: w.clock.Now()}
	if err := w.cursors.Save(ctx, cursor); err != nil {
		summary.Outcome = relay.OutcomePersistError
		return summary, &relay.PersistError{Source: w.cfg.Source, Op: "save", Err: err}
	}
	summary.Cursor = maxID
	metrics.SetCursorPosition(w.cfg.Source, maxID)
	return summary, nil
}

func (w *Worker) notify(ctx context.Context, logger *zap.Logger, summary relay.Summary) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish run summary failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("run summary published", zap.String("topic", w.cfg.Topic), zap.String("message_id", id))
}

func (w *Worker) updateRun(ctx context.Context, runID string, status relay.RunStatus, errText string, summary *relay.Summary) {
	if w.runs == nil {
		return
	}
	if err := w.runs.UpdateRun(ctx, runID, status, errText, summary); err != nil {
		w.logger.Error("update run status failed",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
