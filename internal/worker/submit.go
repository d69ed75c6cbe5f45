package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/postrelay/internal/relay"
)

// Submitter records run requests and hands them to the queue. It is shared by
// every asynchronous trigger so coalescing works across them.
type Submitter struct {
	runs  relay.RunStore
	queue relay.Queue
	ids   relay.IDGenerator
	clock relay.Clock

	mu      sync.Mutex
	pending string
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(runs relay.RunStore, queue relay.Queue, ids relay.IDGenerator, clock relay.Clock) *Submitter {
	return &Submitter{runs: runs, queue: queue, ids: ids, clock: clock}
}

// Record creates a queued run record without enqueuing it. Callers that run
// inline use it before Worker.Process.
func (s *Submitter) Record(ctx context.Context, trigger string) (relay.RunRequest, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return relay.RunRequest{}, fmt.Errorf("generate run id: %w", err)
	}
	req := relay.RunRequest{RunID: runID, Trigger: trigger, Submitted: s.clock.Now()}
	run := relay.Run{
		ID:        req.RunID,
		Status:    relay.RunStatusQueued,
		Trigger:   trigger,
		Submitted: req.Submitted,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return relay.RunRequest{}, fmt.Errorf("create run: %w", err)
	}
	return req, nil
}

// Submit queues a run. When a run is already pending it returns that run's ID
// with coalesced set; the new record is closed as failed with a pointer to it.
func (s *Submitter) Submit(ctx context.Context, trigger string) (runID string, coalesced bool, err error) {
	req, err := s.Record(ctx, trigger)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.queue.Enqueue(ctx, req)
	switch {
	case errors.Is(err, relay.ErrQueueFull):
		msg := "coalesced into pending run " + s.pending
		if uerr := s.runs.UpdateRun(ctx, req.RunID, relay.RunStatusFailed, msg, nil); uerr != nil {
			return "", false, fmt.Errorf("close coalesced run: %w", uerr)
		}
		return s.pending, true, nil
	case err != nil:
		if uerr := s.runs.UpdateRun(ctx, req.RunID, relay.RunStatusFailed, err.Error(), nil); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return "", false, fmt.Errorf("enqueue run: %w", err)
	}
	s.pending = req.RunID
	return req.RunID, false, nil
}
