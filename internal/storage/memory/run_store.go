package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.RunStore = (*RunStore)(nil)

// DefaultRunHistory bounds the run store when no capacity is given.
const DefaultRunHistory = 100

// RunStore keeps the most recent run records, evicting the oldest once the
// capacity is reached.
type RunStore struct {
	mu       sync.RWMutex
	clock    relay.Clock
	capacity int
	runs     map[string]relay.Run
	order    []string
}

// NewRunStore constructs a RunStore holding at most capacity runs.
func NewRunStore(capacity int, clock relay.Clock) *RunStore {
	if capacity <= 0 {
		capacity = DefaultRunHistory
	}
	return &RunStore{
		clock:    clock,
		capacity: capacity,
		runs:     make(map[string]relay.Run),
	}
}

// CreateRun stores a new run record.
func (s *RunStore) CreateRun(_ context.Context, run relay.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// UpdateRun moves a run to status, stamping start and finish times.
func (s *RunStore) UpdateRun(
	_ context.Context,
	runID string,
	status relay.RunStatus,
	errText string,
	summary *relay.Summary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, relay.ErrNotFound)
	}
	now := s.clock.Now()
	run.Status = status
	run.ErrorText = errText
	if summary != nil {
		sum := *summary
		run.Summary = &sum
	}
	if status == relay.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if isTerminal(status) {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (relay.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return relay.Run{}, fmt.Errorf("run %s: %w", runID, relay.ErrNotFound)
	}
	return run, nil
}

// Len reports how many runs are retained.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func isTerminal(status relay.RunStatus) bool {
	return status == relay.RunStatusSucceeded || status == relay.RunStatusFailed
}
