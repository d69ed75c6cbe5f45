package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	queuememory "github.com/JakeFAU/postrelay/internal/queue/memory"
	"github.com/JakeFAU/postrelay/internal/relay"
	"github.com/JakeFAU/postrelay/internal/storage/memory"
)

func newTestSubmitter() (*Submitter, *memory.RunStore, *queuememory.Queue) {
	clock := fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	runs := memory.NewRunStore(10, clock)
	q := queuememory.NewQueue(1)
	return NewSubmitter(runs, q, &fakeIDs{}, clock), runs, q
}

func TestSubmitQueuesRun(t *testing.T) {
	t.Parallel()
	sub, runs, q := newTestSubmitter()
	ctx := context.Background()

	runID, coalesced, err := sub.Submit(ctx, "api")
	require.NoError(t, err)
	require.False(t, coalesced)
	require.Equal(t, "run-1", runID)

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, relay.RunStatusQueued, run.Status)
	require.Equal(t, "api", run.Trigger)

	req, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, runID, req.RunID)
}

func TestSubmitCoalescesPendingRun(t *testing.T) {
	t.Parallel()
	sub, runs, q := newTestSubmitter()
	ctx := context.Background()

	first, _, err := sub.Submit(ctx, "api")
	require.NoError(t, err)
	second, coalesced, err := sub.Submit(ctx, "schedule")
	require.NoError(t, err)
	require.True(t, coalesced)
	require.Equal(t, first, second)
	require.Equal(t, 1, q.Len())

	dropped, err := runs.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, relay.RunStatusFailed, dropped.Status)
	require.Equal(t, "coalesced into pending run run-1", dropped.ErrorText)
}

func TestSubmitEnqueueFailure(t *testing.T) {
	t.Parallel()
	sub, runs, q := newTestSubmitter()
	q.Close()

	_, _, err := sub.Submit(context.Background(), "api")
	require.ErrorIs(t, err, queuememory.ErrClosed)

	run, gerr := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, gerr)
	require.Equal(t, relay.RunStatusFailed, run.Status)
}

func TestRecordDoesNotEnqueue(t *testing.T) {
	t.Parallel()
	sub, runs, q := newTestSubmitter()

	req, err := sub.Record(context.Background(), "cli")
	require.NoError(t, err)
	require.Equal(t, "cli", req.Trigger)
	require.Zero(t, q.Len())

	_, err = runs.GetRun(context.Background(), req.RunID)
	require.NoError(t, err)
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestRecordIDFailure(t *testing.T) {
	t.Parallel()
	clock := fakeClock{}
	sub := NewSubmitter(memory.NewRunStore(1, clock), queuememory.NewQueue(1), failingIDs{}, clock)

	_, err := sub.Record(context.Background(), "api")
	require.ErrorContains(t, err, "generate run id")
}
