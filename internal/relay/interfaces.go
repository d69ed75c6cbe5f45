package relay

import (
	"context"
	"time"
)

// CursorStore persists one watermark per content source. Save must never move
// a stored cursor backwards.
type CursorStore interface {
	Load(ctx context.Context, source string) (Cursor, bool, error)
	Save(ctx context.Context, cursor Cursor) error
}

// CursorOverrider is implemented by stores that let an operator rewind a
// cursor. Overwrite bypasses the monotonic rule of Save.
type CursorOverrider interface {
	Overwrite(ctx context.Context, cursor Cursor) error
}

// Fetcher retrieves the candidate batch anchored after last. A nil cursor means
// no run has completed yet.
type Fetcher interface {
	Fetch(ctx context.Context, last *Cursor) ([]Post, error)
}

// Deliverer forwards one post with its caption to the messaging channel.
type Deliverer interface {
	Deliver(ctx context.Context, post Post, caption string) error
}

// Throttle paces outbound deliveries.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore keeps run records for the trigger surface.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, summary *Summary) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Queue carries pending run requests from triggers to the run worker.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
