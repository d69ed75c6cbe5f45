package relay

import (
	"fmt"
	"strings"
	"time"
)

// Post is one content item returned by the remote API. Optional fields are
// resolved at decode time: HasMedia is false when the API omitted the file URL
// and Artists is empty when no attribution was returned.
type Post struct {
	ID       int64    `json:"id"`
	MediaURL string   `json:"media_url,omitempty"`
	HasMedia bool     `json:"has_media"`
	Artists  []string `json:"artists"`
}

// Cursor is the persisted watermark for a content source.
type Cursor struct {
	Source    string    `json:"source"`
	LastID    int64     `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Selection is the outcome of filtering a batch against the stored cursor.
type Selection struct {
	// Fresh holds the posts newer than the cursor, in batch order.
	Fresh []Post
	// MaxID is the highest identifier observed in the batch, never lower than
	// the prior cursor.
	MaxID int64
}

// Outcome classifies how a run ended.
type Outcome string

// Run outcomes reported in summaries and metrics.
const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeNothingNew   Outcome = "nothing_new"
	OutcomeFetchFailed  Outcome = "fetch_failed"
	OutcomePersistError Outcome = "persist_failed"
)

// Tally counts per-post delivery results for one run.
type Tally struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summary is returned to the trigger surface after a run.
type Summary struct {
	RunID          string    `json:"run_id"`
	Source         string    `json:"source"`
	Outcome        Outcome   `json:"outcome"`
	Fetched        int       `json:"fetched"`
	New            int       `json:"new"`
	Delivered      int       `json:"delivered"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	PreviousCursor *int64    `json:"previous_cursor,omitempty"`
	Cursor         int64     `json:"cursor"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// String renders the short human-readable summary.
func (s Summary) String() string {
	switch s.Outcome {
	case OutcomeFetchFailed:
		return "fetch failed"
	case OutcomeNothingNew:
		return "no new posts"
	}
	parts := []string{
		fmt.Sprintf("%d new", s.New),
		fmt.Sprintf("%d delivered", s.Delivered),
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	out := strings.Join(parts, ", ")
	if s.Outcome == OutcomePersistError {
		out += " (cursor not saved)"
	}
	return out
}

// Duration reports the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// RunStatus represents the lifecycle state of a triggered run.
type RunStatus string

// Run status values kept in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the observability record for one triggered run. The pipeline never
// reads it back.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Trigger   string     `json:"trigger"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   *Summary   `json:"summary,omitempty"`
}

// RunRequest is the queue item for a pending run.
type RunRequest struct {
	RunID     string
	Trigger   string
	Submitted time.Time
}
