package relay

import (
	"errors"
	"fmt"
	"regexp"
)

var validSource = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ValidateSource rejects source names that cannot safely key a file, object
// or row.
func ValidateSource(source string) error {
	if !validSource.MatchString(source) {
		return fmt.Errorf("invalid source name %q", source)
	}
	return nil
}

var (
	// ErrNoMedia marks a post without a media locator; it is skipped, not sent.
	ErrNoMedia = errors.New("post has no media url")
	// ErrBadMediaURL marks a media locator that is not an absolute http(s) URL.
	ErrBadMediaURL = errors.New("malformed media url")
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrQueueFull is returned when a run is already pending.
	ErrQueueFull = errors.New("run already pending")
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// FetchError reports a failed call to the remote content API. The run aborts
// and the cursor stays where it was.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError reports a failed delivery of a single post. It never aborts a run.
type DeliveryError struct {
	PostID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver post %d: %v", e.PostID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PersistError reports a cursor store failure. Deliveries that already
// happened are not rolled back.
type PersistError struct {
	Source string
	Op     string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s cursor %q: %v", e.Op, e.Source, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
