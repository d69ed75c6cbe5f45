// Package gcs provides a cursor store backed by Google Cloud Storage, one JSON
// object per source.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var (
	_ relay.CursorStore     = (*CursorStore)(nil)
	_ relay.CursorOverrider = (*CursorStore)(nil)
)

// maxConflicts bounds how often Save re-reads after losing a generation race.
const maxConflicts = 5

var (
	errObjectNotExist = errors.New("object does not exist")
	errConflict       = errors.New("generation precondition failed")
)

// Config captures the parameters required to locate cursor objects.
type Config struct {
	Bucket string
	Prefix string
}

// objects is the slice of the GCS API the store needs. A generation of 0 on
// write means the object must not exist yet; a negative one disables the
// precondition.
type objects interface {
	read(ctx context.Context, name string) ([]byte, int64, error)
	write(ctx context.Context, name string, data []byte, generation int64) error
}

// CursorStore keeps cursors as objects and uses generation preconditions so a
// stale writer cannot rewind a cursor saved by another process.
type CursorStore struct {
	objects objects
	prefix  string
}

// New creates a GCS-backed cursor store.
func New(client *storage.Client, cfg Config) (*CursorStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return newWithObjects(&bucketObjects{bucket: client.Bucket(cfg.Bucket)}, cfg.Prefix), nil
}

func newWithObjects(o objects, prefix string) *CursorStore {
	return &CursorStore{objects: o, prefix: strings.Trim(prefix, "/")}
}

// Load reads and decodes the cursor object for source.
func (s *CursorStore) Load(ctx context.Context, source string) (relay.Cursor, bool, error) {
	c, _, ok, err := s.load(ctx, source)
	return c, ok, err
}

// Save writes cursor unless the stored object already holds a higher position.
func (s *CursorStore) Save(ctx context.Context, cursor relay.Cursor) error {
	for attempt := 0; attempt < maxConflicts; attempt++ {
		prev, gen, ok, err := s.load(ctx, cursor.Source)
		if err != nil {
			return err
		}
		if ok && prev.LastID > cursor.LastID {
			return nil
		}
		if !ok {
			gen = 0
		}
		err = s.put(ctx, cursor, gen)
		if errors.Is(err, errConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("save cursor %q: %w after %d attempts", cursor.Source, errConflict, maxConflicts)
}

// Overwrite writes cursor unconditionally.
func (s *CursorStore) Overwrite(ctx context.Context, cursor relay.Cursor) error {
	return s.put(ctx, cursor, -1)
}

func (s *CursorStore) objectName(source string) (string, error) {
	if err := relay.ValidateSource(source); err != nil {
		return "", err
	}
	return path.Join(s.prefix, source+".json"), nil
}

func (s *CursorStore) load(ctx context.Context, source string) (relay.Cursor, int64, bool, error) {
	name, err := s.objectName(source)
	if err != nil {
		return relay.Cursor{}, 0, false, err
	}
	data, gen, err := s.objects.read(ctx, name)
	if errors.Is(err, errObjectNotExist) {
		return relay.Cursor{}, 0, false, nil
	}
	if err != nil {
		return relay.Cursor{}, 0, false, err
	}
	var c relay.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return relay.Cursor{}, 0, false, fmt.Errorf("decode cursor object %s: %w", name, err)
	}
	c.Source = source
	return c, gen, true, nil
}

func (s *CursorStore) put(ctx context.Context, cursor relay.Cursor, generation int64) error {
	name, err := s.objectName(cursor.Source)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	return s.objects.write(ctx, name, data, generation)
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b *bucketObjects) read(ctx context.Context, name string) ([]byte, int64, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, errObjectNotExist
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open object %s: %w", name, err)
	}
	defer r.Close() //nolint:errcheck // read-only
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, r.Attrs.Generation, nil
}

func (b *bucketObjects) write(ctx context.Context, name string, data []byte, generation int64) error {
	obj := b.bucket.Object(name)
	switch {
	case generation == 0:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case generation > 0:
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		closeErr := w.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return errConflict
		}
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
