// Package local implements a cursor store backed by JSON files on the local
// filesystem, one file per source.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var (
	_ relay.CursorStore     = (*CursorStore)(nil)
	_ relay.CursorOverrider = (*CursorStore)(nil)
)

// Config captures the parameters for the local filesystem cursor store.
type Config struct {
	// BaseDir is the directory holding one <source>.json file per source.
	BaseDir string `mapstructure:"dir" yaml:"dir"`
}

// CursorStore reads and writes cursor files. Writes go through a temp file
// and a rename so a crash never leaves a torn cursor behind.
type CursorStore struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a local cursor store, creating BaseDir when missing.
func New(cfg Config) (*CursorStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &CursorStore{baseDir: cfg.BaseDir}, nil
}

// Load reads the cursor file for source.
func (s *CursorStore) Load(_ context.Context, source string) (relay.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(source)
}

// Save writes cursor unless the file already holds a higher position.
func (s *CursorStore) Save(_ context.Context, cursor relay.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok, err := s.read(cursor.Source)
	if err != nil {
		return err
	}
	if ok && prev.LastID > cursor.LastID {
		return nil
	}
	return s.write(cursor)
}

// Overwrite writes cursor regardless of the stored position.
func (s *CursorStore) Overwrite(_ context.Context, cursor relay.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cursor)
}

func (s *CursorStore) path(source string) (string, error) {
	if err := relay.ValidateSource(source); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, source+".json"), nil
}

func (s *CursorStore) read(source string) (relay.Cursor, bool, error) {
	path, err := s.path(source)
	if err != nil {
		return relay.Cursor{}, false, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a validated source name.
	if errors.Is(err, fs.ErrNotExist) {
		return relay.Cursor{}, false, nil
	}
	if err != nil {
		return relay.Cursor{}, false, fmt.Errorf("read cursor file: %w", err)
	}
	var c relay.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return relay.Cursor{}, false, fmt.Errorf("decode cursor file %s: %w", path, err)
	}
	c.Source = source
	return c, true, nil
}

func (s *CursorStore) write(cursor relay.Cursor) error {
	path, err := s.path(cursor.Source)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cursor, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	tmp, err := os.CreateTemp(s.baseDir, "."+cursor.Source+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cursor file: %w", err)
	}
	return nil
}
