// Package filestore persists the queue as a single JSON file.
//
// SaveAll writes a temporary file in the same directory, syncs it and renames it over the
// target, so a crash leaves either the old or the new list on disk.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/velmie/actionqueue"
)

const defaultFileMode fs.FileMode = 0o600

// ErrPathRequired is returned when no file path is configured.
var ErrPathRequired = errors.New("actionqueue filestore: path is required")

// Store implements actionqueue.Store on a file.
type Store struct {
	path string
	mode fs.FileMode

	mu sync.Mutex
}

var _ actionqueue.Store = (*Store)(nil)

// Option configures the file store.
type Option func(*Store)

// WithFileMode sets the permission bits of the queue file.
func WithFileMode(mode fs.FileMode) Option {
	return func(s *Store) {
		s.mode = mode
	}
}

// New returns a Store writing to path. Missing parent directories are created on first save.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	s := &Store{path: filepath.Clean(path), mode: defaultFileMode}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Path returns the queue file path.
func (s *Store) Path() string {
	return s.path
}

// LoadAll implements actionqueue.Store. A missing file is an empty queue.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actionqueue filestore: read %s: %w", s.path, err)
	}

	entries, err := actionqueue.DecodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("actionqueue filestore: %s: %w", s.path, err)
	}

	return entries, nil
}

// SaveAll implements actionqueue.Store.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := actionqueue.EncodeEntries(entries)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeAtomic(data)
}

func (s *Store) writeAtomic(data []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("actionqueue filestore: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("actionqueue filestore: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("actionqueue filestore: write: %w", err)
	}
	if err := tmp.Chmod(s.mode); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("actionqueue filestore: chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("actionqueue filestore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("actionqueue filestore: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("actionqueue filestore: rename: %w", err)
	}

	return nil
}
