// Package memstore provides an in-process actionqueue.Store. Entries do not survive a restart;
// use it for tests, benchmarks and clients that accept losing the queue on exit.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/velmie/actionqueue"
)

// Store keeps a private copy of the last saved list.
type Store struct {
	mu      sync.Mutex
	entries []actionqueue.QueuedEntry
	saves   int
}

var _ actionqueue.Store = (*Store)(nil)

// New returns a Store seeded with entries.
func New(entries ...actionqueue.QueuedEntry) *Store {
	return &Store{entries: clone(entries)}
}

// LoadAll implements actionqueue.Store.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return clone(s.entries), nil
}

// SaveAll implements actionqueue.Store.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = clone(entries)
	s.saves++
	s.mu.Unlock()

	return nil
}

// Saves returns how many times SaveAll succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

func clone(entries []actionqueue.QueuedEntry) []actionqueue.QueuedEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]actionqueue.QueuedEntry, len(entries))
	for i, entry := range entries {
		entry.Payload = slices.Clone(entry.Payload)
		out[i] = entry
	}

	return out
}
