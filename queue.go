package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Queue owns the pending entries. It keeps them deduplicated, bounded and priority-tagged,
// and persists the full list before acknowledging any mutation.
type Queue struct {
	store Store
	cfg   Config

	mu      sync.Mutex
	entries []QueuedEntry
}

// OpenQueue loads the persisted entries from store and returns a ready Queue.
//
// A persisted list that violates the queue invariants (duplicate dedupe keys, more entries than
// the capacity) is repaired and saved back before the queue is returned.
func OpenQueue(ctx context.Context, store Store, opts ...Option) (*Queue, error) {
	if store == nil {
		panic("actionqueue: nil Store")
	}

	return openQueue(ctx, store, newConfig(opts))
}

func openQueue(ctx context.Context, store Store, cfg Config) (*Queue, error) {
	loaded, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("actionqueue: load queue: %w", err)
	}

	q := &Queue{store: store, cfg: cfg}
	entries, repaired, err := q.normalize(loaded)
	if err != nil {
		return nil, err
	}
	if repaired {
		if err := store.SaveAll(ctx, entries); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
		cfg.Logger.Warn("actionqueue repaired persisted queue", "loaded", len(loaded), "kept", len(entries))
	}
	q.entries = entries
	q.notify(len(entries))

	return q, nil
}

// Enqueue stores an action for later delivery and returns its entry id.
//
// An action whose dedupe key is already queued only refreshes LastTouchedAt of the existing
// entry and returns its id. When the insert overflows the capacity, the lowest-priority, oldest
// entry is evicted; if that is the new entry itself, nothing changes and ErrQueueFull is returned.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (uuid.UUID, error) {
	if err := ValidateAction(kind, payload); err != nil {
		return uuid.Nil, err
	}
	key, err := DedupeKey(kind, payload)
	if err != nil {
		return uuid.Nil, err
	}

	var (
		id       uuid.UUID
		deduped  bool
		evicted  *QueuedEntry
		priority Priority
	)
	_, err = q.mutate(ctx, func(entries []QueuedEntry) ([]QueuedEntry, error) {
		now := q.cfg.Clock.Now()
		if i := indexByKey(entries, key); i >= 0 {
			entries[i].LastTouchedAt = now
			id = entries[i].ID
			deduped = true

			return entries, nil
		}

		newID, err := q.cfg.IDs.New()
		if err != nil {
			return nil, fmt.Errorf("actionqueue: generate id: %w", err)
		}
		priority = q.cfg.Priority(kind)
		if !priority.Valid() {
			return nil, fmt.Errorf("%w: kind %q mapped to %d", ErrInvalidPriority, kind, int16(priority))
		}
		entries = append(entries, QueuedEntry{
			ID:            newID,
			ActionKind:    kind,
			Payload:       slices.Clone(payload),
			CreatedAt:     now,
			LastTouchedAt: now,
			Priority:      priority,
			DedupeKey:     key,
		})
		id = newID

		if len(entries) <= q.cfg.MaxQueueSize {
			return entries, nil
		}
		victim := evictionVictim(entries)
		if entries[victim].ID == newID {
			return nil, ErrQueueFull
		}
		removed := entries[victim]
		evicted = &removed

		return slices.Delete(entries, victim, victim+1), nil
	})
	if errors.Is(err, ErrQueueFull) {
		q.cfg.Metrics.AddRejected(1)
		q.cfg.Logger.Warn("actionqueue rejected entry, queue full of higher priority entries",
			"kind", kind, "priority", priority.String(), "max_size", q.cfg.MaxQueueSize)

		return uuid.Nil, fmt.Errorf("%w: %s (%s)", ErrQueueFull, kind, priority)
	}
	if err != nil {
		return uuid.Nil, err
	}

	if deduped {
		q.cfg.Metrics.AddDeduplicated(1)
		q.cfg.Logger.Debug("actionqueue collapsed duplicate action", "entry_id", id, "kind", kind)

		return id, nil
	}
	if evicted != nil {
		q.cfg.Metrics.AddEvicted(1)
		q.cfg.Logger.Warn("actionqueue evicted entry",
			"entry_id", evicted.ID, "kind", evicted.ActionKind, "priority", evicted.Priority.String(),
			"retry_count", evicted.RetryCount)
	}
	q.cfg.Logger.Debug("actionqueue enqueued action", "entry_id", id, "kind", kind, "priority", priority.String())

	return id, nil
}

// RemoveByID deletes one entry.
func (q *Queue) RemoveByID(ctx context.Context, id uuid.UUID) error {
	_, err := q.mutate(ctx, func(entries []QueuedEntry) ([]QueuedEntry, error) {
		i := indexByID(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}

		return slices.Delete(entries, i, i+1), nil
	})

	return err
}

// IncrementRetry bumps the retry count of one entry and returns the new count.
func (q *Queue) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	_, err := q.mutate(ctx, func(entries []QueuedEntry) ([]QueuedEntry, error) {
		i := indexByID(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		entries[i].RetryCount++
		count = entries[i].RetryCount

		return entries, nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// SnapshotForFlush returns a copy of the entries in delivery order:
// High before Medium before Low, oldest first within a tier.
func (q *Queue) SnapshotForFlush() []QueuedEntry {
	q.mu.Lock()
	out := cloneEntries(q.entries)
	q.mu.Unlock()

	slices.SortStableFunc(out, compareDelivery)

	return out
}

// Size returns the number of pending entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// mutate applies fn to a copy of the entries, persists the result and only then publishes it.
// Queue mutations are serialized; the lock is held across the durable write.
func (q *Queue) mutate(ctx context.Context, fn func([]QueuedEntry) ([]QueuedEntry, error)) (int, error) {
	q.mu.Lock()
	next, err := fn(cloneEntries(q.entries))
	if err != nil {
		q.mu.Unlock()

		return 0, err
	}
	if err := q.store.SaveAll(ctx, next); err != nil {
		q.mu.Unlock()
		q.cfg.Logger.Error("actionqueue persist failed", "err", err)

		return 0, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	q.entries = next
	count := len(next)
	q.mu.Unlock()

	q.notify(count)

	return count, nil
}

func (q *Queue) notify(count int) {
	q.cfg.Metrics.SetPending(count)
	for _, observer := range q.cfg.Observers {
		observer(count)
	}
}

func (q *Queue) normalize(loaded []QueuedEntry) ([]QueuedEntry, bool, error) {
	repaired := false
	entries := make([]QueuedEntry, 0, len(loaded))
	seen := make(map[string]int, len(loaded))
	for _, entry := range loaded {
		if entry.DedupeKey == "" {
			key, err := DedupeKey(entry.ActionKind, entry.Payload)
			if err != nil {
				return nil, false, fmt.Errorf("actionqueue: persisted entry %s: %w", entry.ID, err)
			}
			entry.DedupeKey = key
			repaired = true
		}
		if i, ok := seen[entry.DedupeKey]; ok {
			repaired = true
			if entry.CreatedAt.Before(entries[i].CreatedAt) {
				entries[i] = entry
			}

			continue
		}
		seen[entry.DedupeKey] = len(entries)
		entries = append(entries, entry)
	}

	for len(entries) > q.cfg.MaxQueueSize {
		victim := evictionVictim(entries)
		q.cfg.Metrics.AddEvicted(1)
		entries = slices.Delete(entries, victim, victim+1)
		repaired = true
	}

	return entries, repaired, nil
}

func evictionVictim(entries []QueuedEntry) int {
	victim := 0
	for i := 1; i < len(entries); i++ {
		if evictedBefore(entries[i], entries[victim]) {
			victim = i
		}
	}

	return victim
}

func indexByKey(entries []QueuedEntry, key string) int {
	return slices.IndexFunc(entries, func(e QueuedEntry) bool { return e.DedupeKey == key })
}

func indexByID(entries []QueuedEntry, id uuid.UUID) int {
	return slices.IndexFunc(entries, func(e QueuedEntry) bool { return e.ID == id })
}
