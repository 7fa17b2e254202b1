package actionqueue

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// QueuedEntry is a durable record of one action that has not been delivered yet.
type QueuedEntry struct {
	ID            uuid.UUID       `json:"id"`
	ActionKind    string          `json:"action_kind"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	LastTouchedAt time.Time       `json:"last_touched_at"`
	Priority      Priority        `json:"priority"`
	RetryCount    int             `json:"retry_count"`
	DedupeKey     string          `json:"dedupe_key"`
}

// Action returns the kind and payload of the entry.
func (e QueuedEntry) Action() Action {
	return Action{Kind: e.ActionKind, Payload: e.Payload}
}

func (e QueuedEntry) clone() QueuedEntry {
	e.Payload = slices.Clone(e.Payload)

	return e
}

func cloneEntries(entries []QueuedEntry) []QueuedEntry {
	out := make([]QueuedEntry, len(entries))
	for i := range entries {
		out[i] = entries[i].clone()
	}

	return out
}

// deliveredBefore reports whether a is delivered before b: higher tier first, then oldest, then lowest id.
func deliveredBefore(a, b QueuedEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.ID.String() < b.ID.String()
}

// evictedBefore reports whether a is evicted before b: lowest tier first, then oldest, then lowest id.
func evictedBefore(a, b QueuedEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.ID.String() < b.ID.String()
}

func compareDelivery(a, b QueuedEntry) int {
	switch {
	case deliveredBefore(a, b):
		return -1
	case deliveredBefore(b, a):
		return 1
	default:
		return 0
	}
}
