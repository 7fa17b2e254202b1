package actionqueue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store holds the serialized list of pending entries.
// Reads and writes replace the whole list atomically; only the Queue calls it.
type Store interface {
	// LoadAll returns the persisted entries, or an empty list when nothing was saved yet.
	LoadAll(ctx context.Context) ([]QueuedEntry, error)
	// SaveAll replaces the persisted list.
	SaveAll(ctx context.Context, entries []QueuedEntry) error
}

const snapshotVersion = 1

type snapshot struct {
	Version int           `json:"version"`
	Entries []QueuedEntry `json:"entries"`
}

// EncodeEntries serializes entries into the versioned blob format shared by all stores.
func EncodeEntries(entries []QueuedEntry) ([]byte, error) {
	if entries == nil {
		entries = []QueuedEntry{}
	}
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("actionqueue: encode entries: %w", err)
	}

	return data, nil
}

// DecodeEntries parses a blob produced by EncodeEntries. An empty blob yields no entries.
func DecodeEntries(data []byte) ([]QueuedEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("actionqueue: decode entries: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}

	return snap.Entries, nil
}
