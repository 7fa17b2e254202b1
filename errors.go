package actionqueue

import "errors"

var (
	// ErrKindRequired is returned when an action has no kind.
	ErrKindRequired = errors.New("actionqueue: action kind is required")
	// ErrPayloadRequired is returned when an action has an empty payload.
	ErrPayloadRequired = errors.New("actionqueue: action payload is required")
	// ErrInvalidPayload is returned when an action payload is not valid JSON.
	ErrInvalidPayload = errors.New("actionqueue: action payload must be valid JSON")
	// ErrInvalidPriority is returned when a priority value or name is unknown.
	ErrInvalidPriority = errors.New("actionqueue: invalid priority")
	// ErrEntryNotFound is returned when a queue mutation targets an id that is not queued.
	ErrEntryNotFound = errors.New("actionqueue: entry not found")
	// ErrQueueFull is returned when a new entry is itself the eviction victim of a full queue.
	ErrQueueFull = errors.New("actionqueue: queue is full of higher priority entries")
	// ErrPersist wraps durable store failures. The mutation that caused it did not happen.
	ErrPersist = errors.New("actionqueue: persist failed")
	// ErrUnsupportedVersion is returned when a stored snapshot has an unknown format version.
	ErrUnsupportedVersion = errors.New("actionqueue: unsupported snapshot version")
	// ErrClosed is returned when a closed client or flusher is used.
	ErrClosed = errors.New("actionqueue: closed")
	// ErrWorkerPanic indicates a panic during a flush pass.
	ErrWorkerPanic = errors.New("actionqueue: flush panic")
)
