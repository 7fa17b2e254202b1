package actionqueue

import "time"

// Metrics captures queue and flush telemetry.
type Metrics interface {
	// ObserveFlushDuration records the time of one flush pass.
	ObserveFlushDuration(duration time.Duration)
	// AddDelivered counts actions accepted by the backend, immediately or on replay.
	AddDelivered(count int)
	// AddSavedOffline counts submits that fell back to the queue.
	AddSavedOffline(count int)
	// AddDeduplicated counts enqueues collapsed into an existing entry.
	AddDeduplicated(count int)
	// AddRetries counts failed replays that left the entry queued.
	AddRetries(count int)
	// AddDropped counts entries removed after exceeding the retry limit.
	AddDropped(count int)
	// AddEvicted counts entries removed to respect the capacity bound.
	AddEvicted(count int)
	// AddRejected counts enqueues refused because the new entry would have been the eviction victim.
	AddRejected(count int)
	// SetPending updates the current queue length.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveFlushDuration implements Metrics.
func (NopMetrics) ObserveFlushDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddSavedOffline implements Metrics.
func (NopMetrics) AddSavedOffline(int) {}

// AddDeduplicated implements Metrics.
func (NopMetrics) AddDeduplicated(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDropped implements Metrics.
func (NopMetrics) AddDropped(int) {}

// AddEvicted implements Metrics.
func (NopMetrics) AddEvicted(int) {}

// AddRejected implements Metrics.
func (NopMetrics) AddRejected(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
