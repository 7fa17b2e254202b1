package actionqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const flushKey = "flush"

// FlushResult summarizes one flush pass.
type FlushResult struct {
	// Attempted is the number of sends made.
	Attempted int `json:"attempted"`
	// Delivered entries were accepted and removed.
	Delivered int `json:"delivered"`
	// Retried entries failed and stay queued with a higher retry count.
	Retried int `json:"retried"`
	// Dropped entries exceeded the retry limit on logic failures and were removed.
	Dropped int `json:"dropped"`
	// Skipped entries were left untouched because the network went down earlier in the pass.
	Skipped int `json:"skipped"`
	// NetworkDown reports that a transient failure ended the pass early.
	NetworkDown bool `json:"network_down"`
}

// Flusher drains the Queue through the Transport.
//
// At most one pass runs at a time: Flush and Trigger calls made while a pass is in flight
// join that pass instead of starting another. Entries are sent sequentially in
// SnapshotForFlush order.
type Flusher struct {
	queue     *Queue
	transport Transport
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error

	group    singleflight.Group
	flushing atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewFlusher constructs a Flusher with defaults and optional settings.
func NewFlusher(queue *Queue, transport Transport, opts ...Option) *Flusher {
	return newFlusher(queue, transport, newConfig(opts))
}

func newFlusher(queue *Queue, transport Transport, cfg Config) *Flusher {
	if queue == nil {
		panic("actionqueue: nil Queue")
	}
	if transport == nil {
		panic("actionqueue: nil Transport")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Flusher{
		queue:     queue,
		transport: transport,
		cfg:       cfg,
		sleep:     sleepContext,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Flush runs a pass, or joins the one in flight, and waits for its result.
// Canceling ctx stops the wait, not the pass.
func (f *Flusher) Flush(ctx context.Context) (FlushResult, error) {
	if f.isClosed() {
		return FlushResult{}, ErrClosed
	}

	ch := f.group.DoChan(flushKey, f.runPass)

	select {
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(FlushResult)

		return result, res.Err
	}
}

// Trigger starts a pass in the background, or does nothing if one is in flight.
func (f *Flusher) Trigger() {
	if f.isClosed() {
		return
	}

	ch := f.group.DoChan(flushKey, f.runPass)
	go func() {
		res := <-ch
		if res.Shared {
			return
		}
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, ErrClosed) {
			f.cfg.Logger.Warn("actionqueue background flush failed", "err", res.Err)
		}
	}()
}

// Flushing reports whether a pass is in flight.
func (f *Flusher) Flushing() bool {
	return f.flushing.Load()
}

// Run flushes once immediately and then every FlushInterval until ctx is canceled.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	f.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		case <-ticker.C:
			f.runOnce(ctx)
		}
	}
}

// Close stops accepting flushes, cancels the pass in flight and waits for it.
func (f *Flusher) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()

		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()

	return nil
}

func (f *Flusher) runOnce(ctx context.Context) {
	result, err := f.Flush(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			f.cfg.Logger.Error("actionqueue periodic flush failed", "err", err)
		}

		return
	}
	if result.Attempted > 0 {
		f.cfg.Logger.Debug("actionqueue periodic flush done",
			"delivered", result.Delivered, "retried", result.Retried,
			"dropped", result.Dropped, "skipped", result.Skipped)
	}
}

func (f *Flusher) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// runPass is the singleflight body. The WaitGroup counts passes, not their callers.
func (f *Flusher) runPass() (any, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()

		return FlushResult{}, ErrClosed
	}
	f.wg.Add(1)
	f.mu.Unlock()
	defer f.wg.Done()

	return f.safePass(f.baseCtx)
}

func (f *Flusher) safePass(ctx context.Context) (result FlushResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			f.cfg.Logger.Error("actionqueue flush panic", "panic", rec)
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()

	return f.pass(ctx)
}

func (f *Flusher) pass(ctx context.Context) (result FlushResult, err error) {
	f.flushing.Store(true)
	start := time.Now()
	defer func() {
		f.flushing.Store(false)
		f.cfg.Metrics.ObserveFlushDuration(time.Since(start))
		f.cfg.Metrics.AddDelivered(result.Delivered)
		f.cfg.Metrics.AddRetries(result.Retried)
		f.cfg.Metrics.AddDropped(result.Dropped)
	}()

	entries := f.queue.SnapshotForFlush()
	for i := range entries {
		entry := entries[i]
		if result.NetworkDown {
			result.Skipped = len(entries) - i

			break
		}

		if entry.RetryCount > 0 {
			if err := f.sleep(ctx, f.cfg.Backoff.Delay(entry.RetryCount)); err != nil {
				return result, err
			}
		}

		result.Attempted++
		sendErr := sendAction(ctx, f.transport, f.cfg.SendTimeout, entry.ActionKind, entry.Payload, entry.DedupeKey)
		if sendErr == nil {
			if err := f.queue.RemoveByID(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
				return result, fmt.Errorf("actionqueue: remove delivered entry %s: %w", entry.ID, err)
			}
			result.Delivered++

			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := f.recordFailure(ctx, entry, sendErr, &result); err != nil {
			return result, err
		}
	}

	if result.Attempted > 0 {
		f.cfg.Logger.Info("actionqueue flush pass finished",
			"delivered", result.Delivered, "retried", result.Retried, "dropped", result.Dropped,
			"skipped", result.Skipped, "network_down", result.NetworkDown)
	}

	return result, nil
}

func (f *Flusher) recordFailure(ctx context.Context, entry QueuedEntry, sendErr error, result *FlushResult) error {
	class := f.cfg.Classifier(sendErr)

	count, err := f.queue.IncrementRetry(ctx, entry.ID)
	if errors.Is(err, ErrEntryNotFound) {
		// evicted while the send was in flight
		if class == FailureTransient {
			result.NetworkDown = true
		}

		return nil
	}
	if err != nil {
		return fmt.Errorf("actionqueue: record failure of entry %s: %w", entry.ID, err)
	}
	entry.RetryCount = count

	if class == FailureTransient {
		result.NetworkDown = true
		result.Retried++
		f.cfg.Logger.Info("actionqueue replay failed, network unavailable",
			"entry_id", entry.ID, "kind", entry.ActionKind, "retry_count", count,
			"cause", TransientKindOf(sendErr), "err", sendErr)

		return nil
	}

	if count <= f.cfg.MaxRetries {
		result.Retried++
		f.cfg.Logger.Info("actionqueue replay rejected, will retry",
			"entry_id", entry.ID, "kind", entry.ActionKind, "retry_count", count, "err", sendErr)

		return nil
	}

	if err := f.queue.RemoveByID(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return fmt.Errorf("actionqueue: drop entry %s: %w", entry.ID, err)
	}
	result.Dropped++
	f.cfg.Logger.Warn("actionqueue dropped entry after max retries",
		"entry_id", entry.ID, "kind", entry.ActionKind, "retry_count", count, "err", sendErr)
	if f.cfg.DropHandler != nil {
		f.cfg.DropHandler(ctx, entry, sendErr)
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
