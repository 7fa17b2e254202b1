package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func enqueueAll(t *testing.T, q *Queue, clock *fakeClock, actions ...Action) {
	t.Helper()
	for _, action := range actions {
		clock.Advance(time.Second)
		if _, err := q.Enqueue(context.Background(), action.Kind, action.Payload); err != nil {
			t.Fatalf("enqueue %s: %v", action.Kind, err)
		}
	}
}

func TestFlushDeliversInOrder(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock,
		Action{Kind: KindLogAnalytics, Payload: json.RawMessage(`{"e":1}`)},
		Action{Kind: KindUpdateProfile, Payload: json.RawMessage(`{"p":1}`)},
		Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"q":1}`)},
	)
	transport := &scriptTransport{}
	metrics := &countMetrics{}
	flusher := NewFlusher(q, transport, WithMetrics(metrics))
	defer flusher.Close()

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 3 || result.Attempted != 3 {
		t.Fatalf("expected 3 delivered, got %+v", result)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Size())
	}

	calls := transport.calls()
	want := []string{KindCompleteQuest, KindUpdateProfile, KindLogAnalytics}
	for i, kind := range want {
		if calls[i].kind != kind {
			t.Fatalf("send %d: expected %s, got %s", i, kind, calls[i].kind)
		}
		if calls[i].key == "" {
			t.Fatalf("send %d: expected idempotency key", i)
		}
	}
	if metrics.get(&metrics.delivered) != 3 || metrics.get(&metrics.flushes) != 1 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestFlushAbortsPassOnTransientError(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock,
		Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)},
		Action{Kind: KindUpdateProfile, Payload: json.RawMessage(`{"b":1}`)},
	)
	transport := &scriptTransport{script: []error{errOffline}}
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !result.NetworkDown || result.Skipped != 1 || result.Retried != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(transport.calls()) != 1 {
		t.Fatalf("expected a single send, got %d", len(transport.calls()))
	}

	snapshot := q.SnapshotForFlush()
	if len(snapshot) != 2 {
		t.Fatalf("expected both entries to stay queued, got %d", len(snapshot))
	}
	if snapshot[0].ActionKind != KindCompleteQuest || snapshot[0].RetryCount != 1 {
		t.Fatalf("expected failed entry with retry 1, got %+v", snapshot[0])
	}
	if snapshot[1].ActionKind != KindUpdateProfile || snapshot[1].RetryCount != 0 {
		t.Fatalf("expected untouched entry, got %+v", snapshot[1])
	}
}

func TestFlushLogicErrorDoesNotHaltPass(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock,
		Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)},
		Action{Kind: KindUpdateProfile, Payload: json.RawMessage(`{"b":1}`)},
	)
	transport := &scriptTransport{script: []error{errReject}}
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.NetworkDown || result.Delivered != 1 || result.Retried != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	snapshot := q.SnapshotForFlush()
	if len(snapshot) != 1 || snapshot[0].ActionKind != KindCompleteQuest || snapshot[0].RetryCount != 1 {
		t.Fatalf("expected rejected entry to stay with retry 1, got %+v", snapshot)
	}
}

func TestFlushDropsAfterMaxRetries(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	var dropped []QueuedEntry
	var dropErr error
	metrics := &countMetrics{}
	transport := &scriptTransport{fallback: errReject}
	flusher := NewFlusher(q, transport,
		WithMaxRetries(2),
		WithMetrics(metrics),
		WithDropHandler(func(_ context.Context, entry QueuedEntry, err error) {
			dropped = append(dropped, entry)
			dropErr = err
		}),
	)
	var waits []time.Duration
	flusher.sleep = recordSleep(&waits)
	defer flusher.Close()

	for pass := 1; pass <= 3; pass++ {
		if _, err := flusher.Flush(context.Background()); err != nil {
			t.Fatalf("flush %d: %v", pass, err)
		}
		if pass < 3 && q.Size() != 1 {
			t.Fatalf("pass %d: expected entry to stay queued", pass)
		}
	}

	if q.Size() != 0 {
		t.Fatalf("expected entry to be dropped")
	}
	if len(dropped) != 1 || dropped[0].RetryCount != 3 {
		t.Fatalf("expected one drop with retry count 3, got %+v", dropped)
	}
	if !errors.Is(dropErr, errReject) {
		t.Fatalf("expected drop cause to be the rejection, got %v", dropErr)
	}
	if metrics.get(&metrics.dropped) != 1 || metrics.get(&metrics.retries) != 2 {
		t.Fatalf("unexpected metrics dropped=%d retries=%d", metrics.dropped, metrics.retries)
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Fatalf("expected waits [2s 4s], got %v", waits)
	}

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Attempted != 0 {
		t.Fatalf("expected dropped entry not to be replayed")
	}
}

func TestFlushZeroMaxRetriesDropsOnFirstRejection(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	flusher := NewFlusher(q, &scriptTransport{fallback: errReject}, WithMaxRetries(0))
	defer flusher.Close()

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Attempted != 1 || result.Dropped != 1 || result.Retried != 0 {
		t.Fatalf("expected a single drop, got %+v", result)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Size())
	}
}

func TestNegativeMaxRetriesSelectsDefault(t *testing.T) {
	if got := newConfig([]Option{WithMaxRetries(-1)}).MaxRetries; got != defaultMaxRetries {
		t.Fatalf("expected default %d, got %d", defaultMaxRetries, got)
	}
	if got := newConfig(nil).MaxRetries; got != defaultMaxRetries {
		t.Fatalf("expected default %d, got %d", defaultMaxRetries, got)
	}
}

func TestFlushTransientFailuresAreNeverDropped(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	transport := &scriptTransport{fallback: errOffline}
	flusher := NewFlusher(q, transport, WithMaxRetries(1))
	var waits []time.Duration
	flusher.sleep = recordSleep(&waits)
	defer flusher.Close()

	for pass := 0; pass < 4; pass++ {
		if _, err := flusher.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}
	snapshot := q.SnapshotForFlush()
	if len(snapshot) != 1 || snapshot[0].RetryCount != 4 {
		t.Fatalf("expected entry kept with retry 4, got %+v", snapshot)
	}
}

func TestFlushBackoffGrowth(t *testing.T) {
	cases := []struct {
		retries int
		want    time.Duration
	}{
		{retries: 1, want: 2 * time.Second},
		{retries: 3, want: 8 * time.Second},
		{retries: 4, want: 16 * time.Second},
		{retries: 5, want: 30 * time.Second},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("retry_%d", tc.retries), func(t *testing.T) {
			q, clock := newTestQueue(t, &memStore{})
			enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})
			id := q.SnapshotForFlush()[0].ID
			for i := 0; i < tc.retries; i++ {
				if _, err := q.IncrementRetry(context.Background(), id); err != nil {
					t.Fatalf("increment: %v", err)
				}
			}

			flusher := NewFlusher(q, &scriptTransport{}, WithBackoffDelays(time.Second, 30*time.Second))
			var waits []time.Duration
			flusher.sleep = recordSleep(&waits)
			defer flusher.Close()

			if _, err := flusher.Flush(context.Background()); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if len(waits) != 1 || waits[0] != tc.want {
				t.Fatalf("expected wait %v, got %v", tc.want, waits)
			}
		})
	}
}

func TestFlushFreshEntryDoesNotWait(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	flusher := NewFlusher(q, &scriptTransport{})
	var waits []time.Duration
	flusher.sleep = recordSleep(&waits)
	defer flusher.Close()

	if _, err := flusher.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(waits) != 0 {
		t.Fatalf("expected no backoff wait, got %v", waits)
	}
}

type blockingTransport struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (t *blockingTransport) Send(ctx context.Context, _ string, _ json.RawMessage) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	t.started <- struct{}{}
	select {
	case <-t.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestFlushSingleFlight(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	transport := &blockingTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	type outcome struct {
		result FlushResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := flusher.Flush(context.Background())
		first <- outcome{result, err}
	}()
	<-transport.started

	if !flusher.Flushing() {
		t.Fatalf("expected flusher to report an in-flight pass")
	}

	second := make(chan outcome, 1)
	go func() {
		result, err := flusher.Flush(context.Background())
		second <- outcome{result, err}
	}()
	flusher.Trigger()
	close(transport.release)

	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("flush errors: %v, %v", a.err, b.err)
	}
	if a.result.Delivered != 1 {
		t.Fatalf("expected first flush to deliver, got %+v", a.result)
	}
	transport.mu.Lock()
	calls := transport.calls
	transport.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one send across concurrent flushes, got %d", calls)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestFlushWaitHonorsCallerContext(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	transport := &blockingTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	flusher.Trigger()
	<-transport.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := flusher.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	close(transport.release)
}

func TestFlushCloseCancelsPassWithoutCountingFailure(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	transport := &blockingTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	flusher := NewFlusher(q, transport)

	done := make(chan error, 1)
	go func() {
		_, err := flusher.Flush(context.Background())
		done <- err
	}()
	<-transport.started

	if err := flusher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled pass, got %v", err)
	}

	snapshot := q.SnapshotForFlush()
	if len(snapshot) != 1 || snapshot[0].RetryCount != 0 {
		t.Fatalf("expected entry untouched, got %+v", snapshot)
	}
	if _, err := flusher.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFlushCloseWaitsForAbandonedPass(t *testing.T) {
	store := &memStore{}
	q, clock := newTestQueue(t, store)
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	stubborn := TransportFunc(func(context.Context, string, json.RawMessage) error {
		started <- struct{}{}
		<-release

		return nil
	})
	flusher := NewFlusher(q, stubborn, WithSendTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := flusher.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the pass to reach the transport")
	}
	if !flusher.Flushing() {
		t.Fatalf("expected pass to outlive its caller")
	}

	closed := make(chan struct{})
	go func() {
		_ = flusher.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("close returned while the pass was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return after the pass finished")
	}
	if flusher.Flushing() {
		t.Fatalf("expected no pass in flight after close")
	}
}

func TestFlushEntryEvictedDuringSend(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})
	id := q.SnapshotForFlush()[0].ID

	transport := TransportFunc(func(ctx context.Context, _ string, _ json.RawMessage) error {
		return q.RemoveByID(ctx, id)
	})
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	result, err := flusher.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 1 {
		t.Fatalf("expected delivery to count, got %+v", result)
	}
}

func TestFlushPersistFailureAbortsPass(t *testing.T) {
	store := &memStore{}
	q, clock := newTestQueue(t, store)
	enqueueAll(t, q, clock,
		Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)},
		Action{Kind: KindUpdateProfile, Payload: json.RawMessage(`{"b":1}`)},
	)
	store.setSaveErr(errors.New("disk full"))

	transport := &scriptTransport{}
	flusher := NewFlusher(q, transport)
	defer flusher.Close()

	if _, err := flusher.Flush(context.Background()); !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if len(transport.calls()) != 1 {
		t.Fatalf("expected pass to stop after the failed write")
	}
	if q.Size() != 2 {
		t.Fatalf("expected entries to stay queued")
	}
}

func TestFlushRecoversPanic(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	flusher := NewFlusher(q, TransportFunc(func(context.Context, string, json.RawMessage) error {
		panic("boom")
	}))
	defer flusher.Close()

	if _, err := flusher.Flush(context.Background()); !errors.Is(err, ErrWorkerPanic) {
		t.Fatalf("expected ErrWorkerPanic, got %v", err)
	}
	if flusher.Flushing() {
		t.Fatalf("expected flusher to be idle after panic")
	}
}

func TestFlusherRunFlushesOnStart(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	sent := make(chan struct{}, 1)
	flusher := NewFlusher(q, TransportFunc(func(context.Context, string, json.RawMessage) error {
		sent <- struct{}{}
		return nil
	}), WithFlushInterval(time.Hour))
	defer flusher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- flusher.Run(ctx)
	}()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected initial flush")
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestFlusherRunPeriodic(t *testing.T) {
	q, _ := newTestQueue(t, &memStore{})

	sent := make(chan struct{}, 4)
	flusher := NewFlusher(q, TransportFunc(func(context.Context, string, json.RawMessage) error {
		sent <- struct{}{}
		return nil
	}), WithFlushInterval(10*time.Millisecond))
	defer flusher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		_ = flusher.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	if _, err := q.Enqueue(context.Background(), KindCompleteQuest, json.RawMessage(`{"late":true}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-sent:
	case <-ctx.Done():
		t.Fatalf("expected periodic flush to deliver the late entry")
	}
}

func TestFlusherTrigger(t *testing.T) {
	q, clock := newTestQueue(t, &memStore{})
	enqueueAll(t, q, clock, Action{Kind: KindCompleteQuest, Payload: json.RawMessage(`{"a":1}`)})

	sent := make(chan struct{}, 1)
	flusher := NewFlusher(q, TransportFunc(func(context.Context, string, json.RawMessage) error {
		sent <- struct{}{}
		return nil
	}))
	defer flusher.Close()

	flusher.Trigger()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected triggered flush")
	}
}
