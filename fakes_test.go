package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu      sync.Mutex
	entries []QueuedEntry
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) LoadAll(context.Context) ([]QueuedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return cloneEntries(s.entries), nil
}

func (s *memStore) SaveAll(_ context.Context, entries []QueuedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.entries = cloneEntries(entries)
	return nil
}

func (s *memStore) setSaveErr(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *memStore) persisted() []QueuedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu   sync.Mutex
	next byte
}

func (g *seqIDs) New() (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return uuid.UUID{15: g.next}, nil
}

type sentAction struct {
	kind    string
	payload string
	key     string
}

// scriptTransport answers sends from a per-call script; calls past the script use fallback.
type scriptTransport struct {
	mu       sync.Mutex
	script   []error
	fallback error
	sent     []sentAction
	byKind   map[string]error
}

func (t *scriptTransport) Send(ctx context.Context, kind string, payload json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, _ := IdempotencyKeyFromContext(ctx)
	t.sent = append(t.sent, sentAction{kind: kind, payload: string(payload), key: key})
	if err, ok := t.byKind[kind]; ok {
		return err
	}
	if len(t.script) > 0 {
		err := t.script[0]
		t.script = t.script[1:]
		return err
	}
	return t.fallback
}

func (t *scriptTransport) setFallback(err error) {
	t.mu.Lock()
	t.fallback = err
	t.mu.Unlock()
}

func (t *scriptTransport) calls() []sentAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentAction(nil), t.sent...)
}

type countMetrics struct {
	mu          sync.Mutex
	flushes     int
	delivered   int
	offline     int
	deduped     int
	retries     int
	dropped     int
	evicted     int
	rejected    int
	pending     int
	pendingSets int
}

func (m *countMetrics) ObserveFlushDuration(time.Duration) {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

func (m *countMetrics) AddDelivered(n int)    { m.add(&m.delivered, n) }
func (m *countMetrics) AddSavedOffline(n int) { m.add(&m.offline, n) }
func (m *countMetrics) AddDeduplicated(n int) { m.add(&m.deduped, n) }
func (m *countMetrics) AddRetries(n int)      { m.add(&m.retries, n) }
func (m *countMetrics) AddDropped(n int)      { m.add(&m.dropped, n) }
func (m *countMetrics) AddEvicted(n int)      { m.add(&m.evicted, n) }
func (m *countMetrics) AddRejected(n int)     { m.add(&m.rejected, n) }

func (m *countMetrics) SetPending(n int) {
	m.mu.Lock()
	m.pending = n
	m.pendingSets++
	m.mu.Unlock()
}

func (m *countMetrics) add(field *int, n int) {
	m.mu.Lock()
	*field += n
	m.mu.Unlock()
}

func (m *countMetrics) get(field *int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *field
}

var (
	errOffline = NewTransientError(TransientConnection, errors.New("connection refused"))
	errReject  = NewLogicError("validation", "quest already completed")
)

func newTestQueue(t testingT, store *memStore, opts ...Option) (*Queue, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []Option{WithClock(clock), WithIDGenerator(&seqIDs{})}
	q, err := OpenQueue(context.Background(), store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q, clock
}

type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

func recordSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return ctx.Err()
	}
}
