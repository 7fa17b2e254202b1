package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Client wires a Queue, a Dispatcher and a Flusher over one Store and one Transport.
// It is the API consumed by application code.
type Client struct {
	queue      *Queue
	dispatcher *Dispatcher
	flusher    *Flusher
	cfg        Config

	closeOnce sync.Once
}

// New opens the queue persisted in store and returns a ready Client.
func New(ctx context.Context, store Store, transport Transport, opts ...Option) (*Client, error) {
	if store == nil {
		panic("actionqueue: nil Store")
	}
	if transport == nil {
		panic("actionqueue: nil Transport")
	}

	cfg := newConfig(opts)
	queue, err := openQueue(ctx, store, cfg)
	if err != nil {
		return nil, err
	}
	flusher := newFlusher(queue, transport, cfg)

	return &Client{
		queue:      queue,
		dispatcher: newDispatcher(transport, queue, flusher, cfg),
		flusher:    flusher,
		cfg:        cfg,
	}, nil
}

// Submit sends an action now or saves it for later delivery. See Dispatcher.Submit.
func (c *Client) Submit(ctx context.Context, kind string, payload json.RawMessage) (Result, error) {
	return c.dispatcher.Submit(ctx, kind, payload)
}

// PendingCount returns the number of queued actions.
func (c *Client) PendingCount() int {
	return c.queue.Size()
}

// Snapshot returns the queued entries in delivery order.
func (c *Client) Snapshot() []QueuedEntry {
	return c.queue.SnapshotForFlush()
}

// FlushNow drains the queue, joining a pass already in flight, and waits for it to finish.
func (c *Client) FlushNow(ctx context.Context) (FlushResult, error) {
	return c.flusher.Flush(ctx)
}

// Flushing reports whether a flush pass is in flight.
func (c *Client) Flushing() bool {
	return c.flusher.Flushing()
}

// Run flushes on start and then every FlushInterval until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	return c.flusher.Run(ctx)
}

// Close cancels any flush in flight and waits for it. Queued entries stay in the store.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.flusher.Close()
		if err != nil && !errors.Is(err, ErrClosed) {
			c.cfg.Logger.Error("actionqueue close failed", "err", err)
		}
	})

	return err
}
