// Package redis provides an actionqueue.Store that keeps the queue blob under one Redis key.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client, redis.WithQueueKey("player:42"))
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/actionqueue"
)

const (
	defaultPrefix   = "actionqueue:queue:"
	defaultQueueKey = "default"
)

// Client is the subset of redis.Cmdable the store uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

var _ Client = goredis.Cmdable(nil)

// Store implements actionqueue.Store on Redis.
type Store struct {
	client   Client
	prefix   string
	queueKey string
	ttl      time.Duration
}

var _ actionqueue.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithQueueKey sets the queue key appended to the prefix.
func WithQueueKey(key string) Option {
	return func(s *Store) { s.queueKey = key }
}

// WithTTL expires a queue that has not been written for ttl. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client Client, opts ...Option) *Store {
	if client == nil {
		panic("actionqueue redis: nil client")
	}

	s := &Store{client: client, prefix: defaultPrefix, queueKey: defaultQueueKey}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Key returns the Redis key holding the queue.
func (s *Store) Key() string {
	return s.prefix + s.queueKey
}

// LoadAll implements actionqueue.Store.
func (s *Store) LoadAll(ctx context.Context) ([]actionqueue.QueuedEntry, error) {
	data, err := s.client.Get(ctx, s.Key()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actionqueue redis: get %s: %w", s.Key(), err)
	}

	entries, err := actionqueue.DecodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("actionqueue redis: %s: %w", s.Key(), err)
	}

	return entries, nil
}

// SaveAll implements actionqueue.Store.
func (s *Store) SaveAll(ctx context.Context, entries []actionqueue.QueuedEntry) error {
	data, err := actionqueue.EncodeEntries(entries)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.Key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("actionqueue redis: set %s: %w", s.Key(), err)
	}

	return nil
}

// Delete removes the queue key.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.Key()).Err(); err != nil {
		return fmt.Errorf("actionqueue redis: del %s: %w", s.Key(), err)
	}

	return nil
}
