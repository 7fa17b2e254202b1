package mysql

import "github.com/velmie/actionqueue"

const (
	defaultTable    = "action_queue"
	defaultQueueKey = "default"
)

// Config defines MySQL store behavior.
type Config struct {
	// Table is the queue table name. Use schema.table for a non-default schema.
	Table string
	// QueueKey selects the row holding this queue, so one table can serve many devices or users.
	QueueKey string
	// Clock stamps updated_at.
	Clock actionqueue.Clock
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.QueueKey == "" {
		c.QueueKey = defaultQueueKey
	}
	if c.Clock == nil {
		c.Clock = actionqueue.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithQueueKey sets the row key of the queue.
func WithQueueKey(key string) Option {
	return func(c *Config) {
		c.QueueKey = key
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock actionqueue.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
