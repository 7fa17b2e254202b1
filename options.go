package actionqueue

import (
	"context"
	"time"
)

const (
	defaultMaxQueueSize  = 50
	defaultMaxRetries    = 5
	defaultBaseDelay     = 1 * time.Second
	defaultMaxDelay      = 30 * time.Second
	defaultSendTimeout   = 25 * time.Second
	defaultFlushInterval = 30 * time.Second
)

// DropHandler is called when an entry is dropped after exceeding the retry limit.
type DropHandler func(ctx context.Context, entry QueuedEntry, err error)

// PendingObserver is called with the queue length after every committed mutation.
type PendingObserver func(count int)

// Config defines queue, dispatch and flush behavior.
type Config struct {
	MaxQueueSize   int
	// MaxRetries is how many logic failures an entry survives. Zero drops it on the first
	// rejected replay; negative values select the default.
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	SendTimeout    time.Duration
	FlushInterval  time.Duration
	FlushThreshold int
	Backoff        Backoff
	Priority       PriorityFunc
	Classifier     Classifier
	Clock          Clock
	IDs            IDGenerator
	Logger         Logger
	Metrics        Metrics
	DropHandler    DropHandler
	Observers      []PendingObserver
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return Config{MaxRetries: defaultMaxRetries}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushThreshold < 0 {
		c.FlushThreshold = 0
	}
	if c.Backoff == nil {
		c.Backoff = NewExponentialBackoff(c.BaseDelay, c.MaxDelay)
	}
	if c.Priority == nil {
		c.Priority = DefaultPriorities().Func()
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.IDs == nil {
		c.IDs = UUIDv7Generator{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

func newConfig(opts []Option) Config {
	cfg := Config{MaxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.withDefaults()
}

// Option configures a Client, Queue, Dispatcher or Flusher.
type Option func(*Config)

// WithConfig replaces the whole configuration. Later options still apply on top of it.
// Start from DefaultConfig to keep the default retry limit.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithMaxQueueSize sets the capacity bound of the queue.
func WithMaxQueueSize(size int) Option {
	return func(c *Config) {
		c.MaxQueueSize = size
	}
}

// WithMaxRetries sets how many logic failures a queued entry survives before it is dropped.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithBackoffDelays sets the base and maximum replay backoff.
func WithBackoffDelays(base, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.BaseDelay = base
		c.MaxDelay = maxDelay
	}
}

// WithBackoff sets a custom backoff strategy. It overrides WithBackoffDelays.
func WithBackoff(backoff Backoff) Option {
	return func(c *Config) {
		c.Backoff = backoff
	}
}

// WithSendTimeout sets the per-send timeout.
func WithSendTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.SendTimeout = timeout
	}
}

// WithFlushInterval sets the period of the Run loop.
func WithFlushInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.FlushInterval = interval
	}
}

// WithFlushThreshold triggers a flush whenever an enqueue leaves at least n entries queued.
// Zero disables the trigger.
func WithFlushThreshold(n int) Option {
	return func(c *Config) {
		c.FlushThreshold = n
	}
}

// WithPriorities sets the kind-to-tier mapping.
func WithPriorities(fn PriorityFunc) Option {
	return func(c *Config) {
		c.Priority = fn
	}
}

// WithClassifier sets the failure classifier.
func WithClassifier(classifier Classifier) Option {
	return func(c *Config) {
		c.Classifier = classifier
	}
}

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithIDGenerator sets the entry id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Config) {
		c.IDs = gen
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithDropHandler registers a callback for entries dropped after max retries.
func WithDropHandler(handler DropHandler) Option {
	return func(c *Config) {
		c.DropHandler = handler
	}
}

// WithPendingObserver registers a callback for queue length changes.
func WithPendingObserver(observer PendingObserver) Option {
	return func(c *Config) {
		c.Observers = append(c.Observers, observer)
	}
}
