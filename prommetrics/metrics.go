// Package prommetrics records actionqueue telemetry in Prometheus collectors.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/velmie/actionqueue"
)

const defaultNamespace = "actionqueue"

// Metrics implements actionqueue.Metrics.
type Metrics struct {
	flushDuration prometheus.Histogram
	delivered     prometheus.Counter
	savedOffline  prometheus.Counter
	deduplicated  prometheus.Counter
	retries       prometheus.Counter
	dropped       prometheus.Counter
	evicted       prometheus.Counter
	rejected      prometheus.Counter
	pending       prometheus.Gauge
}

var _ actionqueue.Metrics = (*Metrics)(nil)

type config struct {
	namespace   string
	registerer  prometheus.Registerer
	constLabels prometheus.Labels
	buckets     []float64
}

// Option configures Metrics.
type Option func(*config)

// WithNamespace sets the metric name prefix.
func WithNamespace(namespace string) Option {
	return func(c *config) {
		c.namespace = namespace
	}
}

// WithRegisterer registers the collectors with r instead of the default registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = r
	}
}

// WithConstLabels attaches labels to every collector, e.g. the queue key.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *config) {
		c.constLabels = labels
	}
}

// WithBuckets sets the flush duration histogram buckets in seconds.
func WithBuckets(buckets []float64) Option {
	return func(c *config) {
		c.buckets = buckets
	}
}

// New creates the collectors and registers them.
func New(opts ...Option) (*Metrics, error) {
	cfg := config{
		namespace:  defaultNamespace,
		registerer: prometheus.DefaultRegisterer,
		buckets:    prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.constLabels,
		})
	}

	m := &Metrics{
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.namespace,
			Name:        "flush_duration_seconds",
			Help:        "Duration of queue flush passes.",
			ConstLabels: cfg.constLabels,
			Buckets:     cfg.buckets,
		}),
		delivered:    counter("delivered_total", "Actions accepted by the backend."),
		savedOffline: counter("saved_offline_total", "Submits that fell back to the offline queue."),
		deduplicated: counter("deduplicated_total", "Enqueues collapsed into an existing entry."),
		retries:      counter("retries_total", "Failed replays that left the entry queued."),
		dropped:      counter("dropped_total", "Entries dropped after exceeding the retry limit."),
		evicted:      counter("evicted_total", "Entries evicted to respect the queue capacity."),
		rejected:     counter("rejected_total", "Enqueues refused because the queue is full of higher priority entries."),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.namespace,
			Name:        "pending",
			Help:        "Entries waiting in the offline queue.",
			ConstLabels: cfg.constLabels,
		}),
	}

	for _, c := range m.collectors() {
		if err := cfg.registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(opts ...Option) *Metrics {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.flushDuration,
		m.delivered,
		m.savedOffline,
		m.deduplicated,
		m.retries,
		m.dropped,
		m.evicted,
		m.rejected,
		m.pending,
	}
}

// ObserveFlushDuration implements actionqueue.Metrics.
func (m *Metrics) ObserveFlushDuration(duration time.Duration) {
	m.flushDuration.Observe(duration.Seconds())
}

// AddDelivered implements actionqueue.Metrics.
func (m *Metrics) AddDelivered(count int) {
	m.delivered.Add(float64(count))
}

// AddSavedOffline implements actionqueue.Metrics.
func (m *Metrics) AddSavedOffline(count int) {
	m.savedOffline.Add(float64(count))
}

// AddDeduplicated implements actionqueue.Metrics.
func (m *Metrics) AddDeduplicated(count int) {
	m.deduplicated.Add(float64(count))
}

// AddRetries implements actionqueue.Metrics.
func (m *Metrics) AddRetries(count int) {
	m.retries.Add(float64(count))
}

// AddDropped implements actionqueue.Metrics.
func (m *Metrics) AddDropped(count int) {
	m.dropped.Add(float64(count))
}

// AddEvicted implements actionqueue.Metrics.
func (m *Metrics) AddEvicted(count int) {
	m.evicted.Add(float64(count))
}

// AddRejected implements actionqueue.Metrics.
func (m *Metrics) AddRejected(count int) {
	m.rejected.Add(float64(count))
}

// SetPending implements actionqueue.Metrics.
func (m *Metrics) SetPending(count int) {
	m.pending.Set(float64(count))
}
