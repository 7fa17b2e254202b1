// Package config loads the actionqueue command configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/velmie/actionqueue"
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Transport types.
const (
	TransportHTTP = "http"
	TransportAMQP = "amqp"
)

const envPrefix = "ACTIONQUEUE_"

// Validation errors.
var (
	ErrUnknownStore     = errors.New("config: unknown store type")
	ErrUnknownTransport = errors.New("config: unknown transport type")
	ErrMissingField     = errors.New("config: missing required field")
	ErrInvalidValue     = errors.New("config: invalid value")
)

// Config is the full command configuration.
type Config struct {
	Log       Log       `yaml:"log"`
	Store     Store     `yaml:"store"`
	Transport Transport `yaml:"transport"`
	Queue     Queue     `yaml:"queue"`
	Metrics   Metrics   `yaml:"metrics"`
	Prune     Prune     `yaml:"prune"`
}

// Log selects the log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store selects the queue backend.
type Store struct {
	Type     string        `yaml:"type"`
	Path     string        `yaml:"path"`
	DSN      string        `yaml:"dsn"`
	Addr     string        `yaml:"addr"`
	Table    string        `yaml:"table"`
	QueueKey string        `yaml:"queue_key"`
	TTL      time.Duration `yaml:"ttl"`
}

// Transport selects how actions reach the backend.
type Transport struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Token     string            `yaml:"token"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`
	Exchange  string            `yaml:"exchange"`
}

// Queue holds the queue, dispatch and flush tunables.
type Queue struct {
	MaxSize        int               `yaml:"max_size"`
	MaxRetries     int               `yaml:"max_retries"`
	BaseDelay      time.Duration     `yaml:"base_delay"`
	MaxDelay       time.Duration     `yaml:"max_delay"`
	SendTimeout    time.Duration     `yaml:"send_timeout"`
	FlushInterval  time.Duration     `yaml:"flush_interval"`
	FlushThreshold int               `yaml:"flush_threshold"`
	Priorities     map[string]string `yaml:"priorities"`
	Fallback       string            `yaml:"fallback_priority"`
}

// Metrics configures the Prometheus endpoint of the run command.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Prune configures the MySQL prune maintainer.
type Prune struct {
	Retention  time.Duration `yaml:"retention"`
	CheckEvery time.Duration `yaml:"check_every"`
	BatchSize  int           `yaml:"batch_size"`
	LockName   string        `yaml:"lock_name"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:       Log{Level: "info", Format: "text"},
		Store:     Store{Type: StoreFile, Path: "actionqueue.json", QueueKey: "default"},
		Transport: Transport{Type: TransportHTTP},
		Queue:     Queue{MaxRetries: actionqueue.DefaultConfig().MaxRetries},
		Metrics:   Metrics{Addr: ":9090"},
		Prune:     Prune{CheckEvery: time.Hour},
	}
}

// Load reads path (optional) over the defaults, applies environment overrides and validates the result.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString(envPrefix+"STORE_TYPE", &c.Store.Type)
	setString(envPrefix+"STORE_PATH", &c.Store.Path)
	setString(envPrefix+"STORE_DSN", &c.Store.DSN)
	setString(envPrefix+"STORE_ADDR", &c.Store.Addr)
	setString(envPrefix+"QUEUE_KEY", &c.Store.QueueKey)
	setString(envPrefix+"TRANSPORT_TYPE", &c.Transport.Type)
	setString(envPrefix+"TRANSPORT_URL", &c.Transport.URL)
	setString(envPrefix+"TRANSPORT_TOKEN", &c.Transport.Token)
	setString(envPrefix+"METRICS_ADDR", &c.Metrics.Addr)

	if v := getenv(envPrefix + "MAX_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_QUEUE_SIZE=%q", ErrInvalidValue, envPrefix, v)
		}
		c.Queue.MaxSize = n
	}
	if v := getenv(envPrefix + "FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sFLUSH_INTERVAL=%q", ErrInvalidValue, envPrefix, v)
		}
		c.Queue.FlushInterval = d
	}

	return nil
}

// Validate checks the store and transport selections and the queue tunables.
func (c Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path for %s store", ErrMissingField, c.Store.Type)
		}
	case StoreMySQL, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn for %s store", ErrMissingField, c.Store.Type)
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("%w: store.addr for redis store", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store.Type)
	}

	switch c.Transport.Type {
	case TransportHTTP, TransportAMQP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Type)
	}
	if c.Transport.RateLimit < 0 || c.Transport.Burst < 0 {
		return fmt.Errorf("%w: transport rate limit must not be negative", ErrInvalidValue)
	}

	if c.Queue.MaxSize < 0 || c.Queue.MaxRetries < 0 || c.Queue.FlushThreshold < 0 {
		return fmt.Errorf("%w: queue sizes must not be negative", ErrInvalidValue)
	}
	if c.Queue.BaseDelay < 0 || c.Queue.MaxDelay < 0 || c.Queue.SendTimeout < 0 || c.Queue.FlushInterval < 0 {
		return fmt.Errorf("%w: queue durations must not be negative", ErrInvalidValue)
	}
	if _, err := c.Queue.PriorityTable(); err != nil {
		return err
	}

	return nil
}

// RequireTransportURL reports an error when commands that send actions have no endpoint.
func (c Config) RequireTransportURL() error {
	if strings.TrimSpace(c.Transport.URL) == "" {
		return fmt.Errorf("%w: transport.url", ErrMissingField)
	}

	return nil
}

// PriorityTable merges the configured kind tiers over the built-in table.
func (q Queue) PriorityTable() (actionqueue.Priorities, error) {
	table := actionqueue.DefaultPriorities()
	kinds := make(map[string]actionqueue.Priority, len(table.Kinds)+len(q.Priorities))
	for kind, tier := range table.Kinds {
		kinds[kind] = tier
	}
	for kind, name := range q.Priorities {
		tier, err := actionqueue.ParsePriority(name)
		if err != nil {
			return actionqueue.Priorities{}, fmt.Errorf("config: priority for %q: %w", kind, err)
		}
		kinds[kind] = tier
	}
	table.Kinds = kinds

	if q.Fallback != "" {
		tier, err := actionqueue.ParsePriority(q.Fallback)
		if err != nil {
			return actionqueue.Priorities{}, fmt.Errorf("config: fallback priority: %w", err)
		}
		table.Fallback = tier
	}

	return table, nil
}

// Options converts the queue section into actionqueue options. Zero values keep the library
// defaults, except MaxRetries where zero drops an entry on its first rejected replay.
func (q Queue) Options() ([]actionqueue.Option, error) {
	table, err := q.PriorityTable()
	if err != nil {
		return nil, err
	}

	opts := []actionqueue.Option{
		actionqueue.WithPriorities(table.Func()),
		actionqueue.WithMaxQueueSize(q.MaxSize),
		actionqueue.WithMaxRetries(q.MaxRetries),
		actionqueue.WithBackoffDelays(q.BaseDelay, q.MaxDelay),
		actionqueue.WithSendTimeout(q.SendTimeout),
		actionqueue.WithFlushInterval(q.FlushInterval),
		actionqueue.WithFlushThreshold(q.FlushThreshold),
	}

	return opts, nil
}
