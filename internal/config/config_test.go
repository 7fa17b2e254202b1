package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/actionqueue"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "actionqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	require.NoError(t, err)
	require.Equal(t, StoreFile, cfg.Store.Type)
	require.Equal(t, "actionqueue.json", cfg.Store.Path)
	require.Equal(t, TransportHTTP, cfg.Transport.Type)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
store:
  type: mysql
  dsn: "root:secret@tcp(localhost:3306)/game?parseTime=true"
  queue_key: player-42
transport:
  type: http
  url: https://api.example.com/v1
  rate_limit: 5
  burst: 2
queue:
  max_size: 20
  max_retries: 3
  base_delay: 500ms
  max_delay: 10s
  flush_interval: 1m
  priorities:
    openChest: high
  fallback_priority: low
prune:
  retention: 720h
`)

	cfg, err := Load(path, envMap(nil))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, StoreMySQL, cfg.Store.Type)
	require.Equal(t, "player-42", cfg.Store.QueueKey)
	require.Equal(t, 5.0, cfg.Transport.RateLimit)
	require.Equal(t, 20, cfg.Queue.MaxSize)
	require.Equal(t, 500*time.Millisecond, cfg.Queue.BaseDelay)
	require.Equal(t, time.Minute, cfg.Queue.FlushInterval)
	require.Equal(t, 720*time.Hour, cfg.Prune.Retention)
	require.Equal(t, time.Hour, cfg.Prune.CheckEvery)

	table, err := cfg.Queue.PriorityTable()
	require.NoError(t, err)
	require.Equal(t, actionqueue.PriorityHigh, table.Of("openChest"))
	require.Equal(t, actionqueue.PriorityHigh, table.Of(actionqueue.KindCompleteQuest))
	require.Equal(t, actionqueue.PriorityLow, table.Of("somethingElse"))
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  type: file\n  path: /tmp/queue.json\n")

	cfg, err := Load(path, envMap(map[string]string{
		"LOG_LEVEL":                  "WARN",
		"ACTIONQUEUE_STORE_TYPE":     "redis",
		"ACTIONQUEUE_STORE_ADDR":     "localhost:6379",
		"ACTIONQUEUE_QUEUE_KEY":      "device-7",
		"ACTIONQUEUE_TRANSPORT_URL":  "http://localhost:8080",
		"ACTIONQUEUE_MAX_QUEUE_SIZE": "10",
		"ACTIONQUEUE_FLUSH_INTERVAL": "15s",
	}))
	require.NoError(t, err)
	require.Equal(t, "WARN", cfg.Log.Level)
	require.Equal(t, StoreRedis, cfg.Store.Type)
	require.Equal(t, "device-7", cfg.Store.QueueKey)
	require.Equal(t, "http://localhost:8080", cfg.Transport.URL)
	require.Equal(t, 10, cfg.Queue.MaxSize)
	require.Equal(t, 15*time.Second, cfg.Queue.FlushInterval)
}

func TestEnvOverrideInvalid(t *testing.T) {
	_, err := Load("", envMap(map[string]string{"ACTIONQUEUE_MAX_QUEUE_SIZE": "many"}))
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "unknown store", mutate: func(c *Config) { c.Store.Type = "etcd" }, want: ErrUnknownStore},
		{name: "file without path", mutate: func(c *Config) { c.Store.Path = "" }, want: ErrMissingField},
		{name: "mysql without dsn", mutate: func(c *Config) { c.Store.Type = StoreMySQL }, want: ErrMissingField},
		{name: "redis without addr", mutate: func(c *Config) { c.Store.Type = StoreRedis }, want: ErrMissingField},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport.Type = "grpc" }, want: ErrUnknownTransport},
		{name: "negative size", mutate: func(c *Config) { c.Queue.MaxSize = -1 }, want: ErrInvalidValue},
		{name: "negative delay", mutate: func(c *Config) { c.Queue.BaseDelay = -time.Second }, want: ErrInvalidValue},
		{name: "bad priority", mutate: func(c *Config) { c.Queue.Priorities = map[string]string{"x": "urgent"} }, want: actionqueue.ErrInvalidPriority},
		{name: "memory store", mutate: func(c *Config) { c.Store.Type = StoreMemory }, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)

				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRequireTransportURL(t *testing.T) {
	cfg := Default()
	require.ErrorIs(t, cfg.RequireTransportURL(), ErrMissingField)

	cfg.Transport.URL = "http://localhost"
	require.NoError(t, cfg.RequireTransportURL())
}

func TestQueueOptions(t *testing.T) {
	opts, err := Queue{MaxSize: 3, FlushThreshold: 2}.Options()
	require.NoError(t, err)

	var cfg actionqueue.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	require.Equal(t, 3, cfg.MaxQueueSize)
	require.Equal(t, 2, cfg.FlushThreshold)
	require.Equal(t, actionqueue.PriorityLow, cfg.Priority(actionqueue.KindLogAnalytics))
}

func TestQueueMaxRetries(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	require.NoError(t, err)
	require.Equal(t, actionqueue.DefaultConfig().MaxRetries, cfg.Queue.MaxRetries)

	path := writeConfig(t, `
queue:
  max_retries: 0
`)
	cfg, err = Load(path, envMap(nil))
	require.NoError(t, err)
	require.Zero(t, cfg.Queue.MaxRetries)

	opts, err := cfg.Queue.Options()
	require.NoError(t, err)
	resolved := actionqueue.DefaultConfig()
	for _, opt := range opts {
		opt(&resolved)
	}
	require.Zero(t, resolved.MaxRetries)
}
