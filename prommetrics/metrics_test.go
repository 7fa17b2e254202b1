package prommetrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(WithRegisterer(reg))
	require.NoError(t, err)

	m.AddDelivered(2)
	m.AddSavedOffline(1)
	m.AddDeduplicated(3)
	m.AddRetries(4)
	m.AddDropped(1)
	m.AddEvicted(5)
	m.AddRejected(2)
	m.SetPending(7)
	m.SetPending(6)
	m.ObserveFlushDuration(150 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.delivered))
	require.Equal(t, 1.0, testutil.ToFloat64(m.savedOffline))
	require.Equal(t, 3.0, testutil.ToFloat64(m.deduplicated))
	require.Equal(t, 4.0, testutil.ToFloat64(m.retries))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	require.Equal(t, 5.0, testutil.ToFloat64(m.evicted))
	require.Equal(t, 2.0, testutil.ToFloat64(m.rejected))
	require.Equal(t, 6.0, testutil.ToFloat64(m.pending))

	expected := `
# HELP actionqueue_pending Entries waiting in the offline queue.
# TYPE actionqueue_pending gauge
actionqueue_pending 6
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "actionqueue_pending"))

	count, err := testutil.GatherAndCount(reg, "actionqueue_flush_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNamespaceAndLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(
		WithRegisterer(reg),
		WithNamespace("game"),
		WithConstLabels(prometheus.Labels{"queue": "player-1"}),
	)
	require.NoError(t, err)
	m.AddDelivered(1)

	expected := `
# HELP game_delivered_total Actions accepted by the backend.
# TYPE game_delivered_total counter
game_delivered_total{queue="player-1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "game_delivered_total"))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(WithRegisterer(reg))
	require.NoError(t, err)

	_, err = New(WithRegisterer(reg))
	require.Error(t, err)
	require.Panics(t, func() { MustNew(WithRegisterer(reg)) })
}
