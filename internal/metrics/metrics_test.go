package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsUpdates(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LiveConnections.Inc()
	m.LiveConnections.Inc()
	m.MessagesSent.Inc()
	m.RateLimitHits.Add(3)

	snap := m.Snapshot()
	require.Equal(t, float64(2), snap.LiveConnections)
	require.Equal(t, float64(1), snap.MessagesSent)
	require.Equal(t, float64(3), snap.RateLimitHits)
}

func TestCommandsTotalByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CommandsTotal.WithLabelValues("JOIN_ROOM").Inc()
	m.CommandsTotal.WithLabelValues("JOIN_ROOM").Inc()
	m.ErrorsTotal.WithLabelValues("RATE_LIMIT").Inc()

	require.Equal(t, float64(2), testutilCounterValue(m.CommandsTotal.WithLabelValues("JOIN_ROOM")))
}

func testutilCounterValue(c prometheus.Counter) float64 {
	return readCounter(c)
}
