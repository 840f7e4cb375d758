// Package metrics exposes in-process Prometheus instrumentation for the
// server. There is no HTTP /metrics endpoint wired (see SPEC_FULL.md §5); the
// registry exists so operators can scrape it via their own embedding,
// and so Snapshot() gives tests and admin tooling a cheap read path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every counter/gauge the server updates.
type Metrics struct {
	LiveConnections  prometheus.Gauge
	CommandsTotal    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	RateLimitHits    prometheus.Counter
	SlowConsumerDrop prometheus.Counter
}

// New constructs and registers every metric against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lantern_live_connections",
			Help: "Number of currently registered connections.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantern_commands_total",
			Help: "Commands dispatched, by command name.",
		}, []string{"command"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantern_errors_total",
			Help: "Errors returned to clients, by error code.",
		}, []string{"code"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantern_messages_sent_total",
			Help: "Chat messages broadcast or delivered.",
		}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantern_rate_limit_hits_total",
			Help: "Commands or connections rejected by rate limiting.",
		}),
		SlowConsumerDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantern_slow_consumer_drops_total",
			Help: "Connections dropped for a full outbound queue.",
		}),
	}
	reg.MustRegister(m.LiveConnections, m.CommandsTotal, m.ErrorsTotal, m.MessagesSent, m.RateLimitHits, m.SlowConsumerDrop)
	return m
}

// Snapshot is a point-in-time read of the counters, for tests and admin
// tooling that don't want to scrape the Prometheus text format.
type Snapshot struct {
	LiveConnections float64
	MessagesSent    float64
	RateLimitHits   float64
}

func (m *Metrics) Snapshot() Snapshot {
	var snap Snapshot
	snap.LiveConnections = readGauge(m.LiveConnections)
	snap.MessagesSent = readCounter(m.MessagesSent)
	snap.RateLimitHits = readCounter(m.RateLimitHits)
	return snap
}

func readGauge(g prometheus.Gauge) float64 {
	var pb dto.Metric
	_ = g.Write(&pb)
	return pb.GetGauge().GetValue()
}

func readCounter(c prometheus.Counter) float64 {
	var pb dto.Metric
	_ = c.Write(&pb)
	return pb.GetCounter().GetValue()
}
