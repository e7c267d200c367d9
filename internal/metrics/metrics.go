package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the tick relay and HTTP surface.
type Metrics struct {
	StreamsActive      prometheus.Gauge
	StreamsOpened      *prometheus.CounterVec // labels: symbol
	StreamOpenFailures *prometheus.CounterVec // labels: symbol
	TicksRelayed       *prometheus.CounterVec // labels: symbol
	TicksDropped       *prometheus.CounterVec // labels: symbol
	UpstreamRequests   *prometheus.CounterVec // labels: op, outcome
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickpulse_streams_active",
			Help: "Tick streams currently relaying to a browser",
		}),
		StreamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_streams_opened_total",
			Help: "Tick streams opened (by symbol)",
		}, []string{"symbol"}),
		StreamOpenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_stream_open_failures_total",
			Help: "Tick streams that failed to connect or subscribe upstream",
		}, []string{"symbol"}),
		TicksRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_ticks_relayed_total",
			Help: "Ticks written to a downstream channel",
		}, []string{"symbol"}),
		TicksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_ticks_dropped_total",
			Help: "Ticks dropped because the downstream queue was full",
		}, []string{"symbol"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_upstream_requests_total",
			Help: "Request/response exchanges with the trading API",
		}, []string{"op", "outcome"}),
	}

	reg.MustRegister(
		m.StreamsActive,
		m.StreamsOpened,
		m.StreamOpenFailures,
		m.TicksRelayed,
		m.TicksDropped,
		m.UpstreamRequests,
	)
	return m
}

// ObserveUpstream counts one upstream exchange as ok or error.
func (m *Metrics) ObserveUpstream(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(op, outcome).Inc()
}
