package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine counters. All methods are nil-safe so
// components can run without a collector wired in.
type Metrics struct {
	callsStarted    prometheus.Counter
	callsConnected  *prometheus.CounterVec
	callsEnded      *prometheus.CounterVec
	tokenRetries    prometheus.Counter
	relayFallbacks  prometheus.Counter
	reconnects      prometheus.Counter
	activeSessions  prometheus.Gauge
	activeMeshLinks prometheus.Gauge
}

// New creates the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_calls_started_total",
			Help: "Call attempts initiated or accepted",
		}),
		callsConnected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callkit_calls_connected_total",
			Help: "Calls that reached connected, by route",
		}, []string{"route"}),
		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callkit_calls_ended_total",
			Help: "Calls ended, by reason",
		}, []string{"reason"}),
		tokenRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_token_retries_total",
			Help: "Silent token acquisition retries",
		}),
		relayFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_relay_fallbacks_total",
			Help: "Relay fallback rebuilds performed",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_reconnect_attempts_total",
			Help: "Reconnection attempts after transient loss",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callkit_active_sessions",
			Help: "Sessions not yet ended",
		}),
		activeMeshLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callkit_active_mesh_links",
			Help: "Open peer links across all rooms",
		}),
	}
}

func (m *Metrics) CallStarted() {
	if m != nil {
		m.callsStarted.Inc()
		m.activeSessions.Inc()
	}
}

func (m *Metrics) CallConnected(route string) {
	if m != nil {
		m.callsConnected.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) CallEnded(reason string) {
	if m != nil {
		m.callsEnded.WithLabelValues(reason).Inc()
		m.activeSessions.Dec()
	}
}

func (m *Metrics) TokenRetry() {
	if m != nil {
		m.tokenRetries.Inc()
	}
}

func (m *Metrics) RelayFallback() {
	if m != nil {
		m.relayFallbacks.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) MeshLinkOpened() {
	if m != nil {
		m.activeMeshLinks.Inc()
	}
}

func (m *Metrics) MeshLinkClosed() {
	if m != nil {
		m.activeMeshLinks.Dec()
	}
}
