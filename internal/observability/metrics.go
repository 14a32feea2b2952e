package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	Heartbeats        *prometheus.CounterVec
	ModelTokens       *prometheus.CounterVec
	ModelCallDuration prometheus.Histogram
	ContentFlags      *prometheus.CounterVec
	CompressionRuns   prometheus.Counter
	WSClients         prometheus.Gauge
	BroadcastDrops    prometheus.Counter
	PaceSeconds       prometheus.Gauge

	// Stages holds exact recent latencies for the perf endpoint.
	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Stages:   NewStageWindow(256),
		Heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Completed heartbeats by chosen action and outcome.",
		}, []string{"action", "outcome"}),
		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Model tokens consumed by direction.",
		}, []string{"direction"}),
		ModelCallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Wall time of model gateway calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ContentFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_flags_total",
			Help:      "Auto-moderation flags by type.",
		}, []string{"flag_type"}),
		CompressionRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_runs_total",
			Help:      "Cold-memory compression runs.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected activity-stream WebSocket clients.",
		}),
		BroadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Activity events dropped because a client buffer was full.",
		}),
		PaceSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pace_seconds",
			Help:      "Current heartbeat interval in seconds.",
		}),
	}
}

func (m *Metrics) ObserveModelCall(d time.Duration) {
	m.ModelCallDuration.Observe(d.Seconds())
}

// Handler serves this metrics set's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
