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
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	TurnAppends       *prometheus.CounterVec
	WindowEvictions   prometheus.Counter
	Compactions       *prometheus.CounterVec
	CompactionRetries prometheus.Counter
	Extractions       *prometheus.CounterVec
	Hydrations        *prometheus.CounterVec
	Flushes           prometheus.Counter
	CacheDegradations *prometheus.CounterVec
	ToolRoutes        *prometheus.CounterVec
	AppendLatency     prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active memory sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_appends_total",
			Help:      "Turns appended to the ledger by role.",
		}, []string{"role"}),
		WindowEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_evictions_total",
			Help:      "Turns evicted from short-term windows.",
		}),
		Compactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Summary compactions by outcome.",
		}, []string{"outcome"}),
		CompactionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_retries_total",
			Help:      "Summary compaction retry attempts.",
		}),
		Extractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keypoint_extractions_total",
			Help:      "Key point extractions by outcome.",
		}, []string{"outcome"}),
		Hydrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydrations_total",
			Help:      "Session hydrations by source of the winning state.",
		}, []string{"source"}),
		Flushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Session flushes to the durable tier.",
		}),
		CacheDegradations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_degradations_total",
			Help:      "Cache-tier failures absorbed by the degradation path.",
		}, []string{"op"}),
		ToolRoutes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_routes_total",
			Help:      "Tool routing decisions by route.",
		}, []string{"route"}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_append_latency_ms",
			Help:      "Latency of the full turn append path in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	m.AppendLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records an engine-stage duration in the rolling latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000.0)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
