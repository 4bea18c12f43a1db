package event

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Bus subscriber that exports event counters and tool latency
// to Prometheus. One Metrics instance can be shared across session buses.
type Metrics struct {
	events       *prometheus.CounterVec
	toolDuration prometheus.Histogram
	llmErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clude_turn_events_total",
			Help: "Turn events emitted, by kind.",
		}, []string{"kind"}),
		toolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clude_tool_duration_seconds",
			Help:    "Wall-clock duration of tool executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clude_llm_errors_total",
			Help: "LLM errors by kind (timeout, repetition, transport, protocol).",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.events, m.toolDuration, m.llmErrors)
	return m
}

// HandleEvent implements Subscriber.
func (m *Metrics) HandleEvent(ev TurnEvent) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case KindToolResult:
		if ms, ok := ev.Payload["duration_ms"].(int64); ok {
			m.toolDuration.Observe(time.Duration(ms * int64(time.Millisecond)).Seconds())
		} else if msf, ok := ev.Payload["duration_ms"].(float64); ok {
			m.toolDuration.Observe(msf / 1000)
		}
	case KindLLMError:
		kind, _ := ev.Payload["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		m.llmErrors.WithLabelValues(kind).Inc()
	}
}
