// Package observability exports session metrics and traces. Both are
// opt-in: metrics are pushed to a Pushgateway only when one is configured,
// and traces are exported only when the standard OTLP environment variables
// are set. A nil Metrics or Tracer is valid and records nothing, so library
// code never has to guard its instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"

	"github.com/docfetch/docfetch/pkg/errors"
)

const metricsJob = "docfetch"

// Metrics records session outcomes on a private registry and pushes them to
// a Pushgateway when the process finishes. The push model fits a one-shot
// CLI, which is gone before any scraper could reach it.
type Metrics struct {
	registry *prometheus.Registry
	pushURL  string

	sessions *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics pushing to pushURL on Push. An empty pushURL
// still records, but Push becomes a no-op.
func NewMetrics(pushURL string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pushURL:  pushURL,
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docfetch",
			Name:      "sessions_total",
			Help:      "Completed sessions by server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docfetch",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock session duration from spawn to shutdown.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"server", "tool"}),
	}
	m.registry.MustRegister(m.sessions, m.duration)
	return m
}

// ObserveSession records one finished session. The outcome label is "ok" or
// the failure kind. Safe on a nil receiver.
func (m *Metrics) ObserveSession(server, tool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errors.KindOf(err))
	}
	m.sessions.WithLabelValues(server, tool, outcome).Inc()
	m.duration.WithLabelValues(server, tool).Observe(elapsed.Seconds())
}

// Push sends the recorded metrics to the Pushgateway. Safe on a nil
// receiver and a no-op without a configured URL.
func (m *Metrics) Push() error {
	if m == nil || m.pushURL == "" {
		return nil
	}
	return push.New(m.pushURL, metricsJob).Gatherer(m.registry).Push()
}

// Gather exposes the registry for tests.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	return m.registry.Gather()
}
