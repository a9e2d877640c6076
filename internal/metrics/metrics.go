// Package metrics counts session activity and writes it out as a
// Prometheus textfile, for node_exporter's textfile collector to pick up
// after the process exits.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/test-prof/autopilot/internal/agent"
)

const namespace = "autopilot"

// Metrics holds counters for a single process. Each instance owns its
// registry so tests and concurrent sessions never share state.
type Metrics struct {
	registry *prometheus.Registry

	// Labels: none
	Runs        prometheus.Counter
	Truncations prometheus.Counter
	Publishes   prometheus.Counter

	// Labels: result (passed, failed)
	TestResults *prometheus.CounterVec

	// Labels: status, reason
	Sessions *prometheus.CounterVec

	// Labels: kind (configuration, protocol, truncation, backend, internal)
	Errors *prometheus.CounterVec

	TestDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "LLM turns taken across all sessions",
		}),
		Truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncations_total",
			Help:      "Responses rejected because the code block was cut off",
		}),
		Publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Candidate files committed to the forge",
		}),
		TestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_results_total",
			Help:      "Candidate test runs by result",
		}, []string{"result"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by status and reason",
		}, []string{"status", "reason"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Fatal session errors by kind",
		}, []string{"kind"}),
		TestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time of baseline and candidate test runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(m.Runs, m.Truncations, m.Publishes, m.TestResults, m.Sessions, m.Errors, m.TestDuration)
	return m
}

// HandleEvent implements agent.EventSink.
func (m *Metrics) HandleEvent(_ context.Context, ev agent.SessionEvent) error {
	switch ev.Kind {
	case agent.EventRunStart:
		m.Runs.Inc()
	case agent.EventTruncated:
		m.Truncations.Inc()
	case agent.EventPublished:
		m.Publishes.Inc()
	case agent.EventBaseline:
		m.observeDuration(ev.Data)
	case agent.EventTestResult:
		result := "failed"
		if ok, _ := ev.Data["succeeded"].(bool); ok {
			result = "passed"
		}
		m.TestResults.WithLabelValues(result).Inc()
		m.observeDuration(ev.Data)
	case agent.EventError:
		kind, _ := ev.Data["kind"].(string)
		m.Errors.WithLabelValues(kind).Inc()
	case agent.EventSessionEnd:
		status, _ := ev.Data["status"].(string)
		reason, _ := ev.Data["reason"].(string)
		m.Sessions.WithLabelValues(status, reason).Inc()
	}
	return nil
}

func (m *Metrics) observeDuration(data map[string]any) {
	s, _ := data["duration"].(string)
	if d, err := time.ParseDuration(s); err == nil {
		m.TestDuration.Observe(d.Seconds())
	}
}

// WriteTextfile atomically replaces path with the current metric values.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
