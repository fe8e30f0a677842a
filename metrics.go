package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects per-run counters for the node_exporter textfile collector.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	probes        *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optical_verify_runs_total",
				Help: "A count of completed burn-verify runs.",
			},
			[]string{"media", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optical_verify_stage_duration_seconds",
				Help:    "Time spent in each workflow stage.",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 150, 300, 600, 1200, 3600},
			},
			[]string{"stage", "status"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optical_verify_readiness_probes_total",
				Help: "A count of drive readiness probes.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(m.runs, m.stageDuration, m.probes)
	return m
}

func (m *Metrics) ObserveStage(stage string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status(err)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRun(media MediaType, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(media), status(err)).Inc()
}

func (m *Metrics) ObserveProbe(ready bool) {
	if m == nil {
		return
	}
	result := "not_ready"
	if ready {
		result = "ready"
	}
	m.probes.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
