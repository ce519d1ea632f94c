package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/amberdash/ingestd/internal/circuitbreaker"
)

// BreakerCollector implements prometheus.Collector for circuit breaker state.
// Snapshots are taken on-demand during each scrape; no polling goroutine.
type BreakerCollector struct {
	registry *circuitbreaker.Registry

	state    *prometheus.Desc
	failures *prometheus.Desc
}

// NewBreakerCollector creates a collector exporting per-dependency breaker state.
func NewBreakerCollector(registry *circuitbreaker.Registry) *BreakerCollector {
	return &BreakerCollector{
		registry: registry,
		state: prometheus.NewDesc(
			"ingestd_circuit_state",
			"Circuit breaker state per dependency (0=closed, 1=open, 2=half-open).",
			[]string{"dependency"}, nil,
		),
		failures: prometheus.NewDesc(
			"ingestd_circuit_consecutive_failures",
			"Consecutive failures counted by the breaker per dependency.",
			[]string{"dependency"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.failures
}

// Collect implements prometheus.Collector.
func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Snapshots() {
		var state float64
		switch s.State {
		case "open":
			state = 1
		case "half-open":
			state = 2
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, state, s.Dependency)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.Failures), s.Dependency)
	}
}
