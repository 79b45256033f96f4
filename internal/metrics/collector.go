// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
)

// Collector holds the Prometheus metrics for health probing and failover
type Collector struct {
	ProbeAttempts    *prometheus.CounterVec
	HealthScore      *prometheus.GaugeVec
	HealthState      *prometheus.GaugeVec
	Failovers        *prometheus.CounterVec
	FailoverDuration *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	Primary          *prometheus.GaugeVec

	mu       sync.Mutex
	primary  string
	registry *prometheus.Registry
}

var healthStates = []health.State{
	health.StateHealthy,
	health.StateDegraded,
	health.StateCritical,
	health.StateUnknown,
}

// NewCollector creates and registers all metrics on a private registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		ProbeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failoverd_probe_attempts_total",
				Help: "Total number of health probe attempts",
			},
			[]string{"target", "result"},
		),
		HealthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failoverd_health_score",
				Help: "Last health score per target (0-100)",
			},
			[]string{"target"},
		),
		HealthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failoverd_health_state",
				Help: "1 for the current health state of each target",
			},
			[]string{"target", "state"},
		),
		Failovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failoverd_failovers_total",
				Help: "Total number of failover attempts",
			},
			[]string{"trigger", "result"},
		),
		FailoverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "failoverd_failover_duration_seconds",
				Help:    "Failover duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"trigger"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "failoverd_failover_in_flight",
				Help: "1 while a failover is executing",
			},
		),
		Primary: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failoverd_primary",
				Help: "1 for the current primary target",
			},
			[]string{"target"},
		),
		registry: registry,
	}

	registry.MustRegister(c.ProbeAttempts)
	registry.MustRegister(c.HealthScore)
	registry.MustRegister(c.HealthState)
	registry.MustRegister(c.Failovers)
	registry.MustRegister(c.FailoverDuration)
	registry.MustRegister(c.InFlight)
	registry.MustRegister(c.Primary)

	return c
}

// ObserveProbeAttempt counts a probe attempt
func (c *Collector) ObserveProbeAttempt(target string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.ProbeAttempts.WithLabelValues(target, result).Inc()
}

// ObserveHealth records the normalized status of a target
func (c *Collector) ObserveHealth(target string, st health.Status) {
	c.HealthScore.WithLabelValues(target).Set(st.Score)
	for _, state := range healthStates {
		v := 0.0
		if state == st.State {
			v = 1
		}
		c.HealthState.WithLabelValues(target, string(state)).Set(v)
	}
}

// ObserveFailover records a finished failover attempt
func (c *Collector) ObserveFailover(r history.Record) {
	result := "success"
	if !r.Success {
		result = "failure"
	}
	c.Failovers.WithLabelValues(string(r.Trigger), result).Inc()
	c.FailoverDuration.WithLabelValues(string(r.Trigger)).Observe(float64(r.DurationMs) / 1000)
}

// SetInFlight flags a running failover
func (c *Collector) SetInFlight(running bool) {
	if running {
		c.InFlight.Set(1)
		return
	}
	c.InFlight.Set(0)
}

// SetPrimary marks name as the only primary
func (c *Collector) SetPrimary(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primary != "" && c.primary != name {
		c.Primary.DeleteLabelValues(c.primary)
	}
	c.primary = name
	c.Primary.WithLabelValues(name).Set(1)
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
