// Package metrics records run metrics in a Prometheus registry that can be
// exported in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/perfgo/perfshard/model"
)

const namespace = "perfshard"

// Metrics holds the collectors of one run. A nil *Metrics discards every
// observation.
type Metrics struct {
	registry *prometheus.Registry

	attempts         *prometheus.CounterVec
	units            *prometheus.CounterVec
	recoveries       *prometheus.CounterVec
	retriesExhausted prometheus.Counter
	unitDuration     prometheus.Histogram
	healthyResources prometheus.Gauge
	runDuration      prometheus.Gauge
}

// New creates the collectors in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Test attempts by outcome",
		}, []string{"outcome"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Test units by reported result",
		}, []string{"result"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Resource recoveries between attempts by status",
		}, []string{"status"}),
		retriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Units that used every allowed attempt without passing",
		}),
		unitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Time spent on a unit across all of its attempts",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		healthyResources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy_resources",
			Help:      "Resources that received a shard",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the run",
		}),
	}

	m.registry.MustRegister(
		m.attempts,
		m.units,
		m.recoveries,
		m.retriesExhausted,
		m.unitDuration,
		m.healthyResources,
		m.runDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt counts one attempt.
func (m *Metrics) ObserveAttempt(outcome model.Outcome) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(outcome)).Inc()
}

// ObserveRecovery counts one recovery.
func (m *Metrics) ObserveRecovery(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.recoveries.WithLabelValues(status).Inc()
}

// ObserveRecord counts a final unit record.
func (m *Metrics) ObserveRecord(r *model.ResultRecord) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(string(r.ResultType)).Inc()
	if r.Exhausted {
		m.retriesExhausted.Inc()
	}
	if len(r.Attempts) > 0 {
		m.unitDuration.Observe(r.TotalTime().Seconds())
	}
}

// SetHealthyResources records how many resources received a shard.
func (m *Metrics) SetHealthyResources(n int) {
	if m == nil {
		return
	}
	m.healthyResources.Set(float64(n))
}

// SetRunDuration records the wall-clock duration of the run.
func (m *Metrics) SetRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
}

// WriteToTextfile writes every metric to path in the textfile collector
// format.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
