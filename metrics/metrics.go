// Package metrics exposes orgkit's Prometheus instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters for entitlement decisions, webhook ingestion and
// trial sweeps.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
	downgradesTotal prometheus.Counter
	sweepRunsTotal  *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
	factory  = func() *Metrics { return New(prometheus.DefaultRegisterer) }
)

// Get returns the process-wide instance registered on the default registerer.
func Get() *Metrics {
	once.Do(func() { instance = factory() })
	return instance
}

// New registers the collectors on registerer, reusing any already registered.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgkit",
			Subsystem: "entitlements",
			Name:      "decisions_total",
			Help:      "Entitlement decisions by kind and outcome",
		}, []string{"kind", "outcome"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgkit",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Identity-provider webhook events by type and result",
		}, []string{"type", "result"}),
		downgradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orgkit",
			Subsystem: "sweep",
			Name:      "downgrades_total",
			Help:      "Organizations moved from pro_trial to solo by the trial sweep",
		}),
		sweepRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgkit",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Trial sweep runs by result",
		}, []string{"result"}),
	}
	m.decisionsTotal = register(registerer, m.decisionsTotal)
	m.webhooksTotal = register(registerer, m.webhooksTotal)
	m.downgradesTotal = register(registerer, m.downgradesTotal)
	m.sweepRunsTotal = register(registerer, m.sweepRunsTotal)
	return m
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Decision counts one evaluator answer. kind is feature, limit or redirect.
func (m *Metrics) Decision(kind string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisionsTotal.WithLabelValues(label(kind), outcome).Inc()
}

// Webhook counts one ingested event. result is handled, ignored or error.
func (m *Metrics) Webhook(eventType, result string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(label(eventType), label(result)).Inc()
}

// Sweep records a finished sweep run.
func (m *Metrics) Sweep(downgraded int, err error) {
	if m == nil {
		return
	}
	m.downgradesTotal.Add(float64(downgraded))
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRunsTotal.WithLabelValues(result).Inc()
}
