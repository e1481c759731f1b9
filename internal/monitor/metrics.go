package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"liquidityTiers/internal/model"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds the Prometheus metrics for the scheduler. A nil *Metrics
// records nothing.
type Metrics struct {
	cycleDuration prometheus.Histogram
	cyclesTotal   *prometheus.CounterVec
	skippedTicks  prometheus.Counter
	poolsByTier   *prometheus.GaugeVec
	degradedTotal prometheus.Counter
}

// NewMetrics creates and registers the scheduler metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiers_cycle_duration_seconds",
			Help:    "Time taken by one fetch, classify and write cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiers_cycles_total",
			Help: "Monitor cycles run, labeled by result.",
		}, []string{"result"}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiers_skipped_ticks_total",
			Help: "Ticks dropped because a cycle was still running.",
		}),
		poolsByTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiers_pools",
			Help: "Pools per tier in the last successful cycle.",
		}, []string{"tier"}),
		degradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiers_degraded_classifications_total",
			Help: "Pools whose reserves could not be valued.",
		}),
	}
	reg.MustRegister(m.cycleDuration, m.cyclesTotal, m.skippedTicks, m.poolsByTier, m.degradedTotal)
	return m
}

func (m *Metrics) observeCycle(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(took.Seconds())
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeAggregate(agg model.TierAggregate, degraded int) {
	if m == nil {
		return
	}
	for _, tier := range model.Tiers {
		m.poolsByTier.WithLabelValues(string(tier)).Set(float64(agg.Count(tier)))
	}
	m.degradedTotal.Add(float64(degraded))
}

func (m *Metrics) skipTick() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}
