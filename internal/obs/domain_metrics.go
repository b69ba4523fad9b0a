package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// RecalcTotal counts guarded settlement/pricing recalculation attempts
	// by resource and outcome (applied, conflict, rejected, error).
	RecalcTotal *prometheus.CounterVec
	// VersionConflictTotal counts optimistic-concurrency rejections.
	VersionConflictTotal *prometheus.CounterVec
	// PeriodCloseRuns counts settlement period close runs by result.
	PeriodCloseRuns *prometheus.CounterVec
	// PeriodCloseClosed counts settlements closed by the monthly job.
	PeriodCloseClosed prometheus.Counter
	// PeriodCloseDuration observes close run duration in milliseconds.
	PeriodCloseDuration prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		RecalcTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_recalc_total",
			Help:      "Guarded recalculation attempts by resource and outcome.",
		}, []string{"resource", "result"})
		VersionConflictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflict_total",
			Help:      "Mutations rejected by the optimistic concurrency guard.",
		}, []string{"resource"})
		PeriodCloseRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "period_close_runs_total",
			Help:      "Settlement period close runs by result.",
		}, []string{"result"})
		PeriodCloseClosed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "period_close_settlements_total",
			Help:      "Settlements closed by the period close job.",
		})
		PeriodCloseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "period_close_duration_ms",
			Help:      "Duration of period close runs in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		})

		RecalcTotal = registerOrExisting(reg, RecalcTotal).(*prometheus.CounterVec)
		VersionConflictTotal = registerOrExisting(reg, VersionConflictTotal).(*prometheus.CounterVec)
		PeriodCloseRuns = registerOrExisting(reg, PeriodCloseRuns).(*prometheus.CounterVec)
		PeriodCloseClosed = registerOrExisting(reg, PeriodCloseClosed).(prometheus.Counter)
		PeriodCloseDuration = registerOrExisting(reg, PeriodCloseDuration).(prometheus.Histogram)
	})
}
