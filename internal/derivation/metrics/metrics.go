package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for derivation runs.
type Metrics struct {
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	BusyRejections prometheus.Counter
	Obligations    *prometheus.CounterVec
	CatalogUpgrade prometheus.Counter
}

// New creates a Metrics instance with all derivation metrics registered.
func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conformo_derivation_runs_total",
			Help: "Total derivation runs by trigger and result",
		}, []string{"trigger", "result"}),

		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conformo_derivation_run_duration_seconds",
			Help:    "Wall time of one company derivation run",
			Buckets: prometheus.DefBuckets,
		}),

		BusyRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conformo_derivation_busy_rejections_total",
			Help: "Total derivation requests rejected because a run was in flight",
		}),

		Obligations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conformo_derivation_obligations_total",
			Help: "Total obligations created and retired by synthesis",
		}, []string{"change"}),

		CatalogUpgrade: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conformo_catalog_upgrades_total",
			Help: "Total catalog-wide re-evaluation fan-outs",
		}),
	}
}

func (m *Metrics) IncrementRun(trigger, result string) {
	if m != nil {
		m.Runs.WithLabelValues(trigger, result).Inc()
	}
}

func (m *Metrics) ObserveRunDuration(seconds float64) {
	if m != nil {
		m.RunDuration.Observe(seconds)
	}
}

func (m *Metrics) IncrementBusy() {
	if m != nil {
		m.BusyRejections.Inc()
	}
}

func (m *Metrics) AddObligations(change string, n int) {
	if m != nil && n > 0 {
		m.Obligations.WithLabelValues(change).Add(float64(n))
	}
}

func (m *Metrics) IncrementCatalogUpgrade() {
	if m != nil {
		m.CatalogUpgrade.Inc()
	}
}
