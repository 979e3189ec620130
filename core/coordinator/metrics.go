package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	evalLatency     prometheus.Histogram
	commandSuccess  prometheus.Counter
	commandFailure  prometheus.Counter
	budgetShortfall prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Histogram, prometheus.Counter, prometheus.Counter, prometheus.Counter) {
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_evaluation_latency_seconds",
			Help:    "Latency of one evaluation cycle including command writes",
			Buckets: prometheus.DefBuckets,
		},
	)
	suc := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charger_command_success_total",
			Help: "Number of successful current commands written to chargers",
		},
	)
	fail := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charger_command_failure_total",
			Help: "Number of failed current commands written to chargers",
		},
	)
	short := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_budget_shortfall_total",
			Help: "Number of cycles skipped because the budget could not cover the vendor minimum",
		},
	)
	return lat, suc, fail, short
}

func init() {
	evalLatency, commandSuccess, commandFailure, budgetShortfall = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers coordinator metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(evalLatency, commandSuccess, commandFailure, budgetShortfall)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	evalLatency, commandSuccess, commandFailure, budgetShortfall = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
