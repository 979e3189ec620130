package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/gridsteer/kecc/core/metrics"
)

// PromSink exposes fleet activity as Prometheus metrics.
type PromSink struct {
	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	power        *prometheus.GaugeVec
	sessionkWh   *prometheus.GaugeVec
	totalkWh     *prometheus.GaugeVec
	stateCode    *prometheus.GaugeVec
	allocations  *prometheus.CounterVec
	allocated    *prometheus.GaugeVec
	cycles       *prometheus.CounterVec
	active       prometheus.Gauge
}

// NewPromSink registers the collectors on the default registerer.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg; nil falls back to
// the default registerer. Collectors already registered are reused, so
// several sinks can share a process.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charger_polls_total",
			Help: "Polling cycles per charger and outcome",
		}, []string{"ip", "success"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charger_poll_duration_seconds",
			Help:    "Duration of one polling cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"ip"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charger_power_kilowatts",
			Help: "Active charging power per charger",
		}, []string{"ip"}),
		sessionkWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charger_session_energy_kwh",
			Help: "Energy delivered in the present session",
		}, []string{"ip"}),
		totalkWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charger_total_energy_kwh",
			Help: "Lifetime energy counter per charger",
		}, []string{"ip"}),
		stateCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charger_state_code",
			Help: "Charger state code (3 is charging)",
		}, []string{"ip"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_commands_total",
			Help: "Current-limit commands per charger, reason and apply outcome",
		}, []string{"ip", "reason", "applied"}),
		allocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "allocation_current_milliamps",
			Help: "Last allocated current limit per charger",
		}, []string{"ip"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_cycles_total",
			Help: "Coordinator evaluations per strategy and outcome",
		}, []string{"strategy", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_active_chargers",
			Help: "Chargers currently in the charging state",
		}),
	}

	collectors := []prometheus.Collector{
		s.polls, s.pollDuration, s.power, s.sessionkWh, s.totalkWh,
		s.stateCode, s.allocations, s.allocated, s.cycles, s.active,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch i {
			case 0:
				s.polls = are.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				s.pollDuration = are.ExistingCollector.(*prometheus.HistogramVec)
			case 2:
				s.power = are.ExistingCollector.(*prometheus.GaugeVec)
			case 3:
				s.sessionkWh = are.ExistingCollector.(*prometheus.GaugeVec)
			case 4:
				s.totalkWh = are.ExistingCollector.(*prometheus.GaugeVec)
			case 5:
				s.stateCode = are.ExistingCollector.(*prometheus.GaugeVec)
			case 6:
				s.allocations = are.ExistingCollector.(*prometheus.CounterVec)
			case 7:
				s.allocated = are.ExistingCollector.(*prometheus.GaugeVec)
			case 8:
				s.cycles = are.ExistingCollector.(*prometheus.CounterVec)
			case 9:
				s.active = are.ExistingCollector.(prometheus.Gauge)
			}
		}
	}
	return s, nil
}

func (s *PromSink) RecordPoll(ev coremetrics.PollEvent) error {
	s.polls.WithLabelValues(ev.IP, strconv.FormatBool(ev.Success)).Inc()
	if ev.Success {
		s.pollDuration.WithLabelValues(ev.IP).Observe(ev.Duration.Seconds())
	}
	return nil
}

func (s *PromSink) RecordSnapshot(ev coremetrics.SnapshotEvent) error {
	snap := ev.Snapshot
	if snap.PowerKW != nil {
		s.power.WithLabelValues(snap.IP).Set(*snap.PowerKW)
	}
	if snap.SessionEnergyKWh != nil {
		s.sessionkWh.WithLabelValues(snap.IP).Set(*snap.SessionEnergyKWh)
	}
	if snap.TotalEnergyKWh != nil {
		s.totalkWh.WithLabelValues(snap.IP).Set(*snap.TotalEnergyKWh)
	}
	if snap.State != nil {
		s.stateCode.WithLabelValues(snap.IP).Set(float64(*snap.State))
	}
	return nil
}

func (s *PromSink) RecordAllocations(evs []coremetrics.AllocationEvent) error {
	for _, ev := range evs {
		s.allocations.WithLabelValues(ev.IP, ev.Reason, strconv.FormatBool(ev.Applied)).Inc()
		if ev.Applied {
			s.allocated.WithLabelValues(ev.IP).Set(float64(ev.MilliAmps))
		}
	}
	return nil
}

func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	outcome := "applied"
	switch {
	case ev.InsufficientBudget:
		outcome = "insufficient_budget"
	case !ev.Balancing:
		outcome = "restore"
	}
	s.cycles.WithLabelValues(ev.Strategy, outcome).Inc()
	s.active.Set(float64(ev.ActiveChargers))
	return nil
}
