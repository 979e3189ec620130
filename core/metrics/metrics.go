// Package metrics defines the sink interface and event types for recording
// polling, allocation and coordination activity. Sinks like the Prometheus
// and InfluxDB implementations live under infra/metrics and register
// themselves with the factory; NewSink combines several configured sinks
// into a MultiSink.
package metrics

import (
	"time"

	"github.com/gridsteer/kecc/core/charger"
)

// PollEvent records the outcome of one polling cycle for one charger.
type PollEvent struct {
	IP       string
	Serial   string
	Success  bool
	Duration time.Duration
	Time     time.Time
}

// SnapshotEvent carries charger telemetry after a successful poll.
type SnapshotEvent struct {
	Snapshot charger.Snapshot
	Time     time.Time
}

// AllocationEvent records one allocation applied to one charger.
type AllocationEvent struct {
	CycleID   string
	IP        string
	MilliAmps int64
	Reason    string
	// Applied is false when the set-current command failed.
	Applied bool
	Time    time.Time
}

// CycleEvent records one coordinator evaluation.
type CycleEvent struct {
	CycleID            string
	Strategy           string
	BudgetA            int64
	ActiveChargers     int
	Balancing          bool
	InsufficientBudget bool
	TotalPowerKW       float64
	Duration           time.Duration
	Time               time.Time
}

// Sink records charging fleet events for observability.
type Sink interface {
	RecordPoll(ev PollEvent) error
	RecordSnapshot(ev SnapshotEvent) error
	RecordAllocations(evs []AllocationEvent) error
	RecordCycle(ev CycleEvent) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordPoll(PollEvent) error                { return nil }
func (NopSink) RecordSnapshot(SnapshotEvent) error        { return nil }
func (NopSink) RecordAllocations([]AllocationEvent) error { return nil }
func (NopSink) RecordCycle(CycleEvent) error              { return nil }
