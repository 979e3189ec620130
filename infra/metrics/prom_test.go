package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gridsteer/kecc/core/charger"
	coremetrics "github.com/gridsteer/kecc/core/metrics"
)

func newTestPromSink(t *testing.T) (*PromSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	sink, ok := sinkIf.(*PromSink)
	if !ok {
		t.Fatalf("expected PromSink")
	}
	return sink, reg
}

func TestPromSink_RecordPoll(t *testing.T) {
	sink, _ := newTestPromSink(t)

	for i := 0; i < 2; i++ {
		if err := sink.RecordPoll(coremetrics.PollEvent{
			IP: "192.0.2.10", Success: true, Duration: 30 * time.Millisecond,
		}); err != nil {
			t.Fatalf("record poll: %v", err)
		}
	}
	if err := sink.RecordPoll(coremetrics.PollEvent{IP: "192.0.2.10", Success: false}); err != nil {
		t.Fatalf("record poll: %v", err)
	}

	expected := `
# HELP charger_polls_total Polling cycles per charger and outcome
# TYPE charger_polls_total counter
charger_polls_total{ip="192.0.2.10",success="false"} 1
charger_polls_total{ip="192.0.2.10",success="true"} 2
`
	if err := testutil.CollectAndCompare(sink.polls, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	// only successful polls contribute a duration sample
	if c := testutil.CollectAndCount(sink.pollDuration); c != 1 {
		t.Errorf("poll duration series = %d, want 1", c)
	}
}

func TestPromSink_RecordSnapshot(t *testing.T) {
	sink, _ := newTestPromSink(t)

	power := 7.36
	session := 2.5
	total := 125.0
	state := int64(3)
	snap := charger.Snapshot{
		IP:               "192.0.2.10",
		State:            &state,
		PowerKW:          &power,
		SessionEnergyKWh: &session,
		TotalEnergyKWh:   &total,
	}
	if err := sink.RecordSnapshot(coremetrics.SnapshotEvent{Snapshot: snap, Time: time.Now()}); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}

	if v := testutil.ToFloat64(sink.power.WithLabelValues("192.0.2.10")); v != 7.36 {
		t.Errorf("power gauge = %v, want 7.36", v)
	}
	if v := testutil.ToFloat64(sink.sessionkWh.WithLabelValues("192.0.2.10")); v != 2.5 {
		t.Errorf("session gauge = %v, want 2.5", v)
	}
	if v := testutil.ToFloat64(sink.totalkWh.WithLabelValues("192.0.2.10")); v != 125.0 {
		t.Errorf("total gauge = %v, want 125", v)
	}
	if v := testutil.ToFloat64(sink.stateCode.WithLabelValues("192.0.2.10")); v != 3 {
		t.Errorf("state gauge = %v, want 3", v)
	}
}

func TestPromSink_RecordSnapshotPartial(t *testing.T) {
	sink, _ := newTestPromSink(t)

	if err := sink.RecordSnapshot(coremetrics.SnapshotEvent{
		Snapshot: charger.Snapshot{IP: "192.0.2.11"},
	}); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	if c := testutil.CollectAndCount(sink.power); c != 0 {
		t.Errorf("power series = %d, want none for nil reading", c)
	}
}

func TestPromSink_RecordAllocations(t *testing.T) {
	sink, _ := newTestPromSink(t)

	evs := []coremetrics.AllocationEvent{
		{IP: "192.0.2.10", MilliAmps: 16000, Reason: "load_balancing", Applied: true},
		{IP: "192.0.2.11", MilliAmps: 10000, Reason: "hardware_limit", Applied: false},
	}
	if err := sink.RecordAllocations(evs); err != nil {
		t.Fatalf("record allocations: %v", err)
	}

	expected := `
# HELP allocation_commands_total Current-limit commands per charger, reason and apply outcome
# TYPE allocation_commands_total counter
allocation_commands_total{applied="false",ip="192.0.2.11",reason="hardware_limit"} 1
allocation_commands_total{applied="true",ip="192.0.2.10",reason="load_balancing"} 1
`
	if err := testutil.CollectAndCompare(sink.allocations, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.allocated.WithLabelValues("192.0.2.10")); v != 16000 {
		t.Errorf("allocated gauge = %v, want 16000", v)
	}
	// failed apply must not move the gauge
	if c := testutil.CollectAndCount(sink.allocated); c != 1 {
		t.Errorf("allocated series = %d, want 1", c)
	}
}

func TestPromSink_RecordCycleOutcomes(t *testing.T) {
	sink, _ := newTestPromSink(t)

	cases := []struct {
		ev      coremetrics.CycleEvent
		outcome string
	}{
		{coremetrics.CycleEvent{Strategy: "equal", Balancing: true, ActiveChargers: 2}, "applied"},
		{coremetrics.CycleEvent{Strategy: "equal", Balancing: false, ActiveChargers: 1}, "restore"},
		{coremetrics.CycleEvent{Strategy: "priority", Balancing: true, InsufficientBudget: true, ActiveChargers: 4}, "insufficient_budget"},
	}
	for _, c := range cases {
		if err := sink.RecordCycle(c.ev); err != nil {
			t.Fatalf("record cycle: %v", err)
		}
	}

	expected := `
# HELP coordinator_cycles_total Coordinator evaluations per strategy and outcome
# TYPE coordinator_cycles_total counter
coordinator_cycles_total{outcome="applied",strategy="equal"} 1
coordinator_cycles_total{outcome="insufficient_budget",strategy="priority"} 1
coordinator_cycles_total{outcome="restore",strategy="equal"} 1
`
	if err := testutil.CollectAndCompare(sink.cycles, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.active); v != 4 {
		t.Errorf("active gauge = %v, want 4", v)
	}
}

func TestNewPromSinkWithRegistry_Reuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	second, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink should reuse collectors: %v", err)
	}

	if err := first.RecordPoll(coremetrics.PollEvent{IP: "192.0.2.10", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := second.RecordPoll(coremetrics.PollEvent{IP: "192.0.2.10", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	sink := second.(*PromSink)
	if v := testutil.ToFloat64(sink.polls.WithLabelValues("192.0.2.10", "true")); v != 2 {
		t.Errorf("shared counter = %v, want 2", v)
	}
}
