package balancer

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"off", "equal", "priority"} {
		if _, err := ParseStrategy(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	if _, err := ParseStrategy("round_robin"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEvaluateOff(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 32, Strategy: StrategyOff, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true},
		"10.0.0.6": {Active: true},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Allocations) != 0 {
		t.Fatalf("off strategy must not allocate: %+v", res.Allocations)
	}
	if res.Balancing {
		t.Fatal("off strategy is never balancing")
	}
}

func TestEvaluateEqualSplit(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 32, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true, HWLimitMA: 32000},
		"10.0.0.6": {Active: true, HWLimitMA: 32000},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Balancing || res.ActiveCount != 2 {
		t.Fatalf("expected balancing with 2 active got %+v", res)
	}
	for id, a := range res.Allocations {
		if a.MilliAmps != 16000 {
			t.Fatalf("%s: expected 16000 mA got %d", id, a.MilliAmps)
		}
		if a.Reason != ReasonLoadBalancing {
			t.Fatalf("%s: expected load_balancing got %s", id, a.Reason)
		}
	}
}

func TestEvaluateEqualFloorDivision(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 20, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"a": {Active: true},
		"b": {Active: true},
		"c": {Active: true},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 20000/3 floors to 6666.
	for id, a := range res.Allocations {
		if a.MilliAmps != 6666 {
			t.Fatalf("%s: expected 6666 mA got %d", id, a.MilliAmps)
		}
	}
}

func TestEvaluateEqualVendorCeiling(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 200, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"a": {Active: true},
		"b": {Active: true},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for id, a := range res.Allocations {
		if a.MilliAmps != MaxChargeCurrentMA {
			t.Fatalf("%s: expected vendor ceiling got %d", id, a.MilliAmps)
		}
	}
}

func TestEvaluateEqualHardwareClamp(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 32, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true, HWLimitMA: 10000},
		"10.0.0.6": {Active: true, HWLimitMA: 32000},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	clamped := res.Allocations["10.0.0.5"]
	if clamped.MilliAmps != 10000 || clamped.Reason != ReasonHardwareLimit {
		t.Fatalf("expected 10000/hardware_limit got %+v", clamped)
	}
	other := res.Allocations["10.0.0.6"]
	if other.MilliAmps != 16000 || other.Reason != ReasonLoadBalancing {
		t.Fatalf("expected 16000/load_balancing got %+v", other)
	}
}

func TestEvaluateInsufficientBudget(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 20, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"a": {Active: true},
		"b": {Active: true},
		"c": {Active: true},
		"d": {Active: true},
	}})
	if !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("expected ErrInsufficientBudget got %v", err)
	}
	if len(res.Allocations) != 0 {
		t.Fatalf("no allocations may be produced: %+v", res.Allocations)
	}
	if res.ActiveCount != 4 {
		t.Fatalf("expected 4 active got %d", res.ActiveCount)
	}
}

func TestEvaluateRestoreBelowTwoActive(t *testing.T) {
	in := Input{BudgetA: 32, Strategy: StrategyEqual, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true, HWLimitMA: 16000, UserLimitMA: 10000},
		"10.0.0.6": {Active: false, HWLimitMA: 20000, UserLimitMA: 32000},
		"10.0.0.7": {Active: false},
	}}
	res, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Balancing {
		t.Fatal("one active charger must not balance")
	}
	if len(res.Allocations) != 3 {
		t.Fatalf("restore must cover every charger: %+v", res.Allocations)
	}
	if a := res.Allocations["10.0.0.5"]; a.MilliAmps != 10000 || a.Reason != ReasonUserLimitRestore {
		t.Fatalf("expected user limit 10000 got %+v", a)
	}
	// User limit above hardware restores the hardware value.
	if a := res.Allocations["10.0.0.6"]; a.MilliAmps != 20000 {
		t.Fatalf("expected hw limit 20000 got %+v", a)
	}
	// No limits known: hand the vendor maximum back and let the firmware clamp.
	if a := res.Allocations["10.0.0.7"]; a.MilliAmps != MaxChargeCurrentMA {
		t.Fatalf("expected vendor max got %+v", a)
	}
}

func TestEvaluateRestoreZeroActive(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 32, Strategy: StrategyPriority, Chargers: map[string]ChargerInput{
		"a": {UserLimitMA: 8000, HWLimitMA: 32000},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a := res.Allocations["a"]; a.MilliAmps != 8000 || a.Reason != ReasonUserLimitRestore {
		t.Fatalf("expected restore to 8000 got %+v", a)
	}
}

func TestEvaluatePriorityGreedy(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 20, Strategy: StrategyPriority, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true, Priority: 1},
		"10.0.0.6": {Active: true, Priority: 2},
		"10.0.0.7": {Active: true, Priority: 3},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := map[string]int64{"10.0.0.5": 8000, "10.0.0.6": 6000, "10.0.0.7": 6000}
	for id, ma := range want {
		if got := res.Allocations[id].MilliAmps; got != ma {
			t.Fatalf("%s: expected %d got %d", id, ma, got)
		}
	}
}

func TestEvaluatePriorityHardwareClampFreesBudget(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 20, Strategy: StrategyPriority, Chargers: map[string]ChargerInput{
		"10.0.0.5": {Active: true, Priority: 1, HWLimitMA: 6500},
		"10.0.0.6": {Active: true, Priority: 2},
		"10.0.0.7": {Active: true, Priority: 3},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	first := res.Allocations["10.0.0.5"]
	if first.MilliAmps != 6500 || first.Reason != ReasonHardwareLimit {
		t.Fatalf("expected clamp to 6500 got %+v", first)
	}
	// The 1500 mA freed by the clamp flows to the next rank.
	if got := res.Allocations["10.0.0.6"].MilliAmps; got != 7500 {
		t.Fatalf("expected 7500 got %d", got)
	}
	if got := res.Allocations["10.0.0.7"].MilliAmps; got != 6000 {
		t.Fatalf("expected 6000 got %d", got)
	}
}

func TestEvaluatePriorityUnrankedLastTiesByID(t *testing.T) {
	res, err := Evaluate(Input{BudgetA: 20, Strategy: StrategyPriority, Chargers: map[string]ChargerInput{
		"b": {Active: true},              // unranked, sorts after ranked
		"a": {Active: true},              // unranked, ties broken by id
		"c": {Active: true, Priority: 1}, // highest priority
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// c is served first (8000), then a, then b.
	if got := res.Allocations["c"].MilliAmps; got != 8000 {
		t.Fatalf("ranked charger must be served first, got %d", got)
	}
	if got := res.Allocations["a"].MilliAmps; got != 6000 {
		t.Fatalf("expected 6000 for a got %d", got)
	}
	if got := res.Allocations["b"].MilliAmps; got != 6000 {
		t.Fatalf("expected 6000 for b got %d", got)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	in := Input{BudgetA: 17, Strategy: StrategyPriority, Chargers: map[string]ChargerInput{
		"a": {Active: true, Priority: 2, HWLimitMA: 9000},
		"b": {Active: true, Priority: 1},
		"c": {Active: false, UserLimitMA: 12000},
	}}
	first, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Evaluate(in)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", first, again)
		}
	}
}
