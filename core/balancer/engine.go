// Package balancer computes charging-current allocations for a fleet of
// chargers sharing one supply budget. Evaluation is pure: no I/O, no clock,
// identical output for identical input.
package balancer

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Strategy selects how the budget is split across active chargers.
type Strategy string

const (
	StrategyOff      Strategy = "off"
	StrategyEqual    Strategy = "equal"
	StrategyPriority Strategy = "priority"
)

// ParseStrategy validates a configuration string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyOff, StrategyEqual, StrategyPriority:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("balancer: unknown strategy %q", s)
	}
}

// Reason records why a charger received its allocation.
type Reason string

const (
	// ReasonLoadBalancing marks a fair-share or greedy allocation.
	ReasonLoadBalancing Reason = "load_balancing"
	// ReasonHardwareLimit marks an allocation reduced by the charger's own
	// hardware capability.
	ReasonHardwareLimit Reason = "hardware_limit"
	// ReasonUserLimitRestore marks the hand-back to the configured user
	// limit when fewer than two sessions are active.
	ReasonUserLimitRestore Reason = "user_limit_restore"
)

const (
	// MinChargeCurrentMA is the vendor minimum; below it charging does not
	// work correctly.
	MinChargeCurrentMA = 6000
	// MaxChargeCurrentMA is the KeContact hardware maximum.
	MaxChargeCurrentMA = 63000
)

// ErrInsufficientBudget signals that the budget cannot give every active
// charger the vendor minimum. The caller reports it; no allocations are
// produced.
var ErrInsufficientBudget = errors.New("balancer: insufficient budget")

// ChargerInput is one charger's contribution to an evaluation. Zero limits
// mean unknown.
type ChargerInput struct {
	Active      bool
	HWLimitMA   int64
	UserLimitMA int64
	Priority    int
}

// Input is a complete evaluation request. Passed by value; the engine never
// retains it.
type Input struct {
	BudgetA  int64
	Strategy Strategy
	Chargers map[string]ChargerInput
}

// Allocation is the computed limit for one charger.
type Allocation struct {
	MilliAmps int64  `json:"milliamps"`
	Reason    Reason `json:"reason"`
}

// Result carries the allocations of one evaluation.
type Result struct {
	Allocations map[string]Allocation
	ActiveCount int
	// Balancing reports whether the budget split is in effect, which needs
	// at least two concurrent sessions and a strategy other than off.
	Balancing bool
}

// Evaluate computes allocations for in. With fewer than two active chargers
// every charger is restored to its own limit; with two or more the strategy
// splits the budget. ErrInsufficientBudget is returned with an empty result
// when the budget cannot cover the vendor minimum per active charger.
func Evaluate(in Input) (Result, error) {
	res := Result{Allocations: map[string]Allocation{}}
	if in.Strategy == StrategyOff || in.Strategy == "" {
		return res, nil
	}

	active := make([]string, 0, len(in.Chargers))
	for id, c := range in.Chargers {
		if c.Active {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	res.ActiveCount = len(active)

	if len(active) < 2 {
		for id, c := range in.Chargers {
			res.Allocations[id] = Allocation{MilliAmps: restoreCurrent(c), Reason: ReasonUserLimitRestore}
		}
		return res, nil
	}
	res.Balancing = true

	availableMA := in.BudgetA * 1000
	requiredMA := int64(MinChargeCurrentMA * len(active))
	if availableMA < requiredMA {
		return Result{Allocations: map[string]Allocation{}, ActiveCount: len(active), Balancing: true},
			fmt.Errorf("%w: %d mA available, %d active chargers need %d mA", ErrInsufficientBudget, availableMA, len(active), requiredMA)
	}

	switch in.Strategy {
	case StrategyEqual:
		evaluateEqual(in, active, availableMA, &res)
	case StrategyPriority:
		evaluatePriority(in, active, availableMA, &res)
	}
	return res, nil
}

func evaluateEqual(in Input, active []string, availableMA int64, res *Result) {
	perChargerMA := availableMA / int64(len(active))
	perChargerMA = clamp(perChargerMA, MinChargeCurrentMA, MaxChargeCurrentMA)

	for _, id := range active {
		res.Allocations[id] = hardwareClamp(perChargerMA, in.Chargers[id].HWLimitMA)
	}
}

func evaluatePriority(in Input, active []string, availableMA int64, res *Result) {
	sorted := make([]string, len(active))
	copy(sorted, active)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(in.Chargers[sorted[i]]), rank(in.Chargers[sorted[j]])
		if ri != rj {
			return ri < rj
		}
		return sorted[i] < sorted[j]
	})

	remainingMA := availableMA
	for idx, id := range sorted {
		othersLeft := int64(len(sorted) - idx - 1)
		availableForThis := remainingMA - othersLeft*MinChargeCurrentMA
		alloc := hardwareClamp(clamp(availableForThis, MinChargeCurrentMA, MaxChargeCurrentMA), in.Chargers[id].HWLimitMA)
		res.Allocations[id] = alloc
		remainingMA -= alloc.MilliAmps
	}
}

// restoreCurrent is the limit a charger gets outside balancing: the smaller
// of its user and hardware limits, with unknown values treated as the vendor
// maximum (the firmware clamps internally).
func restoreCurrent(c ChargerInput) int64 {
	user := c.UserLimitMA
	if user <= 0 {
		user = MaxChargeCurrentMA
	}
	hw := c.HWLimitMA
	if hw <= 0 {
		hw = MaxChargeCurrentMA
	}
	if user < hw {
		return user
	}
	return hw
}

func hardwareClamp(milliamps, hwLimitMA int64) Allocation {
	if hwLimitMA > 0 && milliamps > hwLimitMA {
		return Allocation{MilliAmps: hwLimitMA, Reason: ReasonHardwareLimit}
	}
	return Allocation{MilliAmps: milliamps, Reason: ReasonLoadBalancing}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func rank(c ChargerInput) int {
	if c.Priority <= 0 {
		return math.MaxInt32
	}
	return c.Priority
}
