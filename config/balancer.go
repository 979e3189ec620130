package config

import (
	"fmt"
	"time"

	"github.com/gridsteer/kecc/core/balancer"
)

// BalancerConfig defines the shared supply budget and how it is split.
type BalancerConfig struct {
	// BudgetA is the total current available to the fleet, in amps.
	BudgetA int64 `json:"budget_a"`
	// Strategy selects the split: "off", "equal" or "priority".
	Strategy string `json:"strategy"`
	// IntervalSeconds is the periodic re-evaluation interval.
	IntervalSeconds int `json:"interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *BalancerConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = string(balancer.StrategyOff)
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c BalancerConfig) Validate() error {
	if _, err := balancer.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.BudgetA < 0 {
		return fmt.Errorf("budget must not be negative")
	}
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("re-evaluation interval must be at least 1s")
	}
	return nil
}

// Interval returns the re-evaluation interval as a duration.
func (c BalancerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
