// Package scenarios runs YAML described allocation scenarios against the
// full stack: emulated chargers on loopback addresses, the shared UDP
// transport, real clients, the poller and the coordinator.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChargerDef describes one emulated charger and its coordinator settings.
type ChargerDef struct {
	IP          string `yaml:"ip"`
	Serial      string `yaml:"serial,omitempty"`
	HWLimitMA   int64  `yaml:"hw_limit_ma,omitempty"`
	UserLimitMA int64  `yaml:"user_limit_ma,omitempty"`
	Priority    int    `yaml:"priority,omitempty"`
	State       int64  `yaml:"state"`
	Plug        int64  `yaml:"plug"`
	PowerW      int64  `yaml:"power_w,omitempty"`
}

// Expected holds the assertions for one evaluation step. Nil maps are not
// checked.
type Expected struct {
	Balancing          bool              `yaml:"balancing"`
	InsufficientBudget bool              `yaml:"insufficient_budget,omitempty"`
	Allocations        map[string]int64  `yaml:"allocations,omitempty"`
	UserCurrents       map[string]int64  `yaml:"user_currents,omitempty"`
	Displays           map[string]string `yaml:"displays,omitempty"`
}

// StepDef mutates the fleet or the coordinator settings, then evaluates.
type StepDef struct {
	BudgetA  *int64           `yaml:"budget_a,omitempty"`
	Strategy string           `yaml:"strategy,omitempty"`
	States   map[string]int64 `yaml:"states,omitempty"`
	Plugs    map[string]int64 `yaml:"plugs,omitempty"`
	Expect   Expected         `yaml:"expect"`
}

// Scenario is one YAML file: a fleet, a starting configuration and a
// sequence of evaluation steps.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	BudgetA     int64        `yaml:"budget_a"`
	Strategy    string       `yaml:"strategy"`
	Chargers    []ChargerDef `yaml:"chargers"`
	Steps       []StepDef    `yaml:"steps"`
}

// Load reads and decodes one scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(sc.Chargers) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one charger is required", path)
	}
	return &sc, nil
}
