package config

import (
	"fmt"
	"net"

	"github.com/gridsteer/kecc/core/balancer"
)

// ChargerConfig identifies one wallbox on the installation network.
type ChargerConfig struct {
	// IP is the charger's address on the installation LAN.
	IP string `json:"ip"`
	// Label is an optional human readable name used in logs and status.
	Label string `json:"label"`
	// UserLimitMA caps the current this charger may be allocated, in
	// milliamps. Zero means no cap beyond the hardware limit.
	UserLimitMA int64 `json:"user_limit_ma"`
	// Priority ranks the charger under the priority strategy. Lower ranks
	// are served first; zero means unranked.
	Priority int `json:"priority"`
}

// Validate checks one charger entry.
func (c ChargerConfig) Validate() error {
	if c.IP == "" {
		return fmt.Errorf("charger ip is required")
	}
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("invalid charger ip %q", c.IP)
	}
	if c.UserLimitMA != 0 && (c.UserLimitMA < balancer.MinChargeCurrentMA || c.UserLimitMA > balancer.MaxChargeCurrentMA) {
		return fmt.Errorf("charger %s: user limit %d mA outside %d..%d",
			c.IP, c.UserLimitMA, balancer.MinChargeCurrentMA, balancer.MaxChargeCurrentMA)
	}
	if c.Priority < 0 {
		return fmt.Errorf("charger %s: priority must not be negative", c.IP)
	}
	return nil
}

// ValidateChargers checks the fleet list as a whole.
func ValidateChargers(chargers []ChargerConfig) error {
	if len(chargers) == 0 {
		return fmt.Errorf("at least one charger is required")
	}
	seen := make(map[string]struct{}, len(chargers))
	for _, c := range chargers {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := seen[c.IP]; ok {
			return fmt.Errorf("duplicate charger ip %s", c.IP)
		}
		seen[c.IP] = struct{}{}
	}
	return nil
}
