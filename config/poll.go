package config

import (
	"fmt"
	"time"
)

// PollConfig controls the per charger report polling loops.
type PollConfig struct {
	// IntervalSeconds between full report refreshes of one charger.
	IntervalSeconds int `json:"interval_seconds"`
	// RequestTimeoutMS bounds the wait for one UDP reply.
	RequestTimeoutMS int `json:"request_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *PollConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 10
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = 2000
	}
}

// Validate checks mandatory fields.
func (c PollConfig) Validate() error {
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be at least 1s")
	}
	if c.RequestTimeoutMS < 100 {
		return fmt.Errorf("request timeout must be at least 100ms")
	}
	return nil
}

// Interval returns the poll interval as a duration.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per request timeout as a duration.
func (c PollConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
