// Package events defines the payloads carried on the internal bus.
package events

import "github.com/gridsteer/kecc/core/charger"

// ChargerStateEvent is published after every successful poll of a charger.
type ChargerStateEvent struct {
	Snapshot charger.Snapshot
	Prev     *charger.Snapshot
	// Transition is set when the state or plug code changed relative to
	// Prev. Allocation is re-evaluated on transitions only.
	Transition bool
}
