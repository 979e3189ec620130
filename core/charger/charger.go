// Package charger defines the coordinator-facing view of a charging
// station: the client operations the control loops need, the per-poll
// snapshot, and the store holding the latest snapshot per charger.
package charger

import (
	"context"

	"github.com/gridsteer/kecc/core/keba"
)

// Client is the subset of charger operations the polling and coordination
// loops depend on. The full command surface lives on the concrete client.
type Client interface {
	IP() string
	Report1(ctx context.Context) (keba.Report1, error)
	Report2(ctx context.Context) (keba.Report2, error)
	Report3(ctx context.Context) (keba.Report3, error)
	Report100(ctx context.Context) (keba.Report100, error)
	SetCurrent(ctx context.Context, milliamps int64) error
	DisplayText(ctx context.Context, text string) error
}
