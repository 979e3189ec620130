package coordinator

import (
	"context"
	"time"

	"github.com/gridsteer/kecc/core/factory"
)

// CycleRecord is the persisted form of one evaluation cycle.
type CycleRecord struct {
	Timestamp          time.Time                   `json:"timestamp"`
	CycleID            string                      `json:"cycle_id"`
	Strategy           string                      `json:"strategy"`
	BudgetA            int64                       `json:"budget_a"`
	ActiveChargers     int                         `json:"active_chargers"`
	Balancing          bool                        `json:"balancing"`
	InsufficientBudget bool                        `json:"insufficient_budget"`
	Allocations        map[string]AllocationStatus `json:"allocations"`
}

// HistoryQuery defines filters for retrieving records. Zero values match
// everything.
type HistoryQuery struct {
	Start    time.Time
	End      time.Time
	IP       string
	Strategy string
}

// Matches reports whether rec passes the query filters.
func (q HistoryQuery) Matches(rec CycleRecord) bool {
	if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && rec.Timestamp.After(q.End) {
		return false
	}
	if q.Strategy != "" && rec.Strategy != q.Strategy {
		return false
	}
	if q.IP != "" {
		if _, ok := rec.Allocations[q.IP]; !ok {
			return false
		}
	}
	return true
}

// HistoryStore persists CycleRecords and supports querying.
type HistoryStore interface {
	Append(ctx context.Context, rec CycleRecord) error
	Query(ctx context.Context, q HistoryQuery) ([]CycleRecord, error)
	Close() error
}

var historyRegistry = factory.NewRegistry[HistoryStore]()

// RegisterHistoryStore adds a store factory identified by name. Store
// packages call this from init.
func RegisterHistoryStore(name string, f factory.Factory[HistoryStore]) error {
	return historyRegistry.Register(name, f)
}

// NewHistoryStore creates the configured store. An empty type means history
// is disabled and yields a nil store.
func NewHistoryStore(cfg factory.ModuleConfig) (HistoryStore, error) {
	if cfg.Type == "" {
		return nil, nil
	}
	return historyRegistry.Create(cfg)
}

// Record converts a cycle status into its persisted form.
func (s Status) Record() CycleRecord {
	return CycleRecord{
		Timestamp:          s.Time,
		CycleID:            s.CycleID,
		Strategy:           s.Strategy,
		BudgetA:            s.BudgetA,
		ActiveChargers:     s.ActiveChargers,
		Balancing:          s.Balancing,
		InsufficientBudget: s.InsufficientBudget,
		Allocations:        s.Allocations,
	}
}
