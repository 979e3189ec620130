// Package coordinator drives the allocation engine across a charger fleet.
// It evaluates on a fixed cadence, on charger state transitions and whenever
// budget, strategy or priorities change, and writes the resulting limits to
// the chargers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridsteer/kecc/core/balancer"
	"github.com/gridsteer/kecc/core/charger"
	"github.com/gridsteer/kecc/core/events"
	"github.com/gridsteer/kecc/core/logger"
	"github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/internal/eventbus"
)

// DefaultInterval is the periodic evaluation cadence.
const DefaultInterval = 10 * time.Second

// unrankedPriority is displayed for chargers without a configured rank.
const unrankedPriority = 999

// Managed describes one charger under coordination.
type Managed struct {
	Client      charger.Client
	Label       string
	UserLimitMA int64
	Priority    int
}

// AllocationStatus is the applied outcome for one charger in one cycle.
type AllocationStatus struct {
	MilliAmps int64  `json:"milliamps"`
	Reason    string `json:"reason"`
	Applied   bool   `json:"applied"`
	Error     string `json:"error,omitempty"`
}

// Status describes the most recent evaluation cycle.
type Status struct {
	CycleID            string                      `json:"cycle_id"`
	Time               time.Time                   `json:"time"`
	Strategy           string                      `json:"strategy"`
	BudgetA            int64                       `json:"budget_a"`
	ActiveChargers     int                         `json:"active_chargers"`
	Balancing          bool                        `json:"balancing"`
	InsufficientBudget bool                        `json:"insufficient_budget"`
	Distribution       string                      `json:"distribution"`
	TotalPowerKW       float64                     `json:"total_power_kw"`
	TotalSessionKWh    float64                     `json:"total_session_energy_kwh"`
	TotalEnergyKWh     float64                     `json:"total_energy_kwh"`
	Allocations        map[string]AllocationStatus `json:"allocations"`
}

// StatusPublisher receives the status after every cycle.
type StatusPublisher interface {
	PublishStatus(Status) error
}

// Refresher schedules an out-of-band snapshot refresh once allocations have
// been written, so the next status reflects them promptly.
type Refresher interface {
	KickAll()
}

// Coordinator owns the fleet registry and the evaluation loop.
type Coordinator struct {
	store    *charger.Store
	sink     metrics.Sink
	bus      *eventbus.Bus[events.ChargerStateEvent]
	log      logger.Logger
	interval time.Duration

	history   HistoryStore
	publisher StatusPublisher
	refresher Refresher

	mu       sync.Mutex
	chargers map[string]Managed
	budgetA  int64
	strategy balancer.Strategy
	last     Status

	trigger chan struct{}
}

// New creates a coordinator reading snapshots from store. The interval
// defaults to DefaultInterval when zero. Sink and bus may be nil.
func New(store *charger.Store, budgetA int64, strategy balancer.Strategy, interval time.Duration, sink metrics.Sink, bus *eventbus.Bus[events.ChargerStateEvent], log logger.Logger) (*Coordinator, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("coordinator: nil parameter provided to New")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if strategy == "" {
		strategy = balancer.StrategyOff
	}
	return &Coordinator{
		store:    store,
		sink:     sink,
		bus:      bus,
		log:      log,
		interval: interval,
		chargers: make(map[string]Managed),
		budgetA:  budgetA,
		strategy: strategy,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// SetHistory attaches a cycle history store.
func (c *Coordinator) SetHistory(h HistoryStore) { c.history = h }

// SetPublisher attaches a status publisher.
func (c *Coordinator) SetPublisher(p StatusPublisher) { c.publisher = p }

// SetRefresher attaches the poller kicked after each applied cycle.
func (c *Coordinator) SetRefresher(r Refresher) { c.refresher = r }

// Manage adds or replaces a charger in the coordinated fleet.
func (c *Coordinator) Manage(ip string, m Managed) {
	c.mu.Lock()
	c.chargers[ip] = m
	c.mu.Unlock()
}

// Forget removes a charger from the fleet and drops its snapshot.
func (c *Coordinator) Forget(ip string) {
	c.mu.Lock()
	delete(c.chargers, ip)
	c.mu.Unlock()
	c.store.Delete(ip)
	c.Trigger()
}

// SetBudget updates the shared supply budget in ampere and re-evaluates.
func (c *Coordinator) SetBudget(amps int64) {
	c.mu.Lock()
	c.budgetA = amps
	c.mu.Unlock()
	c.log.Infof("budget set to %d A", amps)
	c.Trigger()
}

// SetStrategy switches the balancing strategy and re-evaluates.
func (c *Coordinator) SetStrategy(s balancer.Strategy) {
	c.mu.Lock()
	c.strategy = s
	c.mu.Unlock()
	c.log.Infof("strategy set to %s", s)
	c.Trigger()
}

// SetPriority updates one charger's rank and re-evaluates. Lower ranks win;
// zero means unranked.
func (c *Coordinator) SetPriority(ip string, rank int) {
	c.mu.Lock()
	if m, ok := c.chargers[ip]; ok {
		m.Priority = rank
		c.chargers[ip] = m
	}
	strategy := c.strategy
	c.mu.Unlock()
	if strategy == balancer.StrategyPriority {
		c.Trigger()
	}
}

// SetUserLimit updates one charger's configured current limit in milliampere
// and re-evaluates so a restore pass picks it up.
func (c *Coordinator) SetUserLimit(ip string, milliamps int64) {
	c.mu.Lock()
	if m, ok := c.chargers[ip]; ok {
		m.UserLimitMA = milliamps
		c.chargers[ip] = m
	}
	c.mu.Unlock()
	c.Trigger()
}

// Trigger schedules an immediate evaluation. Coalesces when one is already
// pending.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Status returns the result of the most recent cycle.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run evaluates until the context is done. Evaluations fire on the interval
// ticker, on charger state transitions from the bus and on Trigger.
func (c *Coordinator) Run(ctx context.Context) {
	var sub <-chan events.ChargerStateEvent
	if c.bus != nil {
		sub = c.bus.Subscribe()
		defer c.bus.Unsubscribe(sub)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Evaluate(ctx)
	for {
		select {
		case <-ticker.C:
			c.Evaluate(ctx)
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if ev.Transition {
				c.Evaluate(ctx)
			}
		case <-c.trigger:
			c.Evaluate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate runs one cycle: gather snapshots, compute allocations, write them
// to the chargers and record the outcome.
func (c *Coordinator) Evaluate(ctx context.Context) Status {
	start := time.Now()

	c.mu.Lock()
	budget := c.budgetA
	strategy := c.strategy
	managed := make(map[string]Managed, len(c.chargers))
	for ip, m := range c.chargers {
		managed[ip] = m
	}
	c.mu.Unlock()

	st := Status{
		CycleID:     uuid.NewString(),
		Time:        start,
		Strategy:    string(strategy),
		BudgetA:     budget,
		Allocations: make(map[string]AllocationStatus),
	}

	input := balancer.Input{
		BudgetA:  budget,
		Strategy: strategy,
		Chargers: make(map[string]balancer.ChargerInput, len(managed)),
	}
	for ip, m := range managed {
		snap, ok := c.store.Get(ip)
		if !ok {
			c.log.Debugf("no snapshot for %s yet, skipping", ip)
			continue
		}
		in := balancer.ChargerInput{
			Active:      snap.Active(),
			Priority:    m.Priority,
			UserLimitMA: m.UserLimitMA,
		}
		if snap.HWLimitMA != nil {
			in.HWLimitMA = *snap.HWLimitMA
		}
		if in.UserLimitMA <= 0 && snap.UserLimitMA != nil {
			in.UserLimitMA = *snap.UserLimitMA
		}
		input.Chargers[ip] = in
		if snap.PowerKW != nil {
			st.TotalPowerKW += *snap.PowerKW
		}
		if snap.SessionEnergyKWh != nil {
			st.TotalSessionKWh += *snap.SessionEnergyKWh
		}
		if snap.TotalEnergyKWh != nil {
			st.TotalEnergyKWh += *snap.TotalEnergyKWh
		}
	}

	res, err := balancer.Evaluate(input)
	st.ActiveChargers = res.ActiveCount
	st.Balancing = res.Balancing
	switch {
	case errors.Is(err, balancer.ErrInsufficientBudget):
		st.InsufficientBudget = true
		budgetShortfall.Inc()
		c.log.Warnf("%v; existing limits left untouched", err)
	case err != nil:
		c.log.Errorf("allocation failed: %v", err)
	case len(res.Allocations) > 0:
		c.apply(ctx, managed, strategy, res, &st)
	}
	st.Distribution = distribution(strategy, budget, res.ActiveCount)

	c.finish(ctx, &st, time.Since(start))
	return st
}

// apply writes the allocations concurrently. One charger's failure never
// blocks or fails the others.
func (c *Coordinator) apply(ctx context.Context, managed map[string]Managed, strategy balancer.Strategy, res balancer.Result, st *Status) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	update := func(ip string, alloc balancer.Allocation, err error) {
		mu.Lock()
		defer mu.Unlock()
		as := AllocationStatus{
			MilliAmps: alloc.MilliAmps,
			Reason:    string(alloc.Reason),
			Applied:   err == nil,
		}
		if err != nil {
			as.Error = err.Error()
		}
		st.Allocations[ip] = as
	}
	for ip, alloc := range res.Allocations {
		m, ok := managed[ip]
		if !ok || m.Client == nil {
			continue
		}
		wg.Add(1)
		go func(ip string, m Managed, alloc balancer.Allocation) {
			defer wg.Done()
			err := m.Client.SetCurrent(ctx, alloc.MilliAmps)
			if err != nil {
				commandFailure.Inc()
				c.log.Errorf("set current %d mA on %s failed: %v", alloc.MilliAmps, ip, err)
			} else {
				commandSuccess.Inc()
				if derr := m.Client.DisplayText(ctx, displayMessage(strategy, m.Priority, alloc)); derr != nil {
					c.log.Debugf("display message to %s failed: %v", ip, derr)
				}
			}
			update(ip, alloc, err)
		}(ip, m, alloc)
	}
	wg.Wait()
}

// finish records the cycle with the sink, history and publisher, stores it
// as the latest status and kicks the poller when limits changed.
func (c *Coordinator) finish(ctx context.Context, st *Status, took time.Duration) {
	evalLatency.Observe(took.Seconds())

	c.mu.Lock()
	c.last = *st
	c.mu.Unlock()

	if len(st.Allocations) > 0 {
		evs := make([]metrics.AllocationEvent, 0, len(st.Allocations))
		for ip, as := range st.Allocations {
			evs = append(evs, metrics.AllocationEvent{
				CycleID:   st.CycleID,
				IP:        ip,
				MilliAmps: as.MilliAmps,
				Reason:    as.Reason,
				Applied:   as.Applied,
				Time:      st.Time,
			})
		}
		if err := c.sink.RecordAllocations(evs); err != nil {
			c.log.Errorf("allocation metrics error: %v", err)
		}
	}
	if err := c.sink.RecordCycle(metrics.CycleEvent{
		CycleID:            st.CycleID,
		Strategy:           st.Strategy,
		BudgetA:            st.BudgetA,
		ActiveChargers:     st.ActiveChargers,
		Balancing:          st.Balancing,
		InsufficientBudget: st.InsufficientBudget,
		TotalPowerKW:       st.TotalPowerKW,
		Duration:           took,
		Time:               st.Time,
	}); err != nil {
		c.log.Errorf("cycle metrics error: %v", err)
	}
	if c.history != nil {
		if err := c.history.Append(ctx, st.Record()); err != nil {
			c.log.Errorf("history append: %v", err)
		}
	}
	if c.publisher != nil {
		if err := c.publisher.PublishStatus(*st); err != nil {
			c.log.Errorf("status publish: %v", err)
		}
	}
	if c.refresher != nil && len(st.Allocations) > 0 {
		c.refresher.KickAll()
	}
}

// displayMessage mirrors the feedback the vendor tooling shows on the
// charger display.
func displayMessage(strategy balancer.Strategy, priority int, alloc balancer.Allocation) string {
	amps := alloc.MilliAmps / 1000
	if alloc.Reason == balancer.ReasonUserLimitRestore {
		return fmt.Sprintf("Restore %dA", amps)
	}
	if strategy == balancer.StrategyPriority {
		if priority <= 0 {
			priority = unrankedPriority
		}
		return fmt.Sprintf("LoadBal Prio%d %dA", priority, amps)
	}
	return fmt.Sprintf("LoadBal Equal %dA", amps)
}

func distribution(strategy balancer.Strategy, budgetA int64, active int) string {
	if strategy == balancer.StrategyOff || strategy == "" {
		return "Off - No load balancing"
	}
	if active == 0 {
		return "No active chargers"
	}
	if strategy == balancer.StrategyPriority {
		return fmt.Sprintf("Priority: %d chargers", active)
	}
	return fmt.Sprintf("%d chargers @ %.1fA each", active, float64(budgetA)/float64(active))
}
