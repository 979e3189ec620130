// Package poll keeps charger snapshots fresh. One goroutine per charger
// requests the periodic reports, assembles a snapshot and publishes it on
// the event bus.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridsteer/kecc/core/charger"
	"github.com/gridsteer/kecc/core/events"
	"github.com/gridsteer/kecc/core/keba"
	"github.com/gridsteer/kecc/core/logger"
	"github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/internal/eventbus"
)

// DefaultInterval is the polling period per charger.
const DefaultInterval = 10 * time.Second

// Option adjusts poller construction.
type Option func(*Poller)

// WithInterval overrides the polling period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// Poller refreshes the snapshot store for a set of chargers. Chargers are
// registered with Add before Run is called.
type Poller struct {
	interval time.Duration
	store    *charger.Store
	bus      *eventbus.Bus[events.ChargerStateEvent]
	sink     metrics.Sink
	log      logger.Logger

	mu         sync.Mutex
	clients    map[string]charger.Client
	kicks      map[string]chan struct{}
	identities map[string]keba.Report1
}

// New creates a poller publishing snapshots to store and bus. Sink and bus
// may be nil.
func New(store *charger.Store, bus *eventbus.Bus[events.ChargerStateEvent], sink metrics.Sink, log logger.Logger, opts ...Option) *Poller {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	p := &Poller{
		interval:   DefaultInterval,
		store:      store,
		bus:        bus,
		sink:       sink,
		log:        log,
		clients:    make(map[string]charger.Client),
		kicks:      make(map[string]chan struct{}),
		identities: make(map[string]keba.Report1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers a charger for polling. It must be called before Run.
func (p *Poller) Add(cli charger.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip := cli.IP()
	p.clients[ip] = cli
	if _, ok := p.kicks[ip]; !ok {
		p.kicks[ip] = make(chan struct{}, 1)
	}
}

// Kick schedules an immediate refresh of one charger. Coalesces when a
// refresh is already pending.
func (p *Poller) Kick(ip string) {
	p.mu.Lock()
	ch, ok := p.kicks[ip]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// KickAll schedules an immediate refresh of every charger.
func (p *Poller) KickAll() {
	p.mu.Lock()
	ips := make([]string, 0, len(p.kicks))
	for ip := range p.kicks {
		ips = append(ips, ip)
	}
	p.mu.Unlock()
	for _, ip := range ips {
		p.Kick(ip)
	}
}

// Run polls every registered charger until the context is done.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	clients := make(map[string]charger.Client, len(p.clients))
	for ip, cli := range p.clients {
		clients[ip] = cli
	}
	kicks := make(map[string]chan struct{}, len(p.kicks))
	for ip, ch := range p.kicks {
		kicks[ip] = ch
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for ip, cli := range clients {
		wg.Add(1)
		go func(cli charger.Client, kick <-chan struct{}) {
			defer wg.Done()
			p.loop(ctx, cli, kick)
		}(cli, kicks[ip])
	}
	wg.Wait()
}

func (p *Poller) loop(ctx context.Context, cli charger.Client, kick <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	if err := p.pollOnce(ctx, cli); err != nil {
		p.log.Warnf("%v", err)
	}
	for {
		select {
		case <-ticker.C:
		case <-kick:
		case <-ctx.Done():
			return
		}
		if err := p.pollOnce(ctx, cli); err != nil {
			p.log.Warnf("%v", err)
		}
	}
}

// pollOnce requests reports 2 and 3, plus report 1 on the first pass and
// report 100 best effort, and stores the assembled snapshot. A failing
// report 2 or 3 fails the whole cycle so no partial snapshot is published.
func (p *Poller) pollOnce(ctx context.Context, cli charger.Client) error {
	ip := cli.IP()
	start := time.Now()

	identity, ok := p.identity(ip)
	if !ok {
		r1, err := cli.Report1(ctx)
		if err != nil {
			return p.fail(ip, start, fmt.Errorf("report 1: %w", err))
		}
		p.setIdentity(ip, r1)
		identity = r1
	}
	state, err := cli.Report2(ctx)
	if err != nil {
		return p.fail(ip, start, fmt.Errorf("report 2: %w", err))
	}
	meas, err := cli.Report3(ctx)
	if err != nil {
		return p.fail(ip, start, fmt.Errorf("report 3: %w", err))
	}
	var session *keba.Report100
	if s, serr := cli.Report100(ctx); serr == nil {
		session = &s
	} else {
		p.log.Debugf("report 100 unavailable for %s: %v", ip, serr)
	}

	prev, had := p.store.Get(ip)
	snap := p.store.Set(charger.NewSnapshot(ip, identity, state, meas, session, time.Now()))

	ev := events.ChargerStateEvent{Snapshot: snap, Transition: !had}
	if had {
		ev.Prev = &prev
		ev.Transition = snap.StateChangedFrom(prev)
	}
	if ev.Transition {
		p.log.Infof("charger %s: state %s, plug %s", ip, snap.StateText, snap.PlugText)
	}
	if p.bus != nil {
		p.bus.Publish(ev)
	}
	if err := p.sink.RecordPoll(metrics.PollEvent{IP: ip, Serial: snap.Serial, Success: true, Duration: time.Since(start), Time: time.Now()}); err != nil {
		p.log.Errorf("record poll: %v", err)
	}
	if err := p.sink.RecordSnapshot(metrics.SnapshotEvent{Snapshot: snap, Time: snap.Timestamp}); err != nil {
		p.log.Errorf("record snapshot: %v", err)
	}
	return nil
}

func (p *Poller) fail(ip string, start time.Time, err error) error {
	if rerr := p.sink.RecordPoll(metrics.PollEvent{IP: ip, Success: false, Duration: time.Since(start), Time: time.Now()}); rerr != nil {
		p.log.Errorf("record poll: %v", rerr)
	}
	return fmt.Errorf("poll %s: %w", ip, err)
}

func (p *Poller) identity(ip string) (keba.Report1, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r1, ok := p.identities[ip]
	return r1, ok
}

func (p *Poller) setIdentity(ip string, r1 keba.Report1) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[ip] = r1
}
