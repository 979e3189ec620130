// Package app wires the configured components into a runnable service.
package app

import (
	"context"
	"fmt"

	"github.com/gridsteer/kecc/config"
	"github.com/gridsteer/kecc/core/balancer"
	"github.com/gridsteer/kecc/core/charger"
	"github.com/gridsteer/kecc/core/coordinator"
	"github.com/gridsteer/kecc/core/events"
	"github.com/gridsteer/kecc/core/factory"
	coremetrics "github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/core/poll"
	_ "github.com/gridsteer/kecc/infra/history"
	"github.com/gridsteer/kecc/infra/keba"
	"github.com/gridsteer/kecc/infra/logger"
	inframetrics "github.com/gridsteer/kecc/infra/metrics"
	"github.com/gridsteer/kecc/infra/mqtt"
	"github.com/gridsteer/kecc/infra/udp"
	"github.com/gridsteer/kecc/internal/eventbus"
)

// Service orchestrates the transport, the per charger poll loops and the
// allocation coordinator.
type Service struct {
	Coordinator *coordinator.Coordinator

	cfg       *config.Config
	log       logger.Logger
	transport *udp.Transport
	clients   []*keba.Client
	store     *charger.Store
	bus       *eventbus.Bus[events.ChargerStateEvent]
	poller    *poll.Poller
	history   coordinator.HistoryStore
	publisher *mqtt.Publisher
	promAddr  string
}

// New creates a Service from the configuration. MQTT and the history store
// are opened here; chargers are contacted only when Run starts.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")
	transport := udp.New(cfg.UDP, logger.New("udp"))
	store := charger.NewStore()
	bus := eventbus.New[events.ChargerStateEvent]()

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	poller := poll.New(store, bus, sink, logger.New("poller"),
		poll.WithInterval(cfg.Poll.Interval()))

	strategy, err := balancer.ParseStrategy(cfg.Balancer.Strategy)
	if err != nil {
		return nil, err
	}
	coord, err := coordinator.New(store, cfg.Balancer.BudgetA, strategy,
		cfg.Balancer.Interval(), sink, bus, logger.New("coordinator"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	coord.SetRefresher(poller)

	svc := &Service{
		Coordinator: coord,
		cfg:         cfg,
		log:         log,
		transport:   transport,
		store:       store,
		bus:         bus,
		poller:      poller,
		promAddr:    promAddr(cfg.Metrics.Sinks),
	}

	for _, cc := range cfg.Chargers {
		cli := keba.NewClient(transport, cc.IP,
			keba.WithTimeout(cfg.Poll.RequestTimeout()),
			keba.WithLogger(logger.New("keba")))
		poller.Add(cli)
		coord.Manage(cc.IP, coordinator.Managed{
			Client:      cli,
			Label:       cc.Label,
			UserLimitMA: cc.UserLimitMA,
			Priority:    cc.Priority,
		})
		svc.clients = append(svc.clients, cli)
	}

	hist, err := coordinator.NewHistoryStore(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	if hist != nil {
		coord.SetHistory(hist)
		svc.history = hist
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		coord.SetPublisher(pub)
		svc.publisher = pub
	}
	return svc, nil
}

// promAddr returns the listen address of the prometheus sink, or "" when
// none is configured.
func promAddr(sinks []factory.ModuleConfig) string {
	for _, s := range sinks {
		if s.Type != "prometheus" {
			continue
		}
		if addr, ok := s.Conf["addr"].(string); ok && addr != "" {
			return addr
		}
		return ":2112"
	}
	return ""
}

// Run starts the transport, probes and polls every configured charger and
// runs the coordinator until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("udp transport: %w", err)
	}
	for _, cli := range s.clients {
		if err := cli.Connect(); err != nil {
			return fmt.Errorf("connect %s: %w", cli.IP(), err)
		}
	}
	s.probe(ctx)

	go s.poller.Run(ctx)
	go s.Coordinator.Run(ctx)
	if s.promAddr != "" {
		go func() {
			if err := inframetrics.StartPromServer(ctx, s.promAddr, logger.New("metrics_http")); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.publisher != nil {
		sub := s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
		go func() {
			for ev := range sub {
				if err := s.publisher.PublishSnapshot(ev.Snapshot); err != nil {
					s.log.Errorf("publish snapshot %s: %v", ev.Snapshot.IP, err)
				}
			}
		}()
	}
	<-ctx.Done()
	return nil
}

// probe fetches report 1 from every charger once. Failures are logged and
// the charger stays in the fleet; it will keep surfacing through poll
// failures until it answers.
func (s *Service) probe(ctx context.Context) {
	for _, cli := range s.clients {
		r1, err := cli.Probe(ctx)
		if err != nil {
			s.log.Warnf("charger %s did not answer probe: %v", cli.IP(), err)
			continue
		}
		s.log.Infof("charger %s: serial=%s product=%s firmware=%s",
			cli.IP(), r1.Serial, r1.Product, r1.Firmware)
	}
}

// Close releases every resource held by the service. Run must have returned.
func (s *Service) Close() error {
	for _, cli := range s.clients {
		cli.Disconnect()
	}
	s.transport.Stop()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Errorf("close history store: %v", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	s.bus.Close()
	return nil
}
