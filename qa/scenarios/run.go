package scenarios

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridsteer/kecc/core/balancer"
	"github.com/gridsteer/kecc/core/charger"
	"github.com/gridsteer/kecc/core/coordinator"
	"github.com/gridsteer/kecc/core/events"
	coremetrics "github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/core/poll"
	"github.com/gridsteer/kecc/infra/keba"
	"github.com/gridsteer/kecc/infra/logger"
	"github.com/gridsteer/kecc/infra/udp"
	"github.com/gridsteer/kecc/internal/eventbus"
)

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port
}

// RunScenario stands up the scenario's fleet and executes its steps. Each
// step may adjust budget, strategy or charger states, then evaluates once
// and checks the expectations against the coordinator status and against
// what actually reached the emulated chargers.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	port := freePort(t)

	emus := make(map[string]*keba.Emulator, len(sc.Chargers))
	for i, cd := range sc.Chargers {
		serial := cd.Serial
		if serial == "" {
			serial = fmt.Sprintf("1761%04d", i+1)
		}
		opts := []keba.EmulatorOption{keba.WithSerial(serial)}
		if cd.HWLimitMA > 0 {
			opts = append(opts, keba.WithHardwareLimit(cd.HWLimitMA))
		}
		em := keba.NewEmulator(cd.IP, port, opts...)
		if err := em.Start(); err != nil {
			t.Skipf("cannot bind emulator address %s: %v", cd.IP, err)
		}
		t.Cleanup(em.Stop)
		em.SetState(cd.State)
		em.SetPlug(cd.Plug)
		if cd.PowerW > 0 {
			em.SetPower(cd.PowerW)
		}
		emus[cd.IP] = em
	}

	tr := udp.New(udp.Config{BindAddress: "127.0.0.1", Port: port}, logger.NopLogger{})
	require.NoError(t, tr.Start())
	t.Cleanup(tr.Stop)

	store := charger.NewStore()
	bus := eventbus.New[events.ChargerStateEvent]()
	t.Cleanup(bus.Close)

	poller := poll.New(store, bus, coremetrics.NopSink{}, logger.NopLogger{},
		poll.WithInterval(time.Hour))

	strategy, err := balancer.ParseStrategy(sc.Strategy)
	require.NoError(t, err)
	// No refresher: the client rejects overlapping requests, and a
	// post-apply refresh could still be in flight when the next step
	// issues its commands.
	coord, err := coordinator.New(store, sc.BudgetA, strategy, time.Hour,
		coremetrics.NopSink{}, bus, logger.NopLogger{})
	require.NoError(t, err)

	for _, cd := range sc.Chargers {
		cli := keba.NewClient(tr, cd.IP,
			keba.WithTimeout(time.Second), keba.WithLogger(logger.NopLogger{}))
		require.NoError(t, cli.Connect())
		t.Cleanup(cli.Disconnect)
		poller.Add(cli)
		coord.Manage(cd.IP, coordinator.Managed{
			Client:      cli,
			UserLimitMA: cd.UserLimitMA,
			Priority:    cd.Priority,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	pollerDone := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(pollerDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-pollerDone
	})

	for _, cd := range sc.Chargers {
		waitState(t, store, cd.IP, cd.State)
	}

	for i, step := range sc.Steps {
		if step.BudgetA != nil {
			coord.SetBudget(*step.BudgetA)
		}
		if step.Strategy != "" {
			s, err := balancer.ParseStrategy(step.Strategy)
			require.NoError(t, err)
			coord.SetStrategy(s)
		}
		if len(step.States) > 0 || len(step.Plugs) > 0 {
			for ip, state := range step.States {
				emus[ip].SetState(state)
			}
			for ip, plug := range step.Plugs {
				emus[ip].SetPlug(plug)
			}
			poller.KickAll()
			for ip, state := range step.States {
				waitState(t, store, ip, state)
			}
		}

		st := coord.Evaluate(ctx)
		checkStep(t, i, step.Expect, st, emus)
	}
}

func waitState(t *testing.T, store *charger.Store, ip string, state int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := store.Get(ip)
		return ok && snap.State != nil && *snap.State == state
	}, 5*time.Second, 10*time.Millisecond, "charger %s never reached state %d", ip, state)
}

func checkStep(t *testing.T, step int, want Expected, st coordinator.Status, emus map[string]*keba.Emulator) {
	t.Helper()
	if st.Balancing != want.Balancing {
		t.Errorf("step %d: balancing = %v, want %v", step, st.Balancing, want.Balancing)
	}
	if st.InsufficientBudget != want.InsufficientBudget {
		t.Errorf("step %d: insufficient budget = %v, want %v", step, st.InsufficientBudget, want.InsufficientBudget)
	}
	if want.Allocations != nil {
		if len(st.Allocations) != len(want.Allocations) {
			t.Errorf("step %d: %d allocations, want %d", step, len(st.Allocations), len(want.Allocations))
		}
		for ip, ma := range want.Allocations {
			got, ok := st.Allocations[ip]
			if !ok {
				t.Errorf("step %d: no allocation for %s", step, ip)
				continue
			}
			if got.MilliAmps != ma {
				t.Errorf("step %d: allocation %s = %d mA, want %d", step, ip, got.MilliAmps, ma)
			}
			if !got.Applied {
				t.Errorf("step %d: allocation %s not applied: %s", step, ip, got.Error)
			}
		}
	}
	for ip, ma := range want.UserCurrents {
		if got := emus[ip].UserCurrent(); got != ma {
			t.Errorf("step %d: charger %s user current = %d mA, want %d", step, ip, got, ma)
		}
	}
	for ip, text := range want.Displays {
		if got := emus[ip].LastDisplay(); got != text {
			t.Errorf("step %d: charger %s display = %q, want %q", step, ip, got, text)
		}
	}
}
