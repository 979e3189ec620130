package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridsteer/kecc/config"
	corekeba "github.com/gridsteer/kecc/core/keba"
	"github.com/gridsteer/kecc/infra/keba"
	"github.com/gridsteer/kecc/infra/logger"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run emulated chargers for every configured endpoint",
	Long: `Starts one emulated KeContact charger per configured endpoint, answering
on the charger's address and port. Point the chargers at loopback aliases
(127.0.0.2, 127.0.0.3, ...) to exercise the service without hardware.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("simulate")

	emulators := make([]*keba.Emulator, 0, len(cfg.Chargers))
	defer func() {
		for _, em := range emulators {
			em.Stop()
		}
	}()
	for i, cc := range cfg.Chargers {
		em := keba.NewEmulator(cc.IP, cfg.UDP.Port,
			keba.WithSerial(fmt.Sprintf("1761%04d", i+1)))
		if err := em.Start(); err != nil {
			return fmt.Errorf("emulator %s: %w", cc.IP, err)
		}
		em.SetState(corekeba.StateCharging)
		em.SetPlug(corekeba.PlugStationEVLocked)
		emulators = append(emulators, em)
		log.Infof("emulated charger %s on %s:%d", cc.Label, cc.IP, cfg.UDP.Port)
	}

	<-ctx.Done()
	return nil
}
