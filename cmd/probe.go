package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridsteer/kecc/config"
	"github.com/gridsteer/kecc/infra/keba"
	"github.com/gridsteer/kecc/infra/logger"
	"github.com/gridsteer/kecc/infra/udp"
)

var probeCmd = &cobra.Command{
	Use:   "probe <ip>",
	Short: "Query a charger's identity report",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	ip := args[0]
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid charger ip %q", ip)
	}

	// The config file is optional here: a probe must work before any
	// chargers are configured.
	udpCfg := udp.Config{}
	timeout := keba.DefaultTimeout
	if cfg, err := config.Load(cfgPath); err == nil {
		udpCfg = cfg.UDP
		timeout = cfg.Poll.RequestTimeout()
	}
	udpCfg.SetDefaults()

	log := logger.New("probe")
	transport := udp.New(udpCfg, log)
	if err := transport.Start(); err != nil {
		return fmt.Errorf("udp transport: %w", err)
	}
	defer transport.Stop()

	cli := keba.NewClient(transport, ip, keba.WithTimeout(timeout), keba.WithLogger(log))
	if err := cli.Connect(); err != nil {
		return err
	}
	defer cli.Disconnect()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout+time.Second)
	defer cancel()
	r1, err := cli.Probe(ctx)
	if err != nil {
		return fmt.Errorf("charger %s did not answer: %w", ip, err)
	}
	fmt.Printf("ip:       %s\nserial:   %s\nproduct:  %s\nfirmware: %s\n",
		ip, r1.Serial, r1.Product, r1.Firmware)
	return nil
}
