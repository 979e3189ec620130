package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridsteer/kecc/config"
	"github.com/gridsteer/kecc/core/coordinator"
	"github.com/gridsteer/kecc/pkg/export"
)

var historyOpts struct {
	since    time.Duration
	ip       string
	strategy string
	format   string
	out      string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Export recorded allocation cycles",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().DurationVar(&historyOpts.since, "since", 0, "only cycles newer than this (e.g. 24h)")
	historyCmd.Flags().StringVar(&historyOpts.ip, "ip", "", "only cycles that allocated to this charger")
	historyCmd.Flags().StringVar(&historyOpts.strategy, "strategy", "", "only cycles run with this strategy")
	historyCmd.Flags().StringVar(&historyOpts.format, "format", "json", "output format: json or csv")
	historyCmd.Flags().StringVar(&historyOpts.out, "out", "", "write to file instead of stdout")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := coordinator.NewHistoryStore(cfg.History)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	if store == nil {
		return fmt.Errorf("history is not configured")
	}
	defer store.Close()

	q := coordinator.HistoryQuery{IP: historyOpts.ip, Strategy: historyOpts.strategy}
	if historyOpts.since > 0 {
		q.Start = time.Now().Add(-historyOpts.since)
	}
	records, err := store.Query(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	var w io.Writer = os.Stdout
	if historyOpts.out != "" {
		f, err := os.Create(historyOpts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	switch historyOpts.format {
	case "json":
		return export.WriteJSON(w, records)
	case "csv":
		return export.WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown format %q", historyOpts.format)
	}
}
