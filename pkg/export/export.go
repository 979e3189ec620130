// Package export writes cycle history in formats suited to offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/gridsteer/kecc/core/coordinator"
)

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, records []coordinator.CycleRecord) error {
	enc := json.NewEncoder(w)
	return enc.Encode(records)
}

// WriteCSV writes the records to w with one row per charger allocation.
// Cycles without allocations produce a single row with empty charger columns
// so that insufficient-budget cycles remain visible.
func WriteCSV(w io.Writer, records []coordinator.CycleRecord) error {
	cw := csv.NewWriter(w)
	header := []string{
		"timestamp", "cycle_id", "strategy", "budget_a", "active_chargers",
		"balancing", "insufficient_budget", "charger_ip", "milliamps",
		"reason", "applied", "error",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		base := []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.CycleID,
			rec.Strategy,
			strconv.FormatInt(rec.BudgetA, 10),
			strconv.Itoa(rec.ActiveChargers),
			strconv.FormatBool(rec.Balancing),
			strconv.FormatBool(rec.InsufficientBudget),
		}
		if len(rec.Allocations) == 0 {
			if err := cw.Write(append(base, "", "", "", "", "")); err != nil {
				return err
			}
			continue
		}
		ips := make([]string, 0, len(rec.Allocations))
		for ip := range rec.Allocations {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		for _, ip := range ips {
			alloc := rec.Allocations[ip]
			row := append(append([]string{}, base...),
				ip,
				strconv.FormatInt(alloc.MilliAmps, 10),
				alloc.Reason,
				strconv.FormatBool(alloc.Applied),
				alloc.Error,
			)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
