package history

import (
	"fmt"

	"github.com/gridsteer/kecc/core/coordinator"
	"github.com/gridsteer/kecc/core/factory"
)

// Options are the raw settings shared by the file backed stores.
type Options struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// init registers the built-in stores.
func init() {
	_ = coordinator.RegisterHistoryStore("jsonl", func(conf map[string]any) (coordinator.HistoryStore, error) {
		var o Options
		if err := factory.Decode(conf, &o); err != nil {
			return nil, err
		}
		if o.Path == "" {
			return nil, fmt.Errorf("history: jsonl store requires a path")
		}
		if o.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(o.Path, o.MaxSizeMB, o.MaxBackups, o.MaxAgeDays)
		}
		return NewJSONLStore(o.Path)
	})

	_ = coordinator.RegisterHistoryStore("sqlite", func(conf map[string]any) (coordinator.HistoryStore, error) {
		var o Options
		if err := factory.Decode(conf, &o); err != nil {
			return nil, err
		}
		if o.Path == "" {
			return nil, fmt.Errorf("history: sqlite store requires a path")
		}
		return NewSQLiteStore(o.Path)
	})
}
