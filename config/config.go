// Package config loads and validates the service configuration from a YAML
// or JSON file with optional KC_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gridsteer/kecc/core/factory"
	"github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/infra/mqtt"
	"github.com/gridsteer/kecc/infra/udp"
)

type Config struct {
	Chargers []ChargerConfig      `json:"chargers"`
	Balancer BalancerConfig       `json:"balancer"`
	Poll     PollConfig           `json:"poll"`
	UDP      udp.Config           `json:"udp"`
	MQTT     mqtt.Config          `json:"mqtt"`
	Metrics  metrics.Config       `json:"metrics"`
	History  factory.ModuleConfig `json:"history"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("KC_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "kc_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.UDP.SetDefaults()
	cfg.Poll.SetDefaults()
	cfg.Balancer.SetDefaults()
	if err := cfg.Balancer.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Poll.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateChargers(cfg.Chargers); err != nil {
		return nil, err
	}
	return &cfg, nil
}
