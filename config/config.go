// Package config loads the service configuration from a YAML or JSON file
// with environment overrides.
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

	"github.com/gridsingularity/d3a/core/factory"
	"github.com/gridsingularity/d3a/core/journal"
	"github.com/gridsingularity/d3a/core/metrics"
	"github.com/gridsingularity/d3a/core/protocol"
	"github.com/gridsingularity/d3a/infra/market"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. D3A_PROTOCOL__DRAIN_ORDER=fifo.
const EnvPrefix = "D3A_"

type Config struct {
	Transport  TransportConfig        `json:"transport"`
	Protocol   protocol.Config        `json:"protocol"`
	Market     market.Config          `json:"market"`
	Simulation SimulationConfig       `json:"simulation"`
	Devices    []factory.ModuleConfig `json:"devices"`
	Metrics    metrics.Config         `json:"metrics"`
	Journal    journal.Config         `json:"journal"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates every section.
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
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills defaults of every section and threads the market type
// and tick count into the protocol section.
func (c *Config) SetDefaults() {
	c.Transport.SetDefaults()
	c.Market.SetDefaults()
	c.Simulation.SetDefaults()
	c.Protocol.MarketType = c.Market.Type
	c.Protocol.TicksPerSlot = c.Simulation.TicksPerSlot
	c.Protocol.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if err := c.Market.Validate(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	names := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Type == "" {
			return fmt.Errorf("devices[%d]: type required", i)
		}
		name, _ := d.Conf["name"].(string)
		if name == "" {
			return fmt.Errorf("devices[%d]: name required", i)
		}
		if names[name] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, name)
		}
		names[name] = true
	}
	return nil
}
