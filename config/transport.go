package config

import (
	"fmt"

	"github.com/gridsingularity/d3a/infra/mqtt"
	"github.com/gridsingularity/d3a/infra/redis"
)

// Transport backends.
const (
	BackendMemory = "memory"
	BackendMQTT   = "mqtt"
	BackendRedis  = "redis"
)

// TransportConfig selects the pub/sub backend participants connect through.
type TransportConfig struct {
	Backend string       `json:"backend"`
	MQTT    mqtt.Config  `json:"mqtt"`
	Redis   redis.Config `json:"redis"`
}

// SetDefaults applies sane defaults.
func (c *TransportConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	switch c.Backend {
	case BackendMQTT:
		c.MQTT.SetDefaults()
	case BackendRedis:
		c.Redis.SetDefaults()
	}
}

// Validate checks the selected backend.
func (c TransportConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendMQTT:
		return c.MQTT.Validate()
	case BackendRedis:
		return c.Redis.Validate()
	}
	return fmt.Errorf("unknown backend %q", c.Backend)
}
