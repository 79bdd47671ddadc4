package device

import (
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/factory"
)

var registry = factory.NewRegistry[Tradeable]()

func init() {
	_ = registry.Register(string(KindStorage), func(conf map[string]any) (Tradeable, error) {
		var c StorageConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewStorage(c)
	})
	_ = registry.Register(string(KindLoad), func(conf map[string]any) (Tradeable, error) {
		var c LoadConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewLoad(c)
	})
	_ = registry.Register(string(KindGenerator), func(conf map[string]any) (Tradeable, error) {
		var c GeneratorConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewGenerator(c)
	})
}

// New builds a device from its module configuration. slotLength is injected
// unless the device config sets its own.
func New(cfg factory.ModuleConfig, slotLength time.Duration) (Tradeable, error) {
	conf := make(map[string]any, len(cfg.Conf)+1)
	for k, v := range cfg.Conf {
		conf[k] = v
	}
	if _, ok := conf["slot_length"]; !ok && slotLength > 0 {
		conf["slot_length"] = slotLength
	}
	d, err := registry.Create(factory.ModuleConfig{Type: cfg.Type, Conf: conf})
	if err != nil {
		return nil, fmt.Errorf("device %v: %w", cfg.Conf["name"], err)
	}
	return d, nil
}

// Types lists the available device types.
func Types() []string { return registry.Types() }
