package device

import (
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/factory"
	"github.com/gridsingularity/d3a/core/model"
)

// GeneratorConfig describes a power plant with a finite available power,
// either constant or per hour of day.
type GeneratorConfig struct {
	Name              string        `json:"name"`
	MaxAvailablePower any           `json:"max_available_power_kw"`
	SlotLength        time.Duration `json:"slot_length"`
	EnergyRate        *float64      `json:"energy_rate"`
}

// SetDefaults applies sane defaults.
func (c *GeneratorConfig) SetDefaults() {
	if c.MaxAvailablePower == nil {
		c.MaxAvailablePower = 1.0
	}
	if c.SlotLength == 0 {
		c.SlotLength = 15 * time.Minute
	}
	if c.EnergyRate == nil {
		c.EnergyRate = ptr(30.0)
	}
}

// GeneratorModel exposes the hourly production capacity.
type GeneratorModel struct {
	profile    [24]float64
	slotLength time.Duration
	sold       map[model.TimeSlot]float64
}

func (m *GeneratorModel) production(slot model.TimeSlot) float64 {
	return m.profile[slot.Time().Hour()] * slotHours(m.slotLength)
}

func (m *GeneratorModel) Tick(model.TimeSlot, int) {}

func (m *GeneratorModel) MarketCycle(prev, _ model.TimeSlot) {
	delete(m.sold, prev)
}

func (m *GeneratorModel) EnergyToSell(slot model.TimeSlot) float64 { return m.production(slot) }
func (m *GeneratorModel) EnergyToBuy(model.TimeSlot) float64       { return 0 }
func (m *GeneratorModel) FreeStorage(model.TimeSlot) float64       { return 0 }
func (m *GeneratorModel) UsedStorage() float64                     { return 0 }
func (m *GeneratorModel) Trade(slot model.TimeSlot, e float64, sold bool) {
	if sold {
		m.sold[slot] += e
	}
}

func (m *GeneratorModel) Summary(slot model.TimeSlot) map[string]float64 {
	return map[string]float64{
		"production_kWh": m.production(slot),
		"sold_kWh":       m.sold[slot],
	}
}

// Generator is a finite power plant.
type Generator struct {
	cfg   GeneratorConfig
	model *GeneratorModel
}

// NewGenerator validates cfg and builds a generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	cfg.SetDefaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	profile, err := hourlyProfile(cfg.MaxAvailablePower)
	if err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, model: &GeneratorModel{
		profile:    profile,
		slotLength: cfg.SlotLength,
		sold:       make(map[model.TimeSlot]float64),
	}}, nil
}

func (g *Generator) Name() string                    { return g.cfg.Name }
func (g *Generator) Kind() Kind                      { return KindGenerator }
func (g *Generator) Model() PhysicalModel            { return g.model }
func (g *Generator) OnActivate(TradingContext) error { return nil }

// OnMarketCycle skips slots where the plant has nothing to offer.
func (g *Generator) OnMarketCycle(tc TradingContext) error {
	if tc.Market != nil && g.model.production(tc.Market.TimeSlot()) <= 0 {
		g.model.MarketCycle(tc.Prev, tc.Market.TimeSlot())
		tc.Ledger.SetBounds(tc.Market.TimeSlot(), 0, 0)
		return nil
	}
	return autonomous{SellRate: deref(g.cfg.EnergyRate), BuyRate: -1}.marketCycle(tc, g.cfg.Name, g.model)
}

func (g *Generator) OnTick(tc TradingContext, tick int) error {
	return autonomous{}.tick(tc, g.model, tick)
}

// Reconfigure accepts max_available_power_kw and energy_rate.
func (g *Generator) Reconfigure(p Params) error {
	next := g.cfg
	next.EnergyRate = clonePtr(g.cfg.EnergyRate)
	if err := factory.Decode(p, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	profile, err := hourlyProfile(next.MaxAvailablePower)
	if err != nil {
		return err
	}
	next.Name = g.cfg.Name
	g.cfg = next
	g.model.profile = profile
	return nil
}
