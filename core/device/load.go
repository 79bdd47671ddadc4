package device

import (
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/factory"
	"github.com/gridsingularity/d3a/core/model"
)

// LoadConfig describes a consumer. Power is either a constant average in kW
// or an hourly map.
type LoadConfig struct {
	Name       string        `json:"name"`
	PowerKW    any           `json:"power_kw"`
	SlotLength time.Duration `json:"slot_length"`
	BuyRate    *float64      `json:"buy_rate"`
}

// SetDefaults applies sane defaults.
func (c *LoadConfig) SetDefaults() {
	if c.PowerKW == nil {
		c.PowerKW = 0.1
	}
	if c.SlotLength == 0 {
		c.SlotLength = 15 * time.Minute
	}
	if c.BuyRate == nil {
		c.BuyRate = ptr(35.0)
	}
}

// LoadModel derives the energy demand of each slot from the hourly profile.
type LoadModel struct {
	profile    [24]float64
	slotLength time.Duration
	bought     map[model.TimeSlot]float64
}

func (m *LoadModel) demand(slot model.TimeSlot) float64 {
	return m.profile[slot.Time().Hour()] * slotHours(m.slotLength)
}

func (m *LoadModel) Tick(model.TimeSlot, int) {}

func (m *LoadModel) MarketCycle(prev, _ model.TimeSlot) {
	delete(m.bought, prev)
}

func (m *LoadModel) EnergyToSell(model.TimeSlot) float64     { return 0 }
func (m *LoadModel) EnergyToBuy(slot model.TimeSlot) float64 { return m.demand(slot) }
func (m *LoadModel) FreeStorage(model.TimeSlot) float64      { return 0 }
func (m *LoadModel) UsedStorage() float64                    { return 0 }
func (m *LoadModel) Trade(slot model.TimeSlot, e float64, sold bool) {
	if !sold {
		m.bought[slot] += e
	}
}

func (m *LoadModel) Summary(slot model.TimeSlot) map[string]float64 {
	return map[string]float64{
		"load_profile_kWh":   m.demand(slot),
		"energy_requirement": max(m.demand(slot)-m.bought[slot], 0),
	}
}

// Load is a consuming device.
type Load struct {
	cfg   LoadConfig
	model *LoadModel
}

// NewLoad validates cfg and builds a load.
func NewLoad(cfg LoadConfig) (*Load, error) {
	cfg.SetDefaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	profile, err := hourlyProfile(cfg.PowerKW)
	if err != nil {
		return nil, err
	}
	return &Load{cfg: cfg, model: &LoadModel{
		profile:    profile,
		slotLength: cfg.SlotLength,
		bought:     make(map[model.TimeSlot]float64),
	}}, nil
}

func (l *Load) Name() string                    { return l.cfg.Name }
func (l *Load) Kind() Kind                      { return KindLoad }
func (l *Load) Model() PhysicalModel            { return l.model }
func (l *Load) OnActivate(TradingContext) error { return nil }

func (l *Load) OnMarketCycle(tc TradingContext) error {
	return autonomous{SellRate: -1, BuyRate: deref(l.cfg.BuyRate)}.marketCycle(tc, l.cfg.Name, l.model)
}

func (l *Load) OnTick(tc TradingContext, tick int) error {
	return autonomous{}.tick(tc, l.model, tick)
}

// Reconfigure accepts power_kw and buy_rate.
func (l *Load) Reconfigure(p Params) error {
	next := l.cfg
	next.BuyRate = clonePtr(l.cfg.BuyRate)
	if err := factory.Decode(p, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	profile, err := hourlyProfile(next.PowerKW)
	if err != nil {
		return err
	}
	next.Name = l.cfg.Name
	l.cfg = next
	l.model.profile = profile
	return nil
}
