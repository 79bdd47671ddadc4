package device

import (
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/factory"
	"github.com/gridsingularity/d3a/core/model"
)

// StorageConfig describes a battery. Optional fields are pointers so an
// explicit zero survives SetDefaults.
type StorageConfig struct {
	Name        string        `json:"name"`
	CapacityKWh float64       `json:"capacity_kwh"`
	MinSoC      *float64      `json:"min_soc"`
	InitialSoC  *float64      `json:"initial_soc"`
	MaxPowerKW  float64       `json:"max_power_kw"`
	SlotLength  time.Duration `json:"slot_length"`
	SellRate    *float64      `json:"sell_rate"`
	BuyRate     *float64      `json:"buy_rate"`
}

// SetDefaults applies sane defaults.
func (c *StorageConfig) SetDefaults() {
	if c.CapacityKWh == 0 {
		c.CapacityKWh = 1.2
	}
	if c.MinSoC == nil {
		c.MinSoC = ptr(0.1)
	}
	if c.InitialSoC == nil {
		c.InitialSoC = ptr(*c.MinSoC)
	}
	if c.MaxPowerKW == 0 {
		c.MaxPowerKW = 5
	}
	if c.SlotLength == 0 {
		c.SlotLength = 15 * time.Minute
	}
	if c.SellRate == nil {
		c.SellRate = ptr(30.0)
	}
	if c.BuyRate == nil {
		c.BuyRate = ptr(24.9)
	}
}

func (c StorageConfig) clone() StorageConfig {
	c.MinSoC = clonePtr(c.MinSoC)
	c.InitialSoC = clonePtr(c.InitialSoC)
	c.SellRate = clonePtr(c.SellRate)
	c.BuyRate = clonePtr(c.BuyRate)
	return c
}

// Validate checks the battery parameters.
func (c StorageConfig) Validate() error {
	minSoC, initialSoC := deref(c.MinSoC), deref(c.InitialSoC)
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.CapacityKWh <= 0:
		return fmt.Errorf("%w: capacity_kwh must be > 0", ErrInvalidConfig)
	case minSoC < 0 || minSoC > 1:
		return fmt.Errorf("%w: min_soc must be in [0,1]", ErrInvalidConfig)
	case initialSoC < minSoC || initialSoC > 1:
		return fmt.Errorf("%w: initial_soc must be in [min_soc,1]", ErrInvalidConfig)
	case c.MaxPowerKW <= 0:
		return fmt.Errorf("%w: max_power_kw must be > 0", ErrInvalidConfig)
	}
	return nil
}

// StorageModel tracks the stored energy of a battery. Settled trades are
// applied to the stored energy when their slot is left.
type StorageModel struct {
	cfg      StorageConfig
	used     float64
	sold     map[model.TimeSlot]float64
	bought   map[model.TimeSlot]float64
	lastTick int
}

func newStorageModel(cfg StorageConfig) *StorageModel {
	return &StorageModel{
		cfg:    cfg,
		used:   deref(cfg.InitialSoC) * cfg.CapacityKWh,
		sold:   make(map[model.TimeSlot]float64),
		bought: make(map[model.TimeSlot]float64),
	}
}

func (m *StorageModel) slotEnergy() float64 {
	return m.cfg.MaxPowerKW * slotHours(m.cfg.SlotLength)
}

func (m *StorageModel) Tick(_ model.TimeSlot, tick int) { m.lastTick = tick }

func (m *StorageModel) MarketCycle(prev, _ model.TimeSlot) {
	m.lastTick = 0
	if prev == 0 {
		return
	}
	m.used += m.bought[prev] - m.sold[prev]
	m.used = min(max(m.used, 0), m.cfg.CapacityKWh)
	delete(m.bought, prev)
	delete(m.sold, prev)
}

func (m *StorageModel) EnergyToSell(model.TimeSlot) float64 {
	return max(min(m.used-deref(m.cfg.MinSoC)*m.cfg.CapacityKWh, m.slotEnergy()), 0)
}

func (m *StorageModel) EnergyToBuy(model.TimeSlot) float64 {
	return max(min(m.cfg.CapacityKWh-m.used, m.slotEnergy()), 0)
}

func (m *StorageModel) FreeStorage(slot model.TimeSlot) float64 {
	return max(m.cfg.CapacityKWh-m.used-m.bought[slot]+m.sold[slot], 0)
}

func (m *StorageModel) UsedStorage() float64 { return m.used }

func (m *StorageModel) Trade(slot model.TimeSlot, energy float64, sold bool) {
	if sold {
		m.sold[slot] += energy
	} else {
		m.bought[slot] += energy
	}
}

func (m *StorageModel) Summary(slot model.TimeSlot) map[string]float64 {
	return map[string]float64{
		"used_storage":  m.used,
		"free_storage":  m.FreeStorage(slot),
		"soc_history_%": 100 * m.used / m.cfg.CapacityKWh,
	}
}

// Storage is a battery device.
type Storage struct {
	cfg   StorageConfig
	model *StorageModel
}

// NewStorage validates cfg and builds a battery.
func NewStorage(cfg StorageConfig) (*Storage, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Storage{cfg: cfg, model: newStorageModel(cfg)}, nil
}

func (s *Storage) Name() string         { return s.cfg.Name }
func (s *Storage) Kind() Kind           { return KindStorage }
func (s *Storage) Model() PhysicalModel { return s.model }

func (s *Storage) strategy() autonomous {
	return autonomous{SellRate: deref(s.cfg.SellRate), BuyRate: deref(s.cfg.BuyRate)}
}

func (s *Storage) OnActivate(TradingContext) error { return nil }

func (s *Storage) OnMarketCycle(tc TradingContext) error {
	return s.strategy().marketCycle(tc, s.cfg.Name, s.model)
}

func (s *Storage) OnTick(tc TradingContext, tick int) error {
	return s.strategy().tick(tc, s.model, tick)
}

// Reconfigure updates power and rate parameters. Capacity and the stored
// energy are physical and stay untouched.
func (s *Storage) Reconfigure(p Params) error {
	next := s.cfg.clone()
	if err := factory.Decode(p, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	next.Name, next.CapacityKWh, next.InitialSoC = s.cfg.Name, s.cfg.CapacityKWh, s.cfg.InitialSoC
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	s.model.cfg = next
	return nil
}
