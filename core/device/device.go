// Package device holds the tradeable device variants (storage, load,
// generator), their physical models and the autonomous strategy each one
// falls back to when no participant drives it.
package device

import (
	"errors"
	"time"

	"github.com/gridsingularity/d3a/core/ledger"
	"github.com/gridsingularity/d3a/core/logger"
	"github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
)

// Kind names a device variant.
type Kind string

const (
	KindStorage   Kind = "storage"
	KindLoad      Kind = "load"
	KindGenerator Kind = "generator"
)

// ErrInvalidConfig wraps every device configuration error.
var ErrInvalidConfig = errors.New("invalid device config")

// Params is a raw reconfiguration request, decoded by each variant.
type Params map[string]any

// PhysicalModel computes what a device can physically trade per slot.
type PhysicalModel interface {
	// Tick advances the model by one tick inside slot.
	Tick(slot model.TimeSlot, tick int)
	// MarketCycle moves the model from prev to next. prev is zero on the
	// first cycle.
	MarketCycle(prev, next model.TimeSlot)
	EnergyToSell(slot model.TimeSlot) float64
	EnergyToBuy(slot model.TimeSlot) float64
	FreeStorage(slot model.TimeSlot) float64
	UsedStorage() float64
	// Trade informs the model of settled energy; sold is true for the sell side.
	Trade(slot model.TimeSlot, energy float64, sold bool)
	// Summary returns device specific fields for market events and statistics.
	Summary(slot model.TimeSlot) map[string]float64
}

// TradingContext is what the autonomous strategy needs to trade one slot.
type TradingContext struct {
	Market market.Market
	Ledger *ledger.Ledger
	Prev   model.TimeSlot
	Log    logger.Logger
	// Placed, when set, learns about every order the strategy leaves in
	// the market.
	Placed func(model.Order)
}

func (tc TradingContext) placed(o model.Order) {
	if tc.Placed != nil {
		tc.Placed(o)
	}
}

// Tradeable is implemented by every device variant. The On* methods are the
// autonomous strategy used while no participant is connected.
type Tradeable interface {
	Name() string
	Kind() Kind
	Model() PhysicalModel
	OnActivate(tc TradingContext) error
	OnMarketCycle(tc TradingContext) error
	OnTick(tc TradingContext, tick int) error
	Reconfigure(p Params) error
}

func ptr[T any](v T) *T { return &v }

// clonePtr copies the value behind p so decoding into a copied config
// never writes through to the original.
func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func slotHours(d time.Duration) float64 {
	if d <= 0 {
		return 0.25
	}
	return d.Hours()
}
