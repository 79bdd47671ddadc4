// Package stats aggregates per-device trading statistics that participants
// query with the stats command.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
)

const (
	keyTradeEnergy = "trade_energy_kWh"
	keyTradePrice  = "trade_price_eur"
)

// Collector records the trades and physical summaries of one device.
// It is owned by the device and not safe for concurrent use.
type Collector struct {
	device     string
	marketType market.Type
	trades     map[model.TimeSlot][]model.Trade
	summaries  map[model.TimeSlot]map[string]float64
}

// NewCollector creates a collector for device. marketType selects whether
// fees are attributed to buyers (one-sided) or sellers (two-sided).
func NewCollector(device string, marketType market.Type) *Collector {
	return &Collector{
		device:     device,
		marketType: marketType,
		trades:     make(map[model.TimeSlot][]model.Trade),
		summaries:  make(map[model.TimeSlot]map[string]float64),
	}
}

// RecordTrade stores a trade if the device is one of its parties.
func (c *Collector) RecordTrade(t model.Trade) {
	if t.Seller != c.device && t.Buyer != c.device {
		return
	}
	c.trades[t.Slot] = append(c.trades[t.Slot], t)
}

// RecordSummary stores the physical model summary of a slot.
func (c *Collector) RecordSummary(slot model.TimeSlot, summary map[string]float64) {
	cp := make(map[string]float64, len(summary))
	for k, v := range summary {
		cp[k] = v
	}
	c.summaries[slot] = cp
}

// tradeRate is the per-kWh price in EUR seen by this device for one trade.
// Rates are stored in cents.
func (c *Collector) tradeRate(t model.Trade) (float64, bool) {
	if t.Energy == 0 {
		return 0, false
	}
	fee := t.FeePrice / t.Energy
	switch {
	case t.Seller == c.device:
		if c.marketType == market.OneSided {
			return t.EnergyRate() / 100, true
		}
		return (t.EnergyRate() - fee) / 100, true
	case t.Buyer == c.device:
		if c.marketType == market.OneSided {
			return (t.EnergyRate() + fee) / 100, true
		}
		return t.EnergyRate() / 100, true
	}
	return 0, false
}

// Snapshot builds the statistics document for every recorded slot. Slots
// without trades report nil prices, the way charts expect gaps.
func (c *Collector) Snapshot(current model.TimeSlot) map[string]any {
	slots := c.slots()
	energy := map[string]any{}
	prices := map[string]any{}
	series := map[string]map[string]any{}
	var energyValues = map[string][]float64{}
	var priceValues = map[string][]float64{}

	for _, s := range slots {
		key := s.String()
		traded := 0.0
		var rates []float64
		for _, t := range c.trades[s] {
			if t.Seller == c.device {
				traded -= t.Energy
			}
			if t.Buyer == c.device {
				traded += t.Energy
			}
			if r, ok := c.tradeRate(t); ok {
				rates = append(rates, r)
			}
		}
		energy[key] = limit(traded)
		energyValues[key] = []float64{traded}
		if len(rates) > 0 {
			prices[key] = limitAll(rates)
		} else {
			prices[key] = nil
		}
		priceValues[key] = rates

		for name, v := range c.summaries[s] {
			if series[name] == nil {
				series[name] = map[string]any{}
			}
			series[name][key] = limit(v)
		}
	}

	out := map[string]any{
		"device":       c.device,
		"current_slot": current.String(),
		keyTradeEnergy: energy,
		keyTradePrice:  prices,
	}
	addMinMax(out, keyTradeEnergy, energyValues)
	addMinMax(out, keyTradePrice, priceValues)
	for name, values := range series {
		out[name] = values
		raw := map[string][]float64{}
		for slot, v := range values {
			raw[slot] = []float64{v.(float64)}
		}
		addMinMax(out, name, raw)
	}
	return out
}

func (c *Collector) slots() []model.TimeSlot {
	seen := map[model.TimeSlot]bool{}
	for s := range c.trades {
		seen[s] = true
	}
	for s := range c.summaries {
		seen[s] = true
	}
	out := make([]model.TimeSlot, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func addMinMax(out map[string]any, key string, values map[string][]float64) {
	mins := map[string]any{}
	maxs := map[string]any{}
	for slot, v := range values {
		if len(v) == 0 {
			mins[slot], maxs[slot] = nil, nil
			continue
		}
		mins[slot] = limit(floats.Min(v))
		maxs[slot] = limit(floats.Max(v))
	}
	out["min_"+key] = mins
	out["max_"+key] = maxs
}

// limit rounds to the precision used in result files.
func limit(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func limitAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = limit(f)
	}
	return out
}
