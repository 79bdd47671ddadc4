package protocol

import (
	"sort"

	"github.com/gridsingularity/d3a/core/model"
)

// orderCache holds the orders a device placed, so deletes can be checked
// without asking the market.
type orderCache struct {
	orders map[model.Side]map[string]model.Order
}

func newOrderCache() *orderCache {
	return &orderCache{orders: map[model.Side]map[string]model.Order{
		model.SideOffer: {},
		model.SideBid:   {},
	}}
}

func (c *orderCache) put(o model.Order) { c.orders[o.Side][o.ID] = o }

func (c *orderCache) get(side model.Side, id string) (model.Order, bool) {
	o, ok := c.orders[side][id]
	return o, ok
}

func (c *orderCache) remove(side model.Side, id string) { delete(c.orders[side], id) }

// inSlot returns the orders of side in slot, largest first.
func (c *orderCache) inSlot(side model.Side, slot model.TimeSlot) []model.Order {
	var out []model.Order
	for _, o := range c.orders[side] {
		if o.Slot == slot {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Energy != out[j].Energy {
			return out[i].Energy > out[j].Energy
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// settle removes energy from a cached order after a trade and returns the
// slot the order belongs to.
func (c *orderCache) settle(side model.Side, id string, energy float64) (model.TimeSlot, bool) {
	o, ok := c.orders[side][id]
	if !ok {
		return 0, false
	}
	if residual := o.Energy - energy; residual > 1e-9 {
		o.Price = o.EnergyRate() * residual
		o.Energy = residual
		c.orders[side][id] = o
	} else {
		delete(c.orders[side], id)
	}
	return o.Slot, true
}

// prune drops orders of slots before slot.
func (c *orderCache) prune(before model.TimeSlot) {
	for _, book := range c.orders {
		for id, o := range book {
			if o.Slot.Before(before) {
				delete(book, id)
			}
		}
	}
}
