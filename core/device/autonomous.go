package device

import (
	"fmt"

	"github.com/gridsingularity/d3a/core/ledger"
	"github.com/gridsingularity/d3a/core/model"
)

// autonomous is the default strategy: once per market cycle it offers all
// free sell capacity at SellRate and bids for all free buy capacity at
// BuyRate. Rates are per kWh; a negative rate disables that side.
type autonomous struct {
	SellRate float64 `json:"sell_rate"`
	BuyRate  float64 `json:"buy_rate"`
}

func (a autonomous) marketCycle(tc TradingContext, name string, pm PhysicalModel) error {
	if tc.Market == nil || tc.Ledger == nil {
		return fmt.Errorf("%s: no market to trade in", name)
	}
	slot := tc.Market.TimeSlot()
	pm.MarketCycle(tc.Prev, slot)
	tc.Ledger.SetBounds(slot, pm.EnergyToSell(slot), pm.EnergyToBuy(slot))
	tc.Ledger.Clamp(slot)

	if e := tc.Ledger.FreeCapacity(slot); e > ledger.Tolerance && a.SellRate >= 0 {
		o, err := tc.Market.Offer(a.SellRate*e, e, name, name)
		if err != nil {
			return fmt.Errorf("%s: autonomous offer: %w", name, err)
		}
		if err := tc.Ledger.ReserveSell(slot, o.Energy); err != nil {
			_ = tc.Market.DeleteOffer(o.ID)
			return fmt.Errorf("%s: autonomous offer: %w", name, err)
		}
		o.Side, o.Slot = model.SideOffer, slot
		tc.placed(o)
	}
	if e := tc.Ledger.FreeBuyCapacity(slot); e > ledger.Tolerance && a.BuyRate >= 0 {
		b, err := tc.Market.Bid(a.BuyRate*e, e, name, name)
		if err != nil {
			return fmt.Errorf("%s: autonomous bid: %w", name, err)
		}
		if err := tc.Ledger.ReserveBuy(slot, b.Energy); err != nil {
			_ = tc.Market.DeleteBid(b.ID)
			return fmt.Errorf("%s: autonomous bid: %w", name, err)
		}
		b.Side, b.Slot = model.SideBid, slot
		tc.placed(b)
	}
	if tc.Log != nil {
		tc.Log.Debugf("autonomous cycle %s: sell free %.3f buy free %.3f",
			slot, tc.Ledger.FreeCapacity(slot), tc.Ledger.FreeBuyCapacity(slot))
	}
	return nil
}

func (a autonomous) tick(tc TradingContext, pm PhysicalModel, tick int) error {
	if tc.Market == nil {
		return nil
	}
	pm.Tick(tc.Market.TimeSlot(), tick)
	return nil
}
