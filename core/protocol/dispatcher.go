package protocol

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gridsingularity/d3a/core/ledger"
	"github.com/gridsingularity/d3a/core/logger"
	"github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
)

// ErrEnergyMismatch rejects a delete whose energy differs from the order.
var ErrEnergyMismatch = errors.New("delete energy does not match order energy")

// StatsFunc returns the statistics snapshot answered to the stats command.
type StatsFunc func(current model.TimeSlot) map[string]any

// Dispatcher applies drained commands to the market and the ledger.
type Dispatcher struct {
	device string
	ledger *ledger.Ledger
	cache  *orderCache
	stats  StatsFunc
	log    logger.Logger
}

func newDispatcher(device string, l *ledger.Ledger, cache *orderCache, stats StatsFunc, log logger.Logger) *Dispatcher {
	return &Dispatcher{device: device, ledger: l, cache: cache, stats: stats, log: log}
}

// Execute runs one command. It never panics on market failures; every
// outcome is returned as a Result.
func (d *Dispatcher) Execute(cmd PendingCommand, mkt market.Market) Result {
	name := cmd.Kind.ResponseName()
	if mkt == nil {
		return Fail(ExecutionError, name, "cannot execute", ErrNoActiveMarket)
	}
	switch cmd.Kind {
	case CreateOffer, CreateBid:
		return d.create(cmd, mkt)
	case DeleteOffer, DeleteBid:
		return d.delete(cmd, mkt)
	case ListOffers, ListBids:
		return d.list(cmd, mkt)
	case Stats:
		if d.stats == nil {
			return Ok(Response{Command: name, Stats: map[string]any{}})
		}
		return Ok(Response{Command: name, Stats: d.stats(mkt.TimeSlot())})
	}
	return Fail(ExecutionError, name, "unknown command", ErrMalformedPayload)
}

func (d *Dispatcher) create(cmd PendingCommand, mkt market.Market) Result {
	name := cmd.Kind.ResponseName()
	slot := mkt.TimeSlot()
	a := cmd.Args
	sell := cmd.Kind == CreateOffer

	// The ledger may have moved since validation.
	if sell && !d.ledger.CanSell(slot, a.Energy) {
		return Fail(ExecutionError, name, fmt.Sprintf("free sell capacity %.5f", d.ledger.FreeCapacity(slot)), ledger.ErrSellBoundExceeded)
	}
	if !sell && !d.ledger.CanBuy(slot, a.Energy) {
		return Fail(ExecutionError, name, fmt.Sprintf("free buy capacity %.5f", d.ledger.FreeBuyCapacity(slot)), ledger.ErrBuyBoundExceeded)
	}

	var (
		o   model.Order
		err error
	)
	if sell {
		o, err = mkt.Offer(a.Price, a.Energy, a.Seller, a.SellerOrigin)
	} else {
		o, err = mkt.Bid(a.Price, a.Energy, a.Buyer, a.BuyerOrigin)
	}
	if err != nil {
		return Fail(ExecutionError, name, "market rejected order", err)
	}
	o.Slot = slot
	o.Side = cmd.Kind.side()

	if sell {
		err = d.ledger.ReserveSell(slot, o.Energy)
	} else {
		err = d.ledger.ReserveBuy(slot, o.Energy)
	}
	if err != nil {
		d.withdraw(mkt, o)
		return Fail(ExecutionError, name, fmt.Sprintf("market granted %.5f kWh", o.Energy), err)
	}
	d.cache.put(o)
	if sell {
		return Ok(Response{Command: name, Offer: &o})
	}
	return Ok(Response{Command: name, Bid: &o})
}

func (d *Dispatcher) withdraw(mkt market.Market, o model.Order) {
	var err error
	if o.Side == model.SideBid {
		err = mkt.DeleteBid(o.ID)
	} else {
		err = mkt.DeleteOffer(o.ID)
	}
	if err != nil {
		d.log.Errorf("withdraw %s %s: %v", o.Side, o.ID, err)
	}
}

func (d *Dispatcher) delete(cmd PendingCommand, mkt market.Market) Result {
	name := cmd.Kind.ResponseName()
	side := cmd.Kind.side()
	a := cmd.Args
	cached, ok := d.cache.get(side, a.OrderID)
	if !ok {
		return Fail(ExecutionError, name, fmt.Sprintf("%s %s not placed by %s", side, a.OrderID, d.device), market.ErrUnknownOrder)
	}
	if a.HasEnergy && math.Abs(a.Energy-cached.Energy) > ledger.Tolerance {
		d.log.Warnf("delete %s %s: request energy %.5f, order energy %.5f", side, a.OrderID, a.Energy, cached.Energy)
		return Fail(ExecutionError, name, fmt.Sprintf("request %.5f kWh, order %.5f kWh", a.Energy, cached.Energy), ErrEnergyMismatch)
	}

	var err error
	if side == model.SideBid {
		err = mkt.DeleteBid(a.OrderID)
	} else {
		err = mkt.DeleteOffer(a.OrderID)
	}
	if err != nil {
		return Fail(ExecutionError, name, "market rejected delete", err)
	}
	d.cache.remove(side, a.OrderID)

	// Never release more than the ledger books as offered.
	st := d.ledger.State(cached.Slot)
	release := min(cached.Energy, st.OfferedSell)
	if side == model.SideBid {
		release = min(cached.Energy, st.OfferedBuy)
	}
	if cached.Energy-release > ledger.Tolerance {
		d.log.Warnf("delete %s %s: order %.5f kWh, ledger books %.5f", side, a.OrderID, cached.Energy, release)
	}
	if release > 0 {
		if side == model.SideBid {
			err = d.ledger.ReleaseBuy(cached.Slot, release)
		} else {
			err = d.ledger.ReleaseSell(cached.Slot, release)
		}
		if err != nil {
			d.log.Errorf("release %s %s: %v", side, a.OrderID, err)
		}
	}
	if side == model.SideBid {
		return Ok(Response{Command: name, BidDeleted: a.OrderID})
	}
	return Ok(Response{Command: name, DeletedOffer: a.OrderID})
}

func (d *Dispatcher) list(cmd PendingCommand, mkt market.Market) Result {
	name := cmd.Kind.ResponseName()
	var (
		book map[string]model.Order
		err  error
	)
	if cmd.Kind == ListBids {
		book, err = mkt.Bids()
	} else {
		book, err = mkt.Offers()
	}
	if err != nil {
		return Fail(ExecutionError, name, "market lookup failed", err)
	}
	var out []model.OrderSummary
	for _, o := range book {
		owner := o.Seller
		if cmd.Kind == ListBids {
			owner = o.Buyer
		}
		if owner == d.device {
			out = append(out, o.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if cmd.Kind == ListBids {
		return Ok(Response{Command: name, BidList: out})
	}
	return Ok(Response{Command: name, OfferList: out})
}
