// Package market defines the market collaborator the trading core places
// orders in. Matching and clearing live behind this interface; the core only
// places, deletes and lists its own orders.
package market

import (
	"errors"

	"github.com/gridsingularity/d3a/core/model"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrMarketClosed = errors.New("market closed")
	ErrInvalidOrder = errors.New("invalid order")
)

// Type selects how fees are attributed to trades.
type Type int

const (
	// OneSided markets charge the fee to the buyer.
	OneSided Type = 1
	// TwoSided markets deduct the fee from the seller revenue.
	TwoSided Type = 2
)

// Market is shared between devices and must be safe for concurrent use.
type Market interface {
	ID() string
	TimeSlot() model.TimeSlot
	Offer(price, energy float64, seller, sellerOrigin string) (model.Order, error)
	DeleteOffer(id string) error
	Offers() (map[string]model.Order, error)
	Bid(price, energy float64, buyer, buyerOrigin string) (model.Order, error)
	DeleteBid(id string) error
	Bids() (map[string]model.Order, error)
	// Info returns the market description sent to participants on every
	// market cycle.
	Info() map[string]any
}

// TradeListener is notified when an order settles.
type TradeListener interface {
	OnTrade(trade model.Trade)
}
