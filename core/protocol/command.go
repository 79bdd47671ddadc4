// Package protocol lets an external participant drive a device through
// commands published on a pub/sub transport. Commands are validated on
// arrival, queued, and applied to the market and the device ledger on the
// next simulation tick.
package protocol

import (
	"time"

	"github.com/gridsingularity/d3a/core/model"
)

// Kind identifies a queueable participant command.
type Kind int

const (
	CreateOffer Kind = iota
	DeleteOffer
	ListOffers
	CreateBid
	DeleteBid
	ListBids
	Stats
)

// Registration commands are handled immediately and never queued.
const (
	RegisterCommand   = "register_participant"
	UnregisterCommand = "unregister_participant"
)

var kindNames = [...]struct{ topic, response string }{
	CreateOffer: {"offer", "offer"},
	DeleteOffer: {"delete_offer", "offer_delete"},
	ListOffers:  {"offers", "offers"},
	CreateBid:   {"bid", "bid"},
	DeleteBid:   {"delete_bid", "bid_delete"},
	ListBids:    {"bids", "bids"},
	Stats:       {"stats", "stats"},
}

// Kinds lists every queueable command kind.
func Kinds() []Kind {
	return []Kind{CreateOffer, DeleteOffer, ListOffers, CreateBid, DeleteBid, ListBids, Stats}
}

// ParseKind maps a command topic name to its kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n.topic == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// String returns the command name used in command topics.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k].topic
}

// ResponseName is the value of the command field in responses.
func (k Kind) ResponseName() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k].response
}

func (k Kind) side() model.Side {
	switch k {
	case CreateBid, DeleteBid, ListBids:
		return model.SideBid
	}
	return model.SideOffer
}

// Arguments are the validated command arguments. Owner fields are attached
// by the validator.
type Arguments struct {
	Price  float64
	Energy float64
	// OrderID is the target of a delete.
	OrderID string
	// HasEnergy is set when a delete request carried the order energy.
	HasEnergy bool

	Seller       string
	SellerOrigin string
	Buyer        string
	BuyerOrigin  string
}

// Map renders the arguments for journals and events.
func (a Arguments) Map(k Kind) map[string]any {
	switch k {
	case CreateOffer:
		return map[string]any{"price": a.Price, "energy": a.Energy, "seller": a.Seller, "seller_origin": a.SellerOrigin}
	case CreateBid:
		return map[string]any{"price": a.Price, "energy": a.Energy, "buyer": a.Buyer, "buyer_origin": a.BuyerOrigin}
	case DeleteOffer, DeleteBid:
		m := map[string]any{"id": a.OrderID}
		if a.HasEnergy {
			m["energy"] = a.Energy
		}
		return m
	}
	return map[string]any{}
}

// PendingCommand is a validated command waiting for the next drain.
type PendingCommand struct {
	Kind          Kind
	Args          Arguments
	ResponseTopic string
	Slot          model.TimeSlot
	Received      time.Time
}
