package model

import "time"

// Trade is a settled (possibly partial) match. OfferID and BidID name the
// orders the energy was taken from; one of them is empty when an order was
// accepted directly by a counterpart without an order of its own.
type Trade struct {
	ID       string    `json:"id"`
	OfferID  string    `json:"offer_id,omitempty"`
	BidID    string    `json:"bid_id,omitempty"`
	Slot     TimeSlot  `json:"-"`
	Seller   string    `json:"seller"`
	Buyer    string    `json:"buyer"`
	Energy   float64   `json:"energy"`
	Price    float64   `json:"price"`
	FeePrice float64   `json:"fee_price"`
	Time     time.Time `json:"time"`
}

// EnergyRate is the clearing price per kWh, excluding fees.
func (t Trade) EnergyRate() float64 {
	if t.Energy == 0 {
		return 0
	}
	return t.Price / t.Energy
}
