package model

// Side tells whether an order sells or buys energy.
type Side int

const (
	SideOffer Side = iota
	SideBid
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "offer"
}

// Order is an offer or a bid placed in a market. Price is the total price
// for Energy kWh.
type Order struct {
	ID           string   `json:"id"`
	Side         Side     `json:"-"`
	Slot         TimeSlot `json:"-"`
	Price        float64  `json:"price"`
	Energy       float64  `json:"energy"`
	Seller       string   `json:"seller,omitempty"`
	SellerOrigin string   `json:"seller_origin,omitempty"`
	Buyer        string   `json:"buyer,omitempty"`
	BuyerOrigin  string   `json:"buyer_origin,omitempty"`
}

// Owner returns the identity the order belongs to.
func (o Order) Owner() string {
	if o.Side == SideBid {
		return o.Buyer
	}
	return o.Seller
}

// EnergyRate is the price per kWh.
func (o Order) EnergyRate() float64 {
	if o.Energy == 0 {
		return 0
	}
	return o.Price / o.Energy
}

// OrderSummary is the trimmed view returned in list responses.
type OrderSummary struct {
	ID     string  `json:"id"`
	Price  float64 `json:"price"`
	Energy float64 `json:"energy"`
}

// Summary returns the list view of the order.
func (o Order) Summary() OrderSummary {
	return OrderSummary{ID: o.ID, Price: o.Price, Energy: o.Energy}
}
