package market

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	coremarket "github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
)

// Config defines the in-memory market behaviour.
type Config struct {
	// Type selects fee attribution, see core/market.Type.
	Type coremarket.Type `json:"type"`
	// EnergyPrecision rounds granted order energy to this many decimals.
	// Zero keeps the requested energy untouched.
	EnergyPrecision int `json:"energy_precision"`
	// FeeRate is the grid fee per kWh added to every trade.
	FeeRate float64 `json:"fee_rate"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Type == 0 {
		c.Type = coremarket.TwoSided
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Type != coremarket.OneSided && c.Type != coremarket.TwoSided {
		return fmt.Errorf("unknown market type %d", c.Type)
	}
	if c.EnergyPrecision < 0 {
		return fmt.Errorf("energy_precision must be >= 0")
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("fee_rate must be >= 0")
	}
	return nil
}

// Memory is a goroutine-safe order book for one slot. It does not match
// orders on its own; trades are settled explicitly with AcceptOffer and
// AcceptBid.
type Memory struct {
	id   string
	slot model.TimeSlot
	cfg  Config

	mu        sync.Mutex
	offers    map[string]model.Order
	bids      map[string]model.Order
	trades    []model.Trade
	listeners map[string][]coremarket.TradeListener
	closed    bool
}

// NewMemory creates an open market for slot.
func NewMemory(slot model.TimeSlot, cfg Config) *Memory {
	cfg.SetDefaults()
	return &Memory{
		id:        uuid.NewString(),
		slot:      slot,
		cfg:       cfg,
		offers:    make(map[string]model.Order),
		bids:      make(map[string]model.Order),
		listeners: make(map[string][]coremarket.TradeListener),
	}
}

func (m *Memory) ID() string               { return m.id }
func (m *Memory) TimeSlot() model.TimeSlot { return m.slot }

// Listen registers l for trades where owner is seller or buyer.
func (m *Memory) Listen(owner string, l coremarket.TradeListener) {
	m.mu.Lock()
	m.listeners[owner] = append(m.listeners[owner], l)
	m.mu.Unlock()
}

// Close rejects every further mutation.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Memory) round(energy float64) float64 {
	if m.cfg.EnergyPrecision <= 0 {
		return energy
	}
	p := math.Pow10(m.cfg.EnergyPrecision)
	return math.Round(energy*p) / p
}

func (m *Memory) place(side model.Side, price, energy float64, owner, origin string) (model.Order, error) {
	if energy <= 0 || math.IsNaN(energy) || math.IsInf(energy, 0) {
		return model.Order{}, fmt.Errorf("%w: energy %v", coremarket.ErrInvalidOrder, energy)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return model.Order{}, fmt.Errorf("%w: price %v", coremarket.ErrInvalidOrder, price)
	}
	granted := m.round(energy)
	if granted <= 0 {
		return model.Order{}, fmt.Errorf("%w: energy %v below precision", coremarket.ErrInvalidOrder, energy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Order{}, coremarket.ErrMarketClosed
	}
	o := model.Order{ID: uuid.NewString(), Side: side, Slot: m.slot, Price: price, Energy: granted}
	if side == model.SideOffer {
		o.Seller, o.SellerOrigin = owner, origin
		m.offers[o.ID] = o
	} else {
		o.Buyer, o.BuyerOrigin = owner, origin
		m.bids[o.ID] = o
	}
	return o, nil
}

// Offer places a sell order.
func (m *Memory) Offer(price, energy float64, seller, sellerOrigin string) (model.Order, error) {
	return m.place(model.SideOffer, price, energy, seller, sellerOrigin)
}

// Bid places a buy order.
func (m *Memory) Bid(price, energy float64, buyer, buyerOrigin string) (model.Order, error) {
	return m.place(model.SideBid, price, energy, buyer, buyerOrigin)
}

func (m *Memory) remove(book map[string]model.Order, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return coremarket.ErrMarketClosed
	}
	if _, ok := book[id]; !ok {
		return fmt.Errorf("%w: %s", coremarket.ErrUnknownOrder, id)
	}
	delete(book, id)
	return nil
}

// DeleteOffer removes an offer by id.
func (m *Memory) DeleteOffer(id string) error { return m.remove(m.offers, id) }

// DeleteBid removes a bid by id.
func (m *Memory) DeleteBid(id string) error { return m.remove(m.bids, id) }

func copyBook(book map[string]model.Order) map[string]model.Order {
	out := make(map[string]model.Order, len(book))
	for k, v := range book {
		out[k] = v
	}
	return out
}

// Offers returns a copy of the open offers.
func (m *Memory) Offers() (map[string]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyBook(m.offers), nil
}

// Bids returns a copy of the open bids.
func (m *Memory) Bids() (map[string]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyBook(m.bids), nil
}

// Trades returns the trades settled so far.
func (m *Memory) Trades() []model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Trade(nil), m.trades...)
}

// Info describes the market for participant market events.
func (m *Memory) Info() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"market_id":    m.id,
		"start_time":   m.slot.String(),
		"market_type":  int(m.cfg.Type),
		"fee_rate":     m.cfg.FeeRate,
		"open_offers":  len(m.offers),
		"open_bids":    len(m.bids),
		"trades_count": len(m.trades),
	}
}

// AcceptOffer settles energy kWh of an offer with buyer. A partial accept
// keeps the residual energy on the same offer id.
func (m *Memory) AcceptOffer(offerID, buyer string, energy float64) (model.Trade, error) {
	return m.accept(model.SideOffer, offerID, buyer, energy)
}

// AcceptBid settles energy kWh of a bid with seller.
func (m *Memory) AcceptBid(bidID, seller string, energy float64) (model.Trade, error) {
	return m.accept(model.SideBid, bidID, seller, energy)
}

func (m *Memory) accept(side model.Side, id, counterpart string, energy float64) (model.Trade, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.Trade{}, coremarket.ErrMarketClosed
	}
	book := m.offers
	if side == model.SideBid {
		book = m.bids
	}
	o, ok := book[id]
	if !ok {
		m.mu.Unlock()
		return model.Trade{}, fmt.Errorf("%w: %s", coremarket.ErrUnknownOrder, id)
	}
	if energy <= 0 || energy > o.Energy+dust {
		m.mu.Unlock()
		return model.Trade{}, fmt.Errorf("%w: accept %v of %v", coremarket.ErrInvalidOrder, energy, o.Energy)
	}
	energy = min(energy, o.Energy)
	tr := m.newTrade(o.EnergyRate(), energy)
	if side == model.SideOffer {
		tr.OfferID, tr.Seller, tr.Buyer = id, o.Seller, counterpart
	} else {
		tr.BidID, tr.Seller, tr.Buyer = id, counterpart, o.Buyer
	}
	reduce(book, id, energy)
	m.trades = append(m.trades, tr)
	targets := m.targets(tr)
	m.mu.Unlock()

	notify(targets, tr)
	return tr, nil
}

// Match clears crossing orders pay-as-offer: the highest bids take energy
// from the cheapest offers while the bid rate covers the offer rate. A
// device never trades with itself.
func (m *Memory) Match() []model.Trade {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	offers := sortedBook(m.offers, func(a, b model.Order) bool { return a.EnergyRate() < b.EnergyRate() })
	bids := sortedBook(m.bids, func(a, b model.Order) bool { return a.EnergyRate() > b.EnergyRate() })

	var trades []model.Trade
	for bi := range bids {
		b := &bids[bi]
		for oi := range offers {
			o := &offers[oi]
			if b.Energy <= dust {
				break
			}
			if o.Energy <= dust || o.Seller == b.Buyer {
				continue
			}
			if b.EnergyRate()+dust < o.EnergyRate() {
				break
			}
			e := min(o.Energy, b.Energy)
			tr := m.newTrade(o.EnergyRate(), e)
			tr.OfferID, tr.BidID = o.ID, b.ID
			tr.Seller, tr.Buyer = o.Seller, b.Buyer
			reduce(m.offers, o.ID, e)
			reduce(m.bids, b.ID, e)
			o.Price, o.Energy = o.EnergyRate()*(o.Energy-e), o.Energy-e
			b.Price, b.Energy = b.EnergyRate()*(b.Energy-e), b.Energy-e
			m.trades = append(m.trades, tr)
			trades = append(trades, tr)
		}
	}
	pending := make([][]coremarket.TradeListener, len(trades))
	for i, tr := range trades {
		pending[i] = m.targets(tr)
	}
	m.mu.Unlock()

	for i, tr := range trades {
		notify(pending[i], tr)
	}
	return trades
}

const dust = 1e-9

func (m *Memory) newTrade(rate, energy float64) model.Trade {
	return model.Trade{
		ID:       uuid.NewString(),
		Slot:     m.slot,
		Energy:   energy,
		Price:    rate * energy,
		FeePrice: m.cfg.FeeRate * energy,
		Time:     time.Now(),
	}
}

// targets must be called with m.mu held.
func (m *Memory) targets(tr model.Trade) []coremarket.TradeListener {
	var out []coremarket.TradeListener
	out = append(out, m.listeners[tr.Seller]...)
	if tr.Buyer != tr.Seller {
		out = append(out, m.listeners[tr.Buyer]...)
	}
	return out
}

func notify(targets []coremarket.TradeListener, tr model.Trade) {
	for _, l := range targets {
		l.OnTrade(tr)
	}
}

func reduce(book map[string]model.Order, id string, energy float64) {
	o := book[id]
	if residual := o.Energy - energy; residual > dust {
		o.Price = o.EnergyRate() * residual
		o.Energy = residual
		book[id] = o
		return
	}
	delete(book, id)
}

func sortedBook(book map[string]model.Order, less func(a, b model.Order) bool) []model.Order {
	out := make([]model.Order, 0, len(book))
	for _, o := range book {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ coremarket.Market = (*Memory)(nil)
