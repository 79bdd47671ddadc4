package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gridsingularity/d3a/core/ledger"
	"github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrNoActiveMarket   = errors.New("no active market")
)

// Validator checks incoming commands against the current ledger and market
// without mutating either. Energy of orders still waiting in the queue counts
// as offered, so a burst of commands cannot overbook one slot.
type Validator struct {
	device string
	ledger *ledger.Ledger
	queue  *Queue
}

// NewValidator returns a validator for device. queue may be nil.
func NewValidator(device string, l *ledger.Ledger, queue *Queue) *Validator {
	return &Validator{device: device, ledger: l, queue: queue}
}

func (v *Validator) queued(kind Kind, slot model.TimeSlot) float64 {
	if v.queue == nil {
		return 0
	}
	return v.queue.Queued(kind, slot)
}

// Validate parses payload for kind and returns the pending command. The
// returned error is always a *CommandError of kind ValidationError.
func (v *Validator) Validate(kind Kind, payload []byte, mkt market.Market) (PendingCommand, error) {
	cmd := PendingCommand{Kind: kind}
	fail := func(detail string, err error) (PendingCommand, error) {
		return PendingCommand{}, &CommandError{Kind: ValidationError, Command: kind.ResponseName(), Detail: detail, Err: err}
	}

	switch kind {
	case ListOffers, ListBids, Stats:
		return cmd, nil
	case DeleteOffer, DeleteBid:
		key := "offer"
		if kind == DeleteBid {
			key = "bid"
		}
		fields, err := parseFields(payload, key)
		if err != nil {
			return fail("invalid fields", err)
		}
		id, energy, hasEnergy, err := parseOrderRef(fields[key])
		if err != nil {
			return fail("invalid "+key, err)
		}
		cmd.Args = Arguments{OrderID: id, Energy: energy, HasEnergy: hasEnergy}
		return cmd, nil
	case CreateOffer, CreateBid:
	default:
		return fail("unknown command", ErrMalformedPayload)
	}

	fields, err := parseFields(payload, "energy", "price")
	if err != nil {
		return fail("invalid fields", err)
	}
	price, err := parseNumber(fields["price"])
	if err != nil {
		return fail("invalid price", err)
	}
	energy, err := parseNumber(fields["energy"])
	if err != nil {
		return fail("invalid energy", err)
	}
	if energy <= 0 {
		return fail(fmt.Sprintf("energy %v", energy), ledger.ErrNonPositiveEnergy)
	}
	if mkt == nil {
		return fail("cannot place order", ErrNoActiveMarket)
	}
	slot := mkt.TimeSlot()
	cmd.Slot = slot
	cmd.Args = Arguments{Price: price, Energy: energy}
	state := v.ledger.State(slot)
	queued := v.queued(kind, slot)
	if kind == CreateOffer {
		if !v.ledger.CanSell(slot, energy+queued) {
			return fail(fmt.Sprintf("energy %.5f exceeds free sell capacity %.5f", energy, state.FreeSell()-queued), ledger.ErrSellBoundExceeded)
		}
		cmd.Args.Seller, cmd.Args.SellerOrigin = v.device, v.device
		return cmd, nil
	}
	if !v.ledger.CanBuy(slot, energy+queued) {
		return fail(fmt.Sprintf("energy %.5f exceeds free buy capacity %.5f", energy, state.FreeBuy()-queued), ledger.ErrBuyBoundExceeded)
	}
	cmd.Args.Buyer, cmd.Args.BuyerOrigin = v.device, v.device
	return cmd, nil
}

// parseFields decodes a JSON object that must contain exactly keys.
func parseFields(payload []byte, keys ...string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}
	got := make([]string, 0, len(fields))
	for k := range fields {
		got = append(got, k)
	}
	sort.Strings(got)
	want := append([]string(nil), keys...)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return nil, fmt.Errorf("%w: got fields [%s], want [%s]", ErrMalformedPayload,
			strings.Join(got, ", "), strings.Join(want, ", "))
	}
	return fields, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, fmt.Errorf("%w: %s is not a number", ErrMalformedPayload, raw)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrMalformedPayload, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrMalformedPayload, raw)
	}
	return f, nil
}

// parseOrderRef accepts "<id>" or {"id": "<id>", "energy": <kWh>}.
func parseOrderRef(raw json.RawMessage) (id string, energy float64, hasEnergy bool, err error) {
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", 0, false, fmt.Errorf("%w: empty order id", ErrMalformedPayload)
		}
		return id, 0, false, nil
	}
	var ref struct {
		ID     string          `json:"id"`
		Energy json.RawMessage `json:"energy"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
		return "", 0, false, fmt.Errorf("%w: expected an order id", ErrMalformedPayload)
	}
	if ref.Energy == nil {
		return ref.ID, 0, false, nil
	}
	energy, err = parseNumber(ref.Energy)
	if err != nil {
		return "", 0, false, err
	}
	return ref.ID, energy, true, nil
}
