// Package ledger keeps the per-slot energy bookkeeping of one device: the
// physical bounds on what it may sell or buy, and how much of that is
// currently offered or already pledged through trades.
//
// For every slot the ledger maintains
//
//	offeredSell + pledgedSell <= energyToSell
//	offeredBuy  + pledgedBuy  <= energyToBuy
//
// A Ledger is owned by a single device and is not safe for concurrent use.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gridsingularity/d3a/core/model"
)

// Tolerance absorbs float rounding in all energy comparisons (kWh).
const Tolerance = 1e-5

var (
	ErrNonPositiveEnergy  = errors.New("energy must be positive")
	ErrSellBoundExceeded  = errors.New("sell bound exceeded")
	ErrBuyBoundExceeded   = errors.New("buy bound exceeded")
	ErrInsufficientEnergy = errors.New("release exceeds offered energy")
)

// SlotState is a copy of the ledger entries for one slot.
type SlotState struct {
	Slot         model.TimeSlot `json:"-"`
	EnergyToSell float64        `json:"energy_to_sell"`
	EnergyToBuy  float64        `json:"energy_to_buy"`
	OfferedSell  float64        `json:"offered_sell"`
	PledgedSell  float64        `json:"pledged_sell"`
	OfferedBuy   float64        `json:"offered_buy"`
	PledgedBuy   float64        `json:"pledged_buy"`
}

// FreeSell is the energy still available for new offers.
func (s SlotState) FreeSell() float64 {
	return s.EnergyToSell - s.OfferedSell - s.PledgedSell
}

// FreeBuy is the energy still available for new bids.
func (s SlotState) FreeBuy() float64 {
	return s.EnergyToBuy - s.OfferedBuy - s.PledgedBuy
}

// Ledger stores SlotState per slot.
type Ledger struct {
	slots map[model.TimeSlot]*SlotState
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{slots: make(map[model.TimeSlot]*SlotState)}
}

func (l *Ledger) entry(slot model.TimeSlot) *SlotState {
	s, ok := l.slots[slot]
	if !ok {
		s = &SlotState{Slot: slot}
		l.slots[slot] = s
	}
	return s
}

// SetBounds overwrites the physical bounds of a slot. Negative bounds are
// treated as zero.
func (l *Ledger) SetBounds(slot model.TimeSlot, toSell, toBuy float64) {
	s := l.entry(slot)
	s.EnergyToSell = max(toSell, 0)
	s.EnergyToBuy = max(toBuy, 0)
}

// Clamp reduces the offered energy of a slot until both invariants hold again
// and returns how much was dropped on each side. Pledged energy is never
// touched; if pledged alone exceeds the bound, offered goes to zero.
func (l *Ledger) Clamp(slot model.TimeSlot) (droppedSell, droppedBuy float64) {
	s := l.entry(slot)
	if excess := s.OfferedSell + s.PledgedSell - s.EnergyToSell; excess > Tolerance {
		droppedSell = min(excess, s.OfferedSell)
		s.OfferedSell -= droppedSell
	}
	if excess := s.OfferedBuy + s.PledgedBuy - s.EnergyToBuy; excess > Tolerance {
		droppedBuy = min(excess, s.OfferedBuy)
		s.OfferedBuy -= droppedBuy
	}
	return droppedSell, droppedBuy
}

// CanSell reports whether energy more kWh could be offered in slot.
func (l *Ledger) CanSell(slot model.TimeSlot, energy float64) bool {
	s := l.entry(slot)
	return energy+s.OfferedSell+s.PledgedSell <= s.EnergyToSell+Tolerance
}

// CanBuy reports whether energy more kWh could be bid for in slot.
func (l *Ledger) CanBuy(slot model.TimeSlot, energy float64) bool {
	s := l.entry(slot)
	return energy+s.OfferedBuy+s.PledgedBuy <= s.EnergyToBuy+Tolerance
}

// ReserveSell adds energy to the offered sell counter.
func (l *Ledger) ReserveSell(slot model.TimeSlot, energy float64) error {
	if energy <= 0 {
		return ErrNonPositiveEnergy
	}
	if !l.CanSell(slot, energy) {
		s := l.entry(slot)
		return fmt.Errorf("%w: %.5f + %.5f offered + %.5f pledged > %.5f",
			ErrSellBoundExceeded, energy, s.OfferedSell, s.PledgedSell, s.EnergyToSell)
	}
	l.entry(slot).OfferedSell += energy
	return nil
}

// ReleaseSell removes energy from the offered sell counter.
func (l *Ledger) ReleaseSell(slot model.TimeSlot, energy float64) error {
	s := l.entry(slot)
	if energy <= 0 {
		return ErrNonPositiveEnergy
	}
	if energy > s.OfferedSell+Tolerance {
		return fmt.Errorf("%w: release %.5f of %.5f", ErrInsufficientEnergy, energy, s.OfferedSell)
	}
	s.OfferedSell = max(s.OfferedSell-energy, 0)
	return nil
}

// ReserveBuy adds energy to the offered buy counter.
func (l *Ledger) ReserveBuy(slot model.TimeSlot, energy float64) error {
	if energy <= 0 {
		return ErrNonPositiveEnergy
	}
	if !l.CanBuy(slot, energy) {
		s := l.entry(slot)
		return fmt.Errorf("%w: %.5f + %.5f offered + %.5f pledged > %.5f",
			ErrBuyBoundExceeded, energy, s.OfferedBuy, s.PledgedBuy, s.EnergyToBuy)
	}
	l.entry(slot).OfferedBuy += energy
	return nil
}

// ReleaseBuy removes energy from the offered buy counter.
func (l *Ledger) ReleaseBuy(slot model.TimeSlot, energy float64) error {
	s := l.entry(slot)
	if energy <= 0 {
		return ErrNonPositiveEnergy
	}
	if energy > s.OfferedBuy+Tolerance {
		return fmt.Errorf("%w: release %.5f of %.5f", ErrInsufficientEnergy, energy, s.OfferedBuy)
	}
	s.OfferedBuy = max(s.OfferedBuy-energy, 0)
	return nil
}

// PledgeSell moves traded energy from offered to pledged on the sell side.
func (l *Ledger) PledgeSell(slot model.TimeSlot, energy float64) error {
	if err := l.ReleaseSell(slot, energy); err != nil {
		return err
	}
	l.entry(slot).PledgedSell += energy
	return nil
}

// PledgeBuy moves traded energy from offered to pledged on the buy side.
func (l *Ledger) PledgeBuy(slot model.TimeSlot, energy float64) error {
	if err := l.ReleaseBuy(slot, energy); err != nil {
		return err
	}
	l.entry(slot).PledgedBuy += energy
	return nil
}

// FreeCapacity is the energy still available for new offers in slot.
func (l *Ledger) FreeCapacity(slot model.TimeSlot) float64 {
	return l.entry(slot).FreeSell()
}

// FreeBuyCapacity is the energy still available for new bids in slot.
func (l *Ledger) FreeBuyCapacity(slot model.TimeSlot) float64 {
	return l.entry(slot).FreeBuy()
}

// State returns a copy of the slot entry.
func (l *Ledger) State(slot model.TimeSlot) SlotState {
	return *l.entry(slot)
}

// Slots returns the known slots in ascending order.
func (l *Ledger) Slots() []model.TimeSlot {
	out := make([]model.TimeSlot, 0, len(l.slots))
	for s := range l.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Prune forgets every slot strictly before the given one.
func (l *Ledger) Prune(before model.TimeSlot) {
	for s := range l.slots {
		if s < before {
			delete(l.slots, s)
		}
	}
}
