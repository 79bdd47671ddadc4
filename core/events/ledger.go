package events

import (
	"time"

	"github.com/gridsingularity/d3a/core/model"
)

// LedgerEvent is a snapshot of one device ledger slot.
type LedgerEvent struct {
	Device       string
	Slot         model.TimeSlot
	Reason       string
	EnergyToSell float64
	EnergyToBuy  float64
	OfferedSell  float64
	PledgedSell  float64
	OfferedBuy   float64
	PledgedBuy   float64
	Pending      int
	Time         time.Time
}

// LifecycleEvent reports a device state change.
type LifecycleEvent struct {
	Device    string
	State     string
	Connected bool
	Time      time.Time
}
