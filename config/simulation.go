package config

import (
	"fmt"
	"time"
)

// SimulationConfig drives the slot clock.
type SimulationConfig struct {
	SlotLengthMinutes int `json:"slot_length_minutes"`
	TicksPerSlot      int `json:"ticks_per_slot"`
	TickIntervalMS    int `json:"tick_interval_ms"`
	// Slots is the number of slots to run. Zero runs until canceled.
	Slots int `json:"slots"`
	// Start is an RFC 3339 timestamp of the first slot. Empty starts at the
	// current slot.
	Start string `json:"start"`
}

// SetDefaults applies sane defaults.
func (c *SimulationConfig) SetDefaults() {
	if c.SlotLengthMinutes == 0 {
		c.SlotLengthMinutes = 15
	}
	if c.TicksPerSlot == 0 {
		c.TicksPerSlot = 10
	}
	if c.TickIntervalMS == 0 {
		c.TickIntervalMS = 1000
	}
}

// Validate checks the configuration.
func (c SimulationConfig) Validate() error {
	if c.SlotLengthMinutes <= 0 {
		return fmt.Errorf("slot_length_minutes must be > 0")
	}
	if c.TicksPerSlot <= 0 {
		return fmt.Errorf("ticks_per_slot must be > 0")
	}
	if c.TickIntervalMS < 0 || c.Slots < 0 {
		return fmt.Errorf("tick_interval_ms and slots must be >= 0")
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	return nil
}

// SlotLength returns the slot duration.
func (c SimulationConfig) SlotLength() time.Duration {
	return time.Duration(c.SlotLengthMinutes) * time.Minute
}

// TickInterval returns the pause between ticks.
func (c SimulationConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// StartTime parses Start. The zero time means "now".
func (c SimulationConfig) StartTime() (time.Time, error) {
	if c.Start == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t, nil
}
