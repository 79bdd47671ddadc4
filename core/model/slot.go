package model

import "time"

// TimeSlot identifies one market period by its start time in unix seconds.
// Slots are totally ordered and comparable, so they can key maps directly.
type TimeSlot int64

// SlotAt returns the slot starting at t. Sub-second precision is dropped.
func SlotAt(t time.Time) TimeSlot {
	return TimeSlot(t.Unix())
}

// Time returns the slot start in UTC.
func (s TimeSlot) Time() time.Time {
	return time.Unix(int64(s), 0).UTC()
}

// Add returns the slot d after s.
func (s TimeSlot) Add(d time.Duration) TimeSlot {
	return s + TimeSlot(d/time.Second)
}

// Before reports whether s starts before o.
func (s TimeSlot) Before(o TimeSlot) bool { return s < o }

// String formats the slot the way it appears in participant messages.
func (s TimeSlot) String() string {
	return s.Time().Format("2006-01-02T15:04")
}
