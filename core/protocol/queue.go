package protocol

import (
	"fmt"
	"slices"

	"github.com/gridsingularity/d3a/core/model"
)

// DrainOrder selects the order queued commands are executed in.
type DrainOrder string

const (
	// LIFO executes the most recently queued command first.
	LIFO DrainOrder = "lifo"
	// FIFO executes commands in submission order.
	FIFO DrainOrder = "fifo"
)

// ParseDrainOrder parses a configured drain order. Empty selects LIFO.
func ParseDrainOrder(s string) (DrainOrder, error) {
	switch DrainOrder(s) {
	case "", LIFO:
		return LIFO, nil
	case FIFO:
		return FIFO, nil
	}
	return "", fmt.Errorf("unknown drain order %q", s)
}

// Queue buffers validated commands of one device until the next tick.
// It is not safe for concurrent use.
type Queue struct {
	order DrainOrder
	items []PendingCommand
}

// NewQueue returns an empty queue draining in order.
func NewQueue(order DrainOrder) *Queue {
	if order == "" {
		order = LIFO
	}
	return &Queue{order: order}
}

// Order returns the drain order.
func (q *Queue) Order() DrainOrder { return q.order }

// Enqueue appends cmd.
func (q *Queue) Enqueue(cmd PendingCommand) { q.items = append(q.items, cmd) }

// Len returns the number of pending commands.
func (q *Queue) Len() int { return len(q.items) }

// DrainAll empties the queue and returns its commands in drain order.
func (q *Queue) DrainAll() []PendingCommand {
	out := q.items
	q.items = nil
	if q.order == LIFO {
		slices.Reverse(out)
	}
	return out
}

// Queued sums the energy of pending create commands of kind for slot.
func (q *Queue) Queued(kind Kind, slot model.TimeSlot) float64 {
	total := 0.0
	for _, c := range q.items {
		if c.Kind == kind && c.Slot == slot {
			total += c.Args.Energy
		}
	}
	return total
}
