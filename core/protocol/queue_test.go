package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainOrder(t *testing.T) {
	for _, tc := range []struct {
		order DrainOrder
		want  []string
	}{
		{LIFO, []string{"c", "b", "a"}},
		{FIFO, []string{"a", "b", "c"}},
	} {
		q := NewQueue(tc.order)
		for _, id := range []string{"a", "b", "c"} {
			q.Enqueue(PendingCommand{Kind: DeleteOffer, Args: Arguments{OrderID: id}})
		}
		require.Equal(t, 3, q.Len())
		var got []string
		for _, c := range q.DrainAll() {
			got = append(got, c.Args.OrderID)
		}
		assert.Equal(t, tc.want, got, string(tc.order))
		assert.Equal(t, 0, q.Len())
		assert.Empty(t, q.DrainAll())
	}
}

func TestQueueQueuedEnergy(t *testing.T) {
	q := NewQueue("")
	assert.Equal(t, LIFO, q.Order())
	q.Enqueue(PendingCommand{Kind: CreateOffer, Slot: slot, Args: Arguments{Energy: 1}})
	q.Enqueue(PendingCommand{Kind: CreateOffer, Slot: slot, Args: Arguments{Energy: 2}})
	q.Enqueue(PendingCommand{Kind: CreateOffer, Slot: nextSlot, Args: Arguments{Energy: 4}})
	q.Enqueue(PendingCommand{Kind: CreateBid, Slot: slot, Args: Arguments{Energy: 8}})
	assert.InDelta(t, 3, q.Queued(CreateOffer, slot), 1e-9)
	assert.InDelta(t, 8, q.Queued(CreateBid, slot), 1e-9)
}

func TestParseDrainOrder(t *testing.T) {
	o, err := ParseDrainOrder("")
	require.NoError(t, err)
	assert.Equal(t, LIFO, o)
	o, err = ParseDrainOrder("fifo")
	require.NoError(t, err)
	assert.Equal(t, FIFO, o)
	_, err = ParseDrainOrder("random")
	assert.Error(t, err)
}
