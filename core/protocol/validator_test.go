package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/d3a/core/ledger"
	inframarket "github.com/gridsingularity/d3a/infra/market"
)

func TestValidatorAttachesOwnership(t *testing.T) {
	l := ledger.New()
	l.SetBounds(slot, 5, 5)
	v := NewValidator("bat", l, nil)
	mkt := inframarket.NewMemory(slot, inframarket.Config{})

	cmd, err := v.Validate(CreateOffer, []byte(`{"energy": 2, "price": 50}`), mkt)
	require.NoError(t, err)
	assert.Equal(t, slot, cmd.Slot)
	assert.Equal(t, Arguments{Price: 50, Energy: 2, Seller: "bat", SellerOrigin: "bat"}, cmd.Args)

	cmd, err = v.Validate(CreateBid, []byte(`{"energy": 2, "price": 50}`), mkt)
	require.NoError(t, err)
	assert.Equal(t, "bat", cmd.Args.Buyer)
	assert.Equal(t, "bat", cmd.Args.BuyerOrigin)
	assert.Empty(t, cmd.Args.Seller)
}

func TestValidatorChecksLedgerBounds(t *testing.T) {
	l := ledger.New()
	l.SetBounds(slot, 5, 1)
	require.NoError(t, l.ReserveSell(slot, 2))
	require.NoError(t, l.PledgeSell(slot, 1))
	q := NewQueue(LIFO)
	v := NewValidator("bat", l, q)
	mkt := inframarket.NewMemory(slot, inframarket.Config{})

	cmd, err := v.Validate(CreateOffer, []byte(`{"energy": 3, "price": 1}`), mkt)
	require.NoError(t, err)
	q.Enqueue(cmd)

	_, err = v.Validate(CreateOffer, []byte(`{"energy": 0.5, "price": 1}`), mkt)
	assert.ErrorIs(t, err, ledger.ErrSellBoundExceeded)
	assert.True(t, IsKind(err, ValidationError))

	_, err = v.Validate(CreateBid, []byte(`{"energy": 1.5, "price": 1}`), mkt)
	assert.ErrorIs(t, err, ledger.ErrBuyBoundExceeded)
	assert.Equal(t, 5.0, l.State(slot).EnergyToSell)
	assert.Equal(t, 1.0, l.State(slot).OfferedSell)
}

func TestValidatorDeletePayloads(t *testing.T) {
	v := NewValidator("bat", ledger.New(), nil)

	cmd, err := v.Validate(DeleteOffer, []byte(`{"offer": "abc"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", cmd.Args.OrderID)
	assert.False(t, cmd.Args.HasEnergy)

	cmd, err = v.Validate(DeleteBid, []byte(`{"bid": {"id": "xyz", "energy": 1.25}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "xyz", cmd.Args.OrderID)
	assert.True(t, cmd.Args.HasEnergy)
	assert.InDelta(t, 1.25, cmd.Args.Energy, 1e-9)

	_, err = v.Validate(DeleteBid, []byte(`{"bid": {"id": "xyz", "energy": "1"}}`), nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = v.Validate(DeleteOffer, []byte(`{"offer": ""}`), nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestValidatorListCommandsNeedNoArguments(t *testing.T) {
	v := NewValidator("bat", ledger.New(), nil)
	for _, k := range []Kind{ListOffers, ListBids, Stats} {
		_, err := v.Validate(k, []byte(`{"anything": true}`), nil)
		assert.NoError(t, err, k.String())
	}
}
