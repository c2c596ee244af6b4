package types

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewBuy_RejectsZeroPayValue(t *testing.T) {
	_, err := NewBuy(primitive.NewObjectID(), "SP1BUYER", 500000, 500000, 0, 0, "K")
	require.Error(t, err)
}

func TestBuyTransitions(t *testing.T) {
	allowed := []struct {
		from, to BuyStatus
	}{
		{BuyPending, BuyPaid},
		{BuyPending, BuyCancelled},
		{BuyPending, BuyExpired},
		{BuyPending, BuyInDispute},
		{BuyPaid, BuyPaymentConfirmed},
		{BuyPaid, BuyInDispute},
		{BuyInDispute, BuyDisputeFavorBuyer},
		{BuyInDispute, BuyDisputeFavorSeller},
		{BuyInDispute, BuyDisputeResolvedSeller},
		{BuyDisputeFavorBuyer, BuyDisputeResolvedBuyer},
		{BuyDisputeFavorSeller, BuyDisputeResolvedSeller},
	}
	for _, tc := range allowed {
		require.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	denied := []struct {
		from, to BuyStatus
	}{
		{BuyPending, BuyPaymentConfirmed},
		{BuyPaid, BuyExpired},
		{BuyExpired, BuyPaid},
		{BuyPaymentConfirmed, BuyInDispute},
		{BuyDisputeFavorBuyer, BuyDisputeResolvedSeller},
		{BuyDisputeResolvedBuyer, BuyPending},
	}
	for _, tc := range denied {
		require.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBuyFinalFlag(t *testing.T) {
	b, err := NewBuy(primitive.NewObjectID(), "SP1BUYER", 500000, 500000, 0, 2500, "K")
	require.NoError(t, err)
	require.False(t, b.IsFinal)
	require.NoError(t, b.Transition(BuyPaid))
	require.False(t, b.IsFinal)
	require.NoError(t, b.Transition(BuyPaymentConfirmed))
	require.True(t, b.IsFinal)
	err = b.Transition(BuyInDispute)
	require.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestBuyExpiresAfterTTL(t *testing.T) {
	b, err := NewBuy(primitive.NewObjectID(), "SP1BUYER", 1, 1, 0, 1, "K")
	require.NoError(t, err)
	require.Equal(t, int64(BuyTTL.Milliseconds()), b.ExpiresAt-b.CreatedAt)
}

func TestPaymentRequestStatusActive(t *testing.T) {
	for _, s := range []PaymentRequestStatus{PaymentPendingAutomatic, PaymentWaiting, PaymentProcessing, PaymentBroadcast, PaymentConfirmed} {
		require.True(t, s.Active(), string(s))
	}
	require.False(t, PaymentFailed.Active())
}
