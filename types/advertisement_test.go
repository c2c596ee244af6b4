package types

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewAdvertisement_RejectsInvertedBounds(t *testing.T) {
	_, err := NewAdvertisement("SP1SELLER", "BTC", "BRL", PricingFixed, 500000, 0, 5000, 1000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max amount below min amount")
}

func TestNewAdvertisement_Draft(t *testing.T) {
	ad, err := NewAdvertisement("SP1SELLER", "BTC", "BRL", PricingFixed, 500000, 0, 1000, 5000)
	require.NoError(t, err)
	require.Equal(t, AdDraft, ad.Status)
	require.True(t, ad.IsActive)
	require.Equal(t, int64(0), ad.TotalDeposited)
}

func TestAdvertisementTransitions(t *testing.T) {
	allowed := []struct {
		from, to AdvertisementStatus
	}{
		{AdDraft, AdPending},
		{AdDraft, AdBankFailed},
		{AdPending, AdReady},
		{AdReady, AdProcessingDeposit},
		{AdProcessingDeposit, AdReady},
		{AdReady, AdFinishing},
		{AdFinishing, AdClosed},
	}
	for _, tc := range allowed {
		require.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	denied := []struct {
		from, to AdvertisementStatus
	}{
		{AdClosed, AdReady},
		{AdFinishing, AdReady},
		{AdProcessingDeposit, AdFinishing},
		{AdDraft, AdReady},
		{AdReady, AdClosed},
	}
	for _, tc := range denied {
		require.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAdvertisementTransition_RecomputesActive(t *testing.T) {
	ad, err := NewAdvertisement("SP1SELLER", "BTC", "BRL", PricingFixed, 500000, 0, 1000, 5000)
	require.NoError(t, err)
	require.NoError(t, ad.Transition(AdPending))
	require.True(t, ad.IsActive)
	require.NoError(t, ad.Transition(AdReady))
	require.NoError(t, ad.Transition(AdFinishing))
	require.False(t, ad.IsActive)
	require.NoError(t, ad.Transition(AdClosed))
	err = ad.Transition(AdReady)
	require.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestPixKeyStale(t *testing.T) {
	cred := primitive.NewObjectID()
	now := time.Now().UTC()
	ad := &Advertisement{
		PixKey:            "K",
		BankCredentialsID: cred,
		PixKeyRefreshedAt: now.Add(-5 * time.Minute).UnixMilli(),
	}
	require.False(t, ad.PixKeyStale(cred, 15*time.Minute, now))

	// Older than the refresh window.
	ad.PixKeyRefreshedAt = now.Add(-16 * time.Minute).UnixMilli()
	require.True(t, ad.PixKeyStale(cred, 15*time.Minute, now))

	// Credentials rotated.
	ad.PixKeyRefreshedAt = now.UnixMilli()
	require.True(t, ad.PixKeyStale(primitive.NewObjectID(), 15*time.Minute, now))

	// Never issued.
	ad.PixKey = ""
	require.True(t, ad.PixKeyStale(cred, 15*time.Minute, now))
}
