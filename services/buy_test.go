package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/memory"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/pricing"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

const (
	seller = "SP2SELLER"
	buyer  = "SP2BUYER"
)

type fakeBank struct {
	key   string
	calls int
}

func (f *fakeBank) GetOrCreatePixKey(_ context.Context, _ clients.BankAuth) (string, error) {
	f.calls++
	return f.key, nil
}

func (f *fakeBank) QueryPix(_ context.Context, _ clients.BankAuth, _, _ time.Time) ([]clients.PixReceipt, error) {
	return nil, nil
}

type fakeObjects struct{}

func (fakeObjects) Upload(_ context.Context, _ []byte, path string) (string, error) {
	return "mem://" + path, nil
}

func (fakeObjects) Download(_ context.Context, _ string) ([]byte, error) {
	return []byte("cert"), nil
}

type staticQuote int64

func (q staticQuote) MarketPrice(_ context.Context) (int64, error) { return int64(q), nil }

type fixture struct {
	ads       *memory.AdvertisementStore
	buys      *memory.BuyStore
	creds     *memory.BankCredentialStore
	bank      *fakeBank
	adsvc     *services.AdvertisementService
	buysvc    *services.BuyService
	publisher *events.Publisher
}

func newFixture(t *testing.T, market int64) *fixture {
	t.Helper()
	f := &fixture{
		ads:   memory.NewAdvertisementStore(),
		buys:  memory.NewBuyStore(),
		creds: memory.NewBankCredentialStore(),
		bank:  &fakeBank{key: "pix-key-1"},
	}
	f.publisher = events.NewPublisher(memory.NewEventStore(), events.NewRegistry())
	f.adsvc = services.NewAdvertisementService(f.ads, f.creds, f.bank, fakeObjects{})
	f.buysvc = services.NewBuyService(f.ads, f.buys, f.adsvc, staticQuote(market), f.publisher)
	return f
}

// readyAd builds a funded Ready advertisement with a fresh PIX key.
func (f *fixture) readyAd(t *testing.T, mode types.PricingMode, price, offsetBP, available int64) *types.Advertisement {
	t.Helper()
	ctx := context.Background()
	cred, err := types.NewBankCredential(seller, "client", "secret", "mem://cert.p12")
	require.NoError(t, err)
	require.NoError(t, f.creds.Insert(ctx, cred))

	ad, err := f.adsvc.Create(ctx, seller, "BTC", "BRL", mode, price, offsetBP, 1_000, 10_000_000)
	require.NoError(t, err)
	_, err = f.ads.AddDeposit(ctx, ad.ID, available)
	require.NoError(t, err)
	require.NoError(t, f.ads.SetPixKey(ctx, ad.ID, "pix-key-1", cred.ID, time.Now().UTC().UnixMilli()))
	ad, err = f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	return ad
}

func TestBuyService_StartReservesAmount(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, types.BuyPending, buy.Status)
	assert.Equal(t, int64(100_000), buy.Amount)
	assert.Equal(t, "pix-key-1", buy.PixKey)
	assert.False(t, buy.IsFinal)

	after, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9_900_000), after.AvailableAmount)
	// The key was fresh; no bank round-trip.
	assert.Equal(t, 0, f.bank.calls)
}

func TestBuyService_StartRejectsBadQuotes(t *testing.T) {
	f := newFixture(t, 1_000_000)
	ad := f.readyAd(t, types.PricingDynamic, 0, 315, 10_000_000)
	ctx := context.Background()

	_, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 1_028_404)
	assert.ErrorIs(t, err, pricing.ErrPriceTooLow)

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 1_028_405)
	require.NoError(t, err)
	assert.Equal(t, int64(1_028_405), buy.Price)
}

func TestBuyService_StartRefundsWhenInsertFails(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	_, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)

	// A second open buy by the same buyer trips the unique index; the
	// reservation must come back.
	_, err = f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.ErrorIs(t, err, services.ErrStateConflict)

	after, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9_900_000), after.AvailableAmount)
}

func TestBuyService_StartInsufficientAvailable(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 50_000)
	ctx := context.Background()

	// 50_000 cents buys 100_000 units; only 50_000 are left.
	_, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.ErrorIs(t, err, services.ErrStateConflict)

	after, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), after.AvailableAmount)
}

func TestBuyService_StartEnforcesBounds(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)

	_, err := f.buysvc.Start(context.Background(), ad.ID, buyer, 999, 50_000_000)
	assert.Error(t, err)
}

func TestBuyService_CancelRefunds(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)

	cancelled, err := f.buysvc.Cancel(ctx, buy.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, types.BuyCancelled, cancelled.Status)
	assert.True(t, cancelled.IsFinal)

	after, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), after.AvailableAmount)
}

func TestBuyService_CancelWrongBuyer(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)

	_, err = f.buysvc.Cancel(ctx, buy.ID, "SP2SOMEONEELSE")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestBuyService_MarkPaid(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)

	_, err = f.buysvc.MarkPaid(ctx, buy.ID, "SP2SOMEONEELSE", "1OLSZB")
	require.ErrorIs(t, err, services.ErrUnauthorized)

	paid, err := f.buysvc.MarkPaid(ctx, buy.ID, buyer, "1OLSZB")
	require.NoError(t, err)
	assert.Equal(t, types.BuyPaid, paid.Status)
	assert.Equal(t, "1OLSZB", paid.PixConfirmationCode)

	// Marking again is a state conflict, not a silent overwrite.
	_, err = f.buysvc.MarkPaid(ctx, buy.ID, buyer, "other")
	assert.ErrorIs(t, err, services.ErrStateConflict)
}

func TestBuyService_StartRefreshesStalePixKey(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	// Rotate credentials; the stored key now belongs to the old row.
	newCred, err := types.NewBankCredential(seller, "client2", "secret2", "mem://cert2.p12")
	require.NoError(t, err)
	require.NoError(t, f.creds.Insert(ctx, newCred))
	f.bank.key = "pix-key-2"

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, "pix-key-2", buy.PixKey)
	assert.Equal(t, 1, f.bank.calls)

	after, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, "pix-key-2", after.PixKey)
	assert.Equal(t, newCred.ID, after.BankCredentialsID)
}

func TestBuyService_ResolveDispute(t *testing.T) {
	f := newFixture(t, 0)
	ad := f.readyAd(t, types.PricingFixed, 50_000_000, 0, 10_000_000)
	ctx := context.Background()

	buy, err := f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	require.NoError(t, err)
	_, err = f.buys.MarkInDispute(ctx, buy.ID)
	require.NoError(t, err)

	resolved, err := f.buysvc.ResolveDispute(ctx, buy.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.BuyDisputeFavorBuyer, resolved.Status)

	// A second arbitration call finds the dispute already decided.
	_, err = f.buysvc.ResolveDispute(ctx, buy.ID, false)
	assert.ErrorIs(t, err, services.ErrStateConflict)
}

func TestBuyService_StartRequiresReadyAd(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	cred, err := types.NewBankCredential(seller, "client", "secret", "")
	require.NoError(t, err)
	require.NoError(t, f.creds.Insert(ctx, cred))
	ad, err := f.adsvc.Create(ctx, seller, "BTC", "BRL", types.PricingFixed, 50_000_000, 0, 1_000, 10_000_000)
	require.NoError(t, err)

	_, err = f.buysvc.Start(ctx, ad.ID, buyer, 50_000, 50_000_000)
	assert.ErrorIs(t, err, services.ErrStateConflict)

	_, err = f.buysvc.Start(ctx, primitive.NewObjectID(), buyer, 50_000, 50_000_000)
	assert.Error(t, err)
}
