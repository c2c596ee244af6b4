package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/memory"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/tasks"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

const (
	seller = "SP2SELLER"
	buyer  = "SP2BUYER"
)

type fakeChain struct {
	statuses    map[string]clients.TxStatus
	statusErr   error
	transfers   []string
	transferErr error
}

func (f *fakeChain) Broadcast(_ context.Context, _ string) (*clients.TxSummary, error) {
	return nil, errors.New("not used")
}

func (f *fakeChain) GetDetail(_ context.Context, _ string) (*clients.TxSummary, error) {
	return nil, errors.New("not used")
}

func (f *fakeChain) ValidateAndBroadcast(_ context.Context, _, _ string, _ int64) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeChain) VerifyStatus(_ context.Context, txID string) (clients.TxStatus, error) {
	if f.statusErr != nil {
		return clients.TxUnknown, f.statusErr
	}
	if s, ok := f.statuses[txID]; ok {
		return s, nil
	}
	return clients.TxUnknown, nil
}

func (f *fakeChain) Deposit(_ context.Context, _, _ string) (*clients.DepositResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeChain) Transfer(_ context.Context, recipient string, _ int64) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, recipient)
	return "0xtransfer", nil
}

type fakeBank struct {
	receipts []clients.PixReceipt
	err      error
}

func (f *fakeBank) GetOrCreatePixKey(_ context.Context, _ clients.BankAuth) (string, error) {
	return "pix-key", nil
}

func (f *fakeBank) QueryPix(_ context.Context, _ clients.BankAuth, _, _ time.Time) ([]clients.PixReceipt, error) {
	return f.receipts, f.err
}

type fakeObjects struct{}

func (fakeObjects) Upload(_ context.Context, _ []byte, path string) (string, error) {
	return "mem://" + path, nil
}

func (fakeObjects) Download(_ context.Context, _ string) ([]byte, error) {
	return []byte("cert"), nil
}

type fixture struct {
	ads        *memory.AdvertisementStore
	buys       *memory.BuyStore
	deposits   *memory.DepositStore
	creds      *memory.BankCredentialStore
	requests   *memory.PaymentRequestStore
	eventStore *memory.EventStore
	bank       *fakeBank
	chain      *fakeChain
	adsvc      *services.AdvertisementService
	prsvc      *services.PaymentRequestService
	pub        *events.Publisher
}

func newFixture() *fixture {
	f := &fixture{
		ads:        memory.NewAdvertisementStore(),
		buys:       memory.NewBuyStore(),
		deposits:   memory.NewDepositStore(),
		creds:      memory.NewBankCredentialStore(),
		requests:   memory.NewPaymentRequestStore(),
		eventStore: memory.NewEventStore(),
		bank:       &fakeBank{},
		chain:      &fakeChain{statuses: map[string]clients.TxStatus{}},
	}
	f.pub = events.NewPublisher(f.eventStore, events.NewRegistry())
	f.adsvc = services.NewAdvertisementService(f.ads, f.creds, f.bank, fakeObjects{})
	f.prsvc = services.NewPaymentRequestService(f.requests, f.pub)
	return f
}

// paidBuy seeds a Ready advertisement plus a Paid buy with the given code.
func (f *fixture) paidBuy(t *testing.T, payValue int64, code string) *types.Buy {
	t.Helper()
	ctx := context.Background()
	cred, err := types.NewBankCredential(seller, "client", "secret", "mem://cert.p12")
	require.NoError(t, err)
	require.NoError(t, f.creds.Insert(ctx, cred))

	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)

	buy, err := types.NewBuy(ad.ID, buyer, payValue*100_000_000/500_000, 500_000, 0, payValue, "K")
	require.NoError(t, err)
	require.NoError(t, f.buys.Insert(ctx, buy))
	_, err = f.ads.Reserve(ctx, ad.ID, buy.Amount)
	require.NoError(t, err)
	_, err = f.buys.MarkPaid(ctx, buy.ID, code)
	require.NoError(t, err)
	paid, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	return paid
}

func (f *fixture) verifier() *tasks.PaymentVerifier {
	return tasks.NewPaymentVerifier(f.buys, f.ads, f.creds, f.adsvc, f.bank, f.prsvc, f.pub, time.Minute)
}

func TestPaymentVerifier_ConfirmsMatchingReceipt(t *testing.T) {
	f := newFixture()
	buy := f.paidBuy(t, 2500, "IO15")
	f.bank.receipts = []clients.PixReceipt{
		{EndToEndID: "E2Exxxa01015", Valor: "25.00"},
		{EndToEndID: "E2Eother", Valor: "99.00"},
	}
	ctx := context.Background()

	require.NoError(t, f.verifier().Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyPaymentConfirmed, after.Status)
	assert.Equal(t, "E2Exxxa01015", after.PixEndToEndID)
	assert.True(t, after.IsFinal)

	pr, err := f.requests.ActiveBySource(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.Amount, pr.Amount)
	assert.Equal(t, buyer, pr.ReceiverAddress)
	assert.True(t, pr.AttemptAutomaticPayment)
	assert.Equal(t, types.PaymentPendingAutomatic, pr.Status)
}

func TestPaymentVerifier_AmbiguousReceiptsDispute(t *testing.T) {
	f := newFixture()
	buy := f.paidBuy(t, 2500, "")
	f.bank.receipts = []clients.PixReceipt{
		{EndToEndID: "E2Eone", Valor: "25.00"},
		{EndToEndID: "E2Etwo", Valor: "25.00"},
	}
	ctx := context.Background()

	require.NoError(t, f.verifier().Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyInDispute, after.Status)

	_, err = f.requests.ActiveBySource(ctx, buy.ID)
	assert.Error(t, err)

	stats, err := f.eventStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EventsByName[events.EventBuyInDispute])
}

func TestPaymentVerifier_CodeButNoSuffixMatchDispute(t *testing.T) {
	f := newFixture()
	buy := f.paidBuy(t, 2500, "ZZZZ")
	f.bank.receipts = []clients.PixReceipt{
		{EndToEndID: "E2Ennnn1015", Valor: "25.00"},
	}
	ctx := context.Background()

	require.NoError(t, f.verifier().Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyInDispute, after.Status)
}

func TestPaymentVerifier_NoAmountMatchRetriesLater(t *testing.T) {
	f := newFixture()
	buy := f.paidBuy(t, 2500, "IO15")
	f.bank.receipts = []clients.PixReceipt{
		{EndToEndID: "E2Eother", Valor: "10.00"},
	}
	ctx := context.Background()

	require.NoError(t, f.verifier().Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyPaid, after.Status)
	assert.Equal(t, int64(1), after.PixVerificationAttempts)
}

func TestPaymentVerifier_BankErrorDoesNotCountAttempt(t *testing.T) {
	f := newFixture()
	buy := f.paidBuy(t, 2500, "IO15")
	f.bank.err = errors.New("bank unavailable")
	ctx := context.Background()

	require.NoError(t, f.verifier().Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyPaid, after.Status)
	assert.Equal(t, int64(0), after.PixVerificationAttempts)
}

func TestBuyExpirer_RefundsReservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)

	buy, err := types.NewBuy(ad.ID, buyer, 500_000, 500_000, 0, 2_500, "K")
	require.NoError(t, err)
	buy.ExpiresAt = time.Now().UTC().Add(-time.Minute).UnixMilli()
	require.NoError(t, f.buys.Insert(ctx, buy))
	_, err = f.ads.Reserve(ctx, ad.ID, buy.Amount)
	require.NoError(t, err)

	require.NoError(t, tasks.NewBuyExpirer(f.buys, f.ads, time.Minute).Execute(ctx))

	after, err := f.buys.ByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyExpired, after.Status)
	assert.True(t, after.IsFinal)

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), adAfter.AvailableAmount)
}

func TestDepositConfirmer_SuccessCreditsAdvertisement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.UpdateStatus(ctx, ad.ID, []types.AdvertisementStatus{types.AdDraft}, types.AdPending)
	require.NoError(t, err)

	deposit, err := types.NewAdvertisementDeposit(ad.ID, seller, "0xserialized")
	require.NoError(t, err)
	require.NoError(t, f.deposits.Insert(ctx, deposit))
	_, err = f.deposits.MarkPending(ctx, deposit.ID, "0xdep", 100_000_000)
	require.NoError(t, err)
	f.chain.statuses["0xdep"] = clients.TxSuccess

	task := tasks.NewDepositConfirmer(f.deposits, f.ads, f.chain, f.pub, time.Minute)
	require.NoError(t, task.Execute(ctx))

	depAfter, err := f.deposits.ByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DepositConfirmed, depAfter.Status)
	assert.NotZero(t, depAfter.ConfirmedAt)

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdReady, adAfter.Status)
	assert.Equal(t, int64(100_000_000), adAfter.TotalDeposited)
	assert.Equal(t, int64(100_000_000), adAfter.AvailableAmount)

	stats, err := f.eventStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EventsByName[events.EventAdvertisementDepositConfirmed])
}

func TestDepositConfirmer_TerminalStatusFailsFirstDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.UpdateStatus(ctx, ad.ID, []types.AdvertisementStatus{types.AdDraft}, types.AdPending)
	require.NoError(t, err)

	deposit, err := types.NewAdvertisementDeposit(ad.ID, seller, "0xserialized")
	require.NoError(t, err)
	require.NoError(t, f.deposits.Insert(ctx, deposit))
	_, err = f.deposits.MarkPending(ctx, deposit.ID, "0xdep", 100_000_000)
	require.NoError(t, err)
	f.chain.statuses["0xdep"] = clients.TxAbortByPostCondition

	task := tasks.NewDepositConfirmer(f.deposits, f.ads, f.chain, f.pub, time.Minute)
	require.NoError(t, task.Execute(ctx))

	depAfter, err := f.deposits.ByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DepositFailed, depAfter.Status)

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdDepositFailed, adAfter.Status)
	assert.False(t, adAfter.IsActive)
}

func TestDepositConfirmer_TerminalStatusUnlocksTopUp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)
	_, err = f.ads.LockForDeposit(ctx, ad.ID)
	require.NoError(t, err)

	deposit, err := types.NewAdvertisementDeposit(ad.ID, seller, "0xtopup")
	require.NoError(t, err)
	require.NoError(t, f.deposits.Insert(ctx, deposit))
	_, err = f.deposits.MarkPending(ctx, deposit.ID, "0xdep2", 50_000_000)
	require.NoError(t, err)
	f.chain.statuses["0xdep2"] = clients.TxDroppedReplaceByFee

	task := tasks.NewDepositConfirmer(f.deposits, f.ads, f.chain, f.pub, time.Minute)
	require.NoError(t, task.Execute(ctx))

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdReady, adAfter.Status)
	assert.Equal(t, int64(100_000_000), adAfter.TotalDeposited)
}

func TestAdvertisementFinisher_ClosesAndPaysOut(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)
	_, err = f.ads.UpdateStatus(ctx, ad.ID, []types.AdvertisementStatus{types.AdReady}, types.AdFinishing)
	require.NoError(t, err)

	task := tasks.NewAdvertisementFinisher(f.ads, f.buys, f.prsvc, f.pub, time.Minute)
	require.NoError(t, task.Execute(ctx))

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdClosed, adAfter.Status)

	pr, err := f.requests.ActiveBySource(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), pr.Amount)
	assert.Equal(t, seller, pr.ReceiverAddress)
}

func TestAdvertisementFinisher_WaitsForOpenBuys(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)

	buy, err := types.NewBuy(ad.ID, buyer, 500_000, 500_000, 0, 2_500, "K")
	require.NoError(t, err)
	require.NoError(t, f.buys.Insert(ctx, buy))

	_, err = f.ads.UpdateStatus(ctx, ad.ID, []types.AdvertisementStatus{types.AdReady}, types.AdFinishing)
	require.NoError(t, err)

	task := tasks.NewAdvertisementFinisher(f.ads, f.buys, f.prsvc, f.pub, time.Minute)
	require.NoError(t, task.Execute(ctx))

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdFinishing, adAfter.Status)
}

func TestDisputeSettlers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)

	newDisputedBuy := func(addr string, favorBuyer bool) *types.Buy {
		buy, err := types.NewBuy(ad.ID, addr, 500_000, 500_000, 0, 2_500, "K")
		require.NoError(t, err)
		require.NoError(t, f.buys.Insert(ctx, buy))
		_, err = f.ads.Reserve(ctx, ad.ID, buy.Amount)
		require.NoError(t, err)
		_, err = f.buys.MarkInDispute(ctx, buy.ID)
		require.NoError(t, err)
		if favorBuyer {
			_, err = f.buys.MarkDisputeFavorBuyer(ctx, buy.ID)
		} else {
			_, err = f.buys.MarkDisputeFavorSeller(ctx, buy.ID)
		}
		require.NoError(t, err)
		return buy
	}
	sellerFavored := newDisputedBuy(buyer, false)
	buyerFavored := newDisputedBuy("SP2OTHERBUYER", true)

	require.NoError(t, tasks.NewDisputeSellerSettler(f.buys, f.ads, time.Minute).Execute(ctx))
	require.NoError(t, tasks.NewDisputeBuyerSettler(f.buys, f.prsvc, time.Minute).Execute(ctx))

	b1, err := f.buys.ByID(ctx, sellerFavored.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyDisputeResolvedSeller, b1.Status)

	b2, err := f.buys.ByID(ctx, buyerFavored.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyDisputeResolvedBuyer, b2.Status)

	// Seller-favored reservation came back; buyer-favored paid out instead.
	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99_500_000), adAfter.AvailableAmount)

	pr, err := f.requests.ActiveBySource(ctx, buyerFavored.ID)
	require.NoError(t, err)
	assert.Equal(t, "SP2OTHERBUYER", pr.ReceiverAddress)
	assert.True(t, pr.AttemptAutomaticPayment)
}

type countingPayer struct {
	paid []primitive.ObjectID
}

func (p *countingPayer) Pay(_ context.Context, id primitive.ObjectID) error {
	p.paid = append(p.paid, id)
	return nil
}

func TestAutomaticPayRetry_SweepsStaleTickets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stale, err := types.NewPaymentRequest(types.SourceBuy, primitive.NewObjectID(), buyer, 500_000, true)
	require.NoError(t, err)
	stale.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute).UnixMilli()
	require.NoError(t, f.requests.Insert(ctx, stale))

	fresh, err := types.NewPaymentRequest(types.SourceBuy, primitive.NewObjectID(), buyer, 500_000, true)
	require.NoError(t, err)
	require.NoError(t, f.requests.Insert(ctx, fresh))

	payer := &countingPayer{}
	require.NoError(t, tasks.NewAutomaticPayRetry(f.requests, payer, time.Minute).Execute(ctx))

	require.Len(t, payer.paid, 1)
	assert.Equal(t, stale.ID, payer.paid[0])
}

func TestPaymentRequestVerifier(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	makeBroadcast := func(txID string) *types.PaymentRequest {
		pr, err := types.NewPaymentRequest(types.SourceBuy, primitive.NewObjectID(), buyer, 500_000, true)
		require.NoError(t, err)
		require.NoError(t, f.requests.Insert(ctx, pr))
		_, err = f.requests.UpdateStatusAtomic(ctx, pr.ID,
			[]types.PaymentRequestStatus{types.PaymentPendingAutomatic}, types.PaymentProcessing)
		require.NoError(t, err)
		_, err = f.requests.MarkBroadcast(ctx, pr.ID, txID)
		require.NoError(t, err)
		return pr
	}
	confirmable := makeBroadcast("0xgood")
	doomed := makeBroadcast("0xbad")
	f.chain.statuses["0xgood"] = clients.TxSuccess
	f.chain.statuses["0xbad"] = clients.TxAbortByResponse

	task := tasks.NewPaymentRequestVerifier(f.requests, f.prsvc, f.chain, time.Minute)
	require.NoError(t, task.Execute(ctx))

	ok, err := f.requests.ByID(ctx, confirmable.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentConfirmed, ok.Status)

	bad, err := f.requests.ByID(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentFailed, bad.Status)

	// The failed payout got a manual replacement.
	replacement, err := f.requests.ActiveBySource(ctx, bad.SourceID)
	require.NoError(t, err)
	assert.False(t, replacement.AttemptAutomaticPayment)
	assert.Equal(t, types.PaymentWaiting, replacement.Status)
}

func TestAdvertisementTxVerifier(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ad, err := types.NewAdvertisement(seller, "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.ads.Insert(ctx, ad))
	_, err = f.ads.UpdateStatus(ctx, ad.ID, []types.AdvertisementStatus{types.AdDraft}, types.AdPending)
	require.NoError(t, err)

	deposit, err := types.NewAdvertisementDeposit(ad.ID, seller, "0xserialized")
	require.NoError(t, err)
	require.NoError(t, f.deposits.Insert(ctx, deposit))
	_, err = f.deposits.MarkFailed(ctx, deposit.ID)
	require.NoError(t, err)

	task := tasks.NewAdvertisementTxVerifier(f.ads, f.deposits, time.Minute)
	require.NoError(t, task.Execute(ctx))

	adAfter, err := f.ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdDepositFailed, adAfter.Status)
}
