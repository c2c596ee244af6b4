package handlers_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/memory"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/handlers"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

const escrowAddress = "SP2ESCROW"

type fakeChain struct {
	depositResult *clients.DepositResult
	depositErr    error
	depositCalls  int
	transferErr   error
	transfers     []string
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

func (f *fakeChain) VerifyStatus(_ context.Context, _ string) (clients.TxStatus, error) {
	return clients.TxUnknown, nil
}

func (f *fakeChain) Deposit(_ context.Context, _, _ string) (*clients.DepositResult, error) {
	f.depositCalls++
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	return f.depositResult, nil
}

func (f *fakeChain) Transfer(_ context.Context, recipient string, _ int64) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, recipient)
	return "0xpayout", nil
}

func depositEvent(id primitive.ObjectID) *events.Event {
	return events.NewEvent(events.EventAdvertisementDepositCreated, "test", events.AggregateDeposit, id.Hex(),
		map[string]interface{}{"deposit_id": id.Hex()})
}

func TestDepositCreatedHandler_BroadcastsDraft(t *testing.T) {
	ctx := context.Background()
	ads := memory.NewAdvertisementStore()
	deposits := memory.NewDepositStore()
	chain := &fakeChain{depositResult: &clients.DepositResult{TxID: "0xdep", Amount: 100_000_000}}

	ad, err := types.NewAdvertisement("SP2SELLER", "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, ads.Insert(ctx, ad))
	deposit, err := types.NewAdvertisementDeposit(ad.ID, "SP2SELLER", "0xserialized")
	require.NoError(t, err)
	require.NoError(t, deposits.Insert(ctx, deposit))

	h := handlers.NewDepositCreatedHandler(deposits, ads, chain, escrowAddress)
	require.NoError(t, h.Handle(ctx, depositEvent(deposit.ID)))

	after, err := deposits.ByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DepositPending, after.Status)
	assert.Equal(t, "0xdep", after.BlockchainTxID)
	assert.Equal(t, int64(100_000_000), after.Amount)
}

func TestDepositCreatedHandler_FailureUnlocksTopUp(t *testing.T) {
	ctx := context.Background()
	ads := memory.NewAdvertisementStore()
	deposits := memory.NewDepositStore()
	chain := &fakeChain{depositErr: errors.New("node rejected transaction")}

	ad, err := types.NewAdvertisement("SP2SELLER", "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, ads.Insert(ctx, ad))
	_, err = ads.AddDeposit(ctx, ad.ID, 100_000_000)
	require.NoError(t, err)
	_, err = ads.LockForDeposit(ctx, ad.ID)
	require.NoError(t, err)

	deposit, err := types.NewAdvertisementDeposit(ad.ID, "SP2SELLER", "0xtopup")
	require.NoError(t, err)
	require.NoError(t, deposits.Insert(ctx, deposit))

	h := handlers.NewDepositCreatedHandler(deposits, ads, chain, escrowAddress)
	// Broadcast failure is terminal for the deposit, not a handler error.
	require.NoError(t, h.Handle(ctx, depositEvent(deposit.ID)))

	after, err := deposits.ByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DepositFailed, after.Status)

	adAfter, err := ads.ByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AdReady, adAfter.Status)
}

func TestDepositCreatedHandler_SkipsProcessedDeposit(t *testing.T) {
	ctx := context.Background()
	ads := memory.NewAdvertisementStore()
	deposits := memory.NewDepositStore()
	chain := &fakeChain{depositResult: &clients.DepositResult{TxID: "0xdep", Amount: 1}}

	ad, err := types.NewAdvertisement("SP2SELLER", "BTC", "BRL", types.PricingFixed, 500_000, 0, 1_000, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, ads.Insert(ctx, ad))
	deposit, err := types.NewAdvertisementDeposit(ad.ID, "SP2SELLER", "0xserialized")
	require.NoError(t, err)
	require.NoError(t, deposits.Insert(ctx, deposit))
	_, err = deposits.MarkPending(ctx, deposit.ID, "0xalready", 1)
	require.NoError(t, err)

	h := handlers.NewDepositCreatedHandler(deposits, ads, chain, escrowAddress)
	require.NoError(t, h.Handle(ctx, depositEvent(deposit.ID)))
	assert.Zero(t, chain.depositCalls)
}

func TestDepositCreatedHandler_MalformedEvent(t *testing.T) {
	h := handlers.NewDepositCreatedHandler(memory.NewDepositStore(), memory.NewAdvertisementStore(), &fakeChain{}, escrowAddress)
	ev := events.NewEvent(events.EventAdvertisementDepositCreated, "test", "", "", map[string]interface{}{})
	assert.Error(t, h.Handle(context.Background(), ev))
}

func newPaymentFixture(t *testing.T, automatic bool) (*memory.PaymentRequestStore, *services.PaymentRequestService, *types.PaymentRequest) {
	t.Helper()
	requests := memory.NewPaymentRequestStore()
	pub := events.NewPublisher(memory.NewEventStore(), events.NewRegistry())
	svc := services.NewPaymentRequestService(requests, pub)
	pr, err := types.NewPaymentRequest(types.SourceBuy, primitive.NewObjectID(), "SP2BUYER", 500_000, automatic)
	require.NoError(t, err)
	require.NoError(t, requests.Insert(context.Background(), pr))
	return requests, svc, pr
}

func TestAutomaticPayHandler_BroadcastsClaimedTicket(t *testing.T) {
	ctx := context.Background()
	requests, svc, pr := newPaymentFixture(t, true)
	chain := &fakeChain{}

	h := handlers.NewAutomaticPayHandler(svc, chain)
	ev := events.NewEvent(events.EventPaymentRequestCreated, "test", events.AggregatePayment, pr.ID.Hex(),
		map[string]interface{}{
			"payment_request_id":        pr.ID.Hex(),
			"attempt_automatic_payment": true,
		})
	require.NoError(t, h.Handle(ctx, ev))

	after, err := requests.ByID(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentBroadcast, after.Status)
	assert.Equal(t, "0xpayout", after.BlockchainTxID)
	assert.Equal(t, []string{"SP2BUYER"}, chain.transfers)
}

func TestAutomaticPayHandler_SkipsManualTickets(t *testing.T) {
	ctx := context.Background()
	requests, svc, pr := newPaymentFixture(t, false)
	chain := &fakeChain{}

	h := handlers.NewAutomaticPayHandler(svc, chain)
	ev := events.NewEvent(events.EventPaymentRequestCreated, "test", events.AggregatePayment, pr.ID.Hex(),
		map[string]interface{}{
			"payment_request_id":        pr.ID.Hex(),
			"attempt_automatic_payment": false,
		})
	require.NoError(t, h.Handle(ctx, ev))

	after, err := requests.ByID(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentWaiting, after.Status)
	assert.Empty(t, chain.transfers)
}

func TestAutomaticPayHandler_LostClaimIsNoOp(t *testing.T) {
	ctx := context.Background()
	requests, svc, pr := newPaymentFixture(t, true)
	chain := &fakeChain{}
	_, err := requests.UpdateStatusAtomic(ctx, pr.ID,
		[]types.PaymentRequestStatus{types.PaymentPendingAutomatic}, types.PaymentProcessing)
	require.NoError(t, err)

	h := handlers.NewAutomaticPayHandler(svc, chain)
	require.NoError(t, h.Pay(ctx, pr.ID))
	assert.Empty(t, chain.transfers)
}

func TestAutomaticPayHandler_TransferFailureRaisesManual(t *testing.T) {
	ctx := context.Background()
	requests, svc, pr := newPaymentFixture(t, true)
	chain := &fakeChain{transferErr: errors.New("escrow contract reverted")}

	h := handlers.NewAutomaticPayHandler(svc, chain)
	require.NoError(t, h.Pay(ctx, pr.ID))

	after, err := requests.ByID(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentFailed, after.Status)
	assert.Contains(t, after.FailureReason, "escrow contract reverted")

	replacement, err := requests.ActiveBySource(ctx, pr.SourceID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentWaiting, replacement.Status)
	assert.False(t, replacement.AttemptAutomaticPayment)
	assert.Equal(t, pr.Amount, replacement.Amount)
}

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentMail
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func TestMailHandler(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	h := handlers.NewMailHandler(sender)

	assert.True(t, h.CanHandle(events.EventInviteCreated))
	assert.False(t, h.CanHandle(events.EventBuyCreated))

	ev := events.NewEvent(events.EventInviteCreated, "test", events.AggregateInvite, "INV1",
		map[string]interface{}{"code": "INV1", "email": "seller@example.com"})
	require.NoError(t, h.Handle(ctx, ev))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "seller@example.com", sender.sent[0].to)
	assert.True(t, strings.Contains(sender.sent[0].body, "INV1"))

	// Invites without an email are handed out off-channel.
	noMail := events.NewEvent(events.EventInviteCreated, "test", events.AggregateInvite, "INV2",
		map[string]interface{}{"code": "INV2"})
	require.NoError(t, h.Handle(ctx, noMail))
	assert.Len(t, sender.sent, 1)
}

type fakeBoard struct {
	titles []string
	descs  []string
}

func (f *fakeBoard) CreateCard(_ context.Context, title, description string) error {
	f.titles = append(f.titles, title)
	f.descs = append(f.descs, description)
	return nil
}

func TestTrelloHandler(t *testing.T) {
	ctx := context.Background()
	board := &fakeBoard{}
	h := handlers.NewTrelloHandler(board)

	assert.True(t, h.CanHandle(events.EventBuyInDispute))
	assert.True(t, h.CanHandle(events.EventPaymentRequestFailed))
	assert.False(t, h.CanHandle(events.EventBuyCreated))

	dispute := events.NewEvent(events.EventBuyInDispute, "test", events.AggregateBuy, "abc",
		map[string]interface{}{"buy_id": "abc", "reason": "2 receipts match the confirmation code"})
	require.NoError(t, h.Handle(ctx, dispute))

	failed := events.NewEvent(events.EventPaymentRequestFailed, "test", events.AggregatePayment, "def",
		map[string]interface{}{"payment_request_id": "def", "reason": "escrow contract reverted"})
	require.NoError(t, h.Handle(ctx, failed))

	require.Len(t, board.titles, 2)
	assert.Equal(t, "Disputa: compra abc", board.titles[0])
	assert.Equal(t, "Pagamento manual: def", board.titles[1])
	assert.Equal(t, "2 receipts match the confirmation code", board.descs[0])
}
