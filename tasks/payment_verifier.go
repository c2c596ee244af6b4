package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// PaymentVerifier reconciles Paid buys against the seller's PIX receipts.
// Exactly one receipt matching both amount and normalized code confirms the
// payment and triggers the automatic payout; any ambiguity goes to dispute.
type PaymentVerifier struct {
	buys     iface.BuyStore
	ads      iface.AdvertisementStore
	creds    iface.BankCredentialStore
	adsvc    *services.AdvertisementService
	bank     clients.BankClient
	payments *services.PaymentRequestService
	pub      *events.Publisher
	interval time.Duration
}

// NewPaymentVerifier wires the reconciler.
func NewPaymentVerifier(buys iface.BuyStore, ads iface.AdvertisementStore, creds iface.BankCredentialStore, adsvc *services.AdvertisementService, bank clients.BankClient, payments *services.PaymentRequestService, pub *events.Publisher, interval time.Duration) *PaymentVerifier {
	return &PaymentVerifier{
		buys: buys, ads: ads, creds: creds, adsvc: adsvc,
		bank: bank, payments: payments, pub: pub, interval: interval,
	}
}

func (t *PaymentVerifier) Name() string { return "payment-verifier" }

func (t *PaymentVerifier) Interval() time.Duration { return t.interval }

func (t *PaymentVerifier) Execute(ctx context.Context) error {
	buys, err := t.buys.ByStatus(ctx, types.BuyPaid)
	if err != nil {
		return errors.Wrap(err, "could not list paid buys")
	}
	for _, buy := range buys {
		if err := t.verify(ctx, buy); err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Warn("Payment verification failed, will retry")
		}
	}
	return nil
}

// formatCents renders fiat cents the way the bank reports valor: "2500"
// becomes "25.00".
func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// verify runs one buy through the decision table. A returned error means the
// bank could not be queried; the buy is retried next tick without counting
// an attempt.
func (t *PaymentVerifier) verify(ctx context.Context, buy *types.Buy) error {
	ad, err := t.ads.ByID(ctx, buy.AdvertisementID)
	if err != nil {
		return errors.Wrap(err, "could not load advertisement")
	}
	cred, err := t.creds.LatestBySeller(ctx, ad.SellerAddress)
	if err != nil {
		return errors.Wrap(err, "could not load bank credentials")
	}
	auth, err := t.adsvc.Auth(ctx, cred)
	if err != nil {
		return err
	}
	start := time.UnixMilli(buy.CreatedAt).UTC()
	end := time.UnixMilli(buy.UpdatedAt).UTC()
	receipts, err := t.bank.QueryPix(ctx, *auth, start, end)
	if err != nil {
		return errors.Wrap(err, "could not query PIX receipts")
	}

	wanted := formatCents(buy.PayValue)
	var amountMatches []clients.PixReceipt
	for _, r := range receipts {
		if r.Valor == wanted {
			amountMatches = append(amountMatches, r)
		}
	}
	if err := t.buys.IncrementVerificationAttempts(ctx, buy.ID); err != nil {
		log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not count verification attempt")
	}

	// The payment may simply not have settled yet.
	if len(amountMatches) == 0 {
		return nil
	}

	if buy.PixConfirmationCode == "" {
		// Money arrived but nobody can prove which payer sent it.
		return t.dispute(ctx, buy, "receipt without confirmation code")
	}

	var suffixHits []clients.PixReceipt
	for _, r := range amountMatches {
		if suffixMatches(r.EndToEndID, buy.PixConfirmationCode) {
			suffixHits = append(suffixHits, r)
		}
	}
	if len(suffixHits) != 1 {
		return t.dispute(ctx, buy, fmt.Sprintf("%d receipts match the confirmation code", len(suffixHits)))
	}

	confirmed, err := t.buys.MarkPaymentConfirmed(ctx, buy.ID, suffixHits[0].EndToEndID)
	if err != nil {
		return err
	}
	if confirmed == nil {
		return nil
	}
	if _, err := t.payments.Create(ctx, types.SourceBuy, buy.ID, buy.AddressBuy, buy.Amount, true); err != nil {
		return errors.Wrap(err, "could not create payout request")
	}
	if _, err := t.pub.Publish(ctx, events.EventBuyPaymentConfirmed,
		"PaymentVerifier::verify", events.AggregateBuy, buy.ID.Hex(),
		map[string]interface{}{
			"buy_id":            buy.ID.Hex(),
			"pix_end_to_end_id": suffixHits[0].EndToEndID,
		}); err != nil {
		log.WithError(err).Error("Could not publish payment-confirmed event")
	}
	log.WithFields(logrus.Fields{
		"buyId":      buy.ID.Hex(),
		"endToEndId": suffixHits[0].EndToEndID,
	}).Info("PIX payment confirmed")
	return nil
}

func (t *PaymentVerifier) dispute(ctx context.Context, buy *types.Buy, reason string) error {
	moved, err := t.buys.MarkInDispute(ctx, buy.ID)
	if err != nil {
		return err
	}
	if moved == nil {
		return nil
	}
	if _, err := t.pub.Publish(ctx, events.EventBuyInDispute,
		"PaymentVerifier::dispute", events.AggregateBuy, buy.ID.Hex(),
		map[string]interface{}{
			"buy_id": buy.ID.Hex(),
			"reason": reason,
		}); err != nil {
		log.WithError(err).Error("Could not publish dispute event")
	}
	log.WithFields(logrus.Fields{
		"buyId":  buy.ID.Hex(),
		"reason": reason,
	}).Warn("Buy moved to dispute")
	return nil
}
