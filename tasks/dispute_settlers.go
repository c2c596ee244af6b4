package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// DisputeSellerSettler completes disputes decided for the seller: the buy
// resolves and its reservation returns to the advertisement.
type DisputeSellerSettler struct {
	buys     iface.BuyStore
	ads      iface.AdvertisementStore
	interval time.Duration
}

// NewDisputeSellerSettler wires the task.
func NewDisputeSellerSettler(buys iface.BuyStore, ads iface.AdvertisementStore, interval time.Duration) *DisputeSellerSettler {
	return &DisputeSellerSettler{buys: buys, ads: ads, interval: interval}
}

func (t *DisputeSellerSettler) Name() string { return "dispute-seller-settler" }

func (t *DisputeSellerSettler) Interval() time.Duration { return t.interval }

func (t *DisputeSellerSettler) Execute(ctx context.Context) error {
	buys, err := t.buys.ByStatus(ctx, types.BuyDisputeFavorSeller)
	if err != nil {
		return errors.Wrap(err, "could not list seller-favored disputes")
	}
	for _, buy := range buys {
		resolved, err := t.buys.MarkDisputeResolvedSeller(ctx, buy.ID)
		if err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not resolve dispute")
			continue
		}
		if resolved == nil {
			continue
		}
		if _, err := t.ads.Refund(ctx, resolved.AdvertisementID, resolved.Amount); err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not refund disputed reservation")
			continue
		}
		log.WithField("buyId", buy.ID.Hex()).Info("Dispute settled for seller")
	}
	return nil
}

// DisputeBuyerSettler completes disputes decided for the buyer: the held
// crypto pays out to the buyer through a PaymentRequest.
type DisputeBuyerSettler struct {
	buys     iface.BuyStore
	payments *services.PaymentRequestService
	interval time.Duration
}

// NewDisputeBuyerSettler wires the task.
func NewDisputeBuyerSettler(buys iface.BuyStore, payments *services.PaymentRequestService, interval time.Duration) *DisputeBuyerSettler {
	return &DisputeBuyerSettler{buys: buys, payments: payments, interval: interval}
}

func (t *DisputeBuyerSettler) Name() string { return "dispute-buyer-settler" }

func (t *DisputeBuyerSettler) Interval() time.Duration { return t.interval }

func (t *DisputeBuyerSettler) Execute(ctx context.Context) error {
	buys, err := t.buys.ByStatus(ctx, types.BuyDisputeFavorBuyer)
	if err != nil {
		return errors.Wrap(err, "could not list buyer-favored disputes")
	}
	for _, buy := range buys {
		// The payout ticket goes out before the status flips; Create is
		// idempotent per source, so a crash between the two repeats safely.
		if _, err := t.payments.Create(ctx, types.SourceBuy, buy.ID, buy.AddressBuy, buy.Amount, true); err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not create dispute payout")
			continue
		}
		if _, err := t.buys.MarkDisputeResolvedBuyer(ctx, buy.ID); err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not resolve dispute")
			continue
		}
		log.WithField("buyId", buy.ID.Hex()).Info("Dispute settled for buyer")
	}
	return nil
}
