package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// PaymentRequestVerifier watches Broadcast payment requests until their
// transaction lands: Success confirms them, a terminal status fails them and
// raises a manual replacement.
type PaymentRequestVerifier struct {
	requests iface.PaymentRequestStore
	payments *services.PaymentRequestService
	chain    clients.ChainClient
	interval time.Duration
}

// NewPaymentRequestVerifier wires the task.
func NewPaymentRequestVerifier(requests iface.PaymentRequestStore, payments *services.PaymentRequestService, chain clients.ChainClient, interval time.Duration) *PaymentRequestVerifier {
	return &PaymentRequestVerifier{requests: requests, payments: payments, chain: chain, interval: interval}
}

func (t *PaymentRequestVerifier) Name() string { return "payment-request-verifier" }

func (t *PaymentRequestVerifier) Interval() time.Duration { return t.interval }

func (t *PaymentRequestVerifier) Execute(ctx context.Context) error {
	broadcast, err := t.requests.ByStatus(ctx, types.PaymentBroadcast)
	if err != nil {
		return errors.Wrap(err, "could not list broadcast payment requests")
	}
	for _, pr := range broadcast {
		status, err := t.chain.VerifyStatus(ctx, pr.BlockchainTxID)
		if err != nil {
			log.WithError(err).WithField("paymentRequestId", pr.ID.Hex()).Warn("Could not verify payout transaction, will retry")
			continue
		}
		switch {
		case status == clients.TxSuccess:
			if _, err := t.payments.Confirm(ctx, pr.ID); err != nil {
				log.WithError(err).WithField("paymentRequestId", pr.ID.Hex()).Error("Could not confirm payment request")
			}
		case status.Terminal():
			reason := fmt.Sprintf("transaction %s ended %s", pr.BlockchainTxID, status)
			if _, err := t.payments.Fail(ctx, pr.ID, reason); err != nil {
				log.WithError(err).WithField("paymentRequestId", pr.ID.Hex()).Error("Could not fail payment request")
			}
		}
	}
	return nil
}
