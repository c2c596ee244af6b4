package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/services"
)

// AutomaticPayHandler drives automatic payouts off PaymentRequestCreated.
// The storage-level claim into Processing is the only admission gate, so the
// handler and the crash-recovery sweep can both call Pay without risking a
// double broadcast.
type AutomaticPayHandler struct {
	payments *services.PaymentRequestService
	chain    clients.ChainClient
}

// NewAutomaticPayHandler wires the handler.
func NewAutomaticPayHandler(payments *services.PaymentRequestService, chain clients.ChainClient) *AutomaticPayHandler {
	return &AutomaticPayHandler{payments: payments, chain: chain}
}

func (h *AutomaticPayHandler) Name() string { return "AutomaticPayHandler" }

func (h *AutomaticPayHandler) CanHandle(eventName string) bool {
	return eventName == events.EventPaymentRequestCreated
}

func (h *AutomaticPayHandler) Handle(ctx context.Context, ev *events.Event) error {
	if automatic, ok := ev.Data["attempt_automatic_payment"].(bool); ok && !automatic {
		return nil
	}
	id, err := objectIDField(ev, "payment_request_id")
	if err != nil {
		return err
	}
	return h.Pay(ctx, id)
}

// Pay claims the ticket and broadcasts the transfer. A lost claim is a
// silent no-op; a transfer failure fails the ticket and raises the manual
// replacement, which is not a handler error.
func (h *AutomaticPayHandler) Pay(ctx context.Context, id primitive.ObjectID) error {
	claimed, err := h.payments.Claim(ctx, id)
	if err != nil {
		return errors.Wrap(err, "could not claim payment request")
	}
	if claimed == nil {
		return nil
	}
	txID, err := h.chain.Transfer(ctx, claimed.ReceiverAddress, claimed.Amount)
	if err != nil {
		log.WithError(err).WithField("paymentRequestId", id.Hex()).Warn("Automatic transfer failed")
		if _, failErr := h.payments.Fail(ctx, id, err.Error()); failErr != nil {
			return errors.Wrap(failErr, "could not fail payment request")
		}
		return nil
	}
	if _, err := h.payments.MarkBroadcast(ctx, id, txID); err != nil {
		return errors.Wrap(err, "could not record broadcast")
	}
	log.WithFields(logrus.Fields{
		"paymentRequestId": id.Hex(),
		"txId":             txID,
	}).Info("Automatic payout broadcast")
	return nil
}
