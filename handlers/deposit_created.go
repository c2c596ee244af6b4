// Package handlers implements the event consumers registered on the
// dispatcher: deposit broadcasting, automatic payouts and the mail and
// Trello notification sinks.
package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

var log = logrus.WithField("prefix", "handlers")

// objectIDField pulls a hex ObjectID out of event data.
func objectIDField(ev *events.Event, key string) (primitive.ObjectID, error) {
	raw, ok := ev.Data[key].(string)
	if !ok {
		return primitive.NilObjectID, errors.Errorf("event %s carries no %s", ev.EventName, key)
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(err, "malformed %s", key)
	}
	return id, nil
}

// DepositCreatedHandler broadcasts a Draft deposit's escrow transaction.
// Broadcast failure is terminal for the deposit and unlocks the parent
// advertisement; it is not a handler error, so the consumer is not retried.
type DepositCreatedHandler struct {
	deposits iface.DepositStore
	ads      iface.AdvertisementStore
	chain    clients.ChainClient
	escrow   string
}

// NewDepositCreatedHandler wires the handler. escrow is the platform's
// escrow address deposits must pay into.
func NewDepositCreatedHandler(deposits iface.DepositStore, ads iface.AdvertisementStore, chain clients.ChainClient, escrow string) *DepositCreatedHandler {
	return &DepositCreatedHandler{deposits: deposits, ads: ads, chain: chain, escrow: escrow}
}

func (h *DepositCreatedHandler) Name() string { return "DepositCreatedHandler" }

func (h *DepositCreatedHandler) CanHandle(eventName string) bool {
	return eventName == events.EventAdvertisementDepositCreated
}

func (h *DepositCreatedHandler) Handle(ctx context.Context, ev *events.Event) error {
	depositID, err := objectIDField(ev, "deposit_id")
	if err != nil {
		return err
	}
	deposit, err := h.deposits.ByID(ctx, depositID)
	if err != nil {
		return errors.Wrap(err, "could not load deposit")
	}
	if deposit.Status != types.DepositDraft {
		log.WithFields(logrus.Fields{
			"depositId": depositID.Hex(),
			"status":    deposit.Status,
		}).Info("Deposit already processed, skipping broadcast")
		return nil
	}
	result, err := h.chain.Deposit(ctx, deposit.SerializedTransaction, h.escrow)
	if err != nil {
		h.failBroadcast(ctx, deposit, err)
		return nil
	}
	if _, err := h.deposits.MarkPending(ctx, depositID, result.TxID, result.Amount); err != nil {
		return errors.Wrap(err, "could not record broadcast")
	}
	log.WithFields(logrus.Fields{
		"depositId": depositID.Hex(),
		"txId":      result.TxID,
		"amount":    result.Amount,
	}).Info("Deposit broadcast")
	return nil
}

func (h *DepositCreatedHandler) failBroadcast(ctx context.Context, deposit *types.AdvertisementDeposit, cause error) {
	log.WithError(cause).WithField("depositId", deposit.ID.Hex()).Warn("Deposit broadcast failed")
	if _, err := h.deposits.MarkFailed(ctx, deposit.ID); err != nil {
		log.WithError(err).WithField("depositId", deposit.ID.Hex()).Error("Could not fail deposit")
		return
	}
	// A top-up failure unlocks the advertisement; a first-deposit failure
	// is settled by the advertisement-tx-verifier sweep.
	if _, err := h.ads.UpdateStatus(ctx, deposit.AdvertisementID,
		[]types.AdvertisementStatus{types.AdProcessingDeposit}, types.AdReady); err != nil {
		log.WithError(err).WithField("advertisementId", deposit.AdvertisementID.Hex()).Error("Could not unlock advertisement")
	}
}
