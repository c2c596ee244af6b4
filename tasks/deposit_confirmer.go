package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// DepositConfirmer polls the chain for Pending deposits that already carry a
// transaction id and settles them: crediting the advertisement on success,
// failing the deposit and unwinding the advertisement on terminal statuses.
type DepositConfirmer struct {
	deposits iface.DepositStore
	ads      iface.AdvertisementStore
	chain    clients.ChainClient
	pub      *events.Publisher
	interval time.Duration
}

// NewDepositConfirmer wires the task.
func NewDepositConfirmer(deposits iface.DepositStore, ads iface.AdvertisementStore, chain clients.ChainClient, pub *events.Publisher, interval time.Duration) *DepositConfirmer {
	return &DepositConfirmer{deposits: deposits, ads: ads, chain: chain, pub: pub, interval: interval}
}

func (t *DepositConfirmer) Name() string { return "deposit-confirmer" }

func (t *DepositConfirmer) Interval() time.Duration { return t.interval }

func (t *DepositConfirmer) Execute(ctx context.Context) error {
	pending, err := t.deposits.PendingWithTx(ctx)
	if err != nil {
		return errors.Wrap(err, "could not list pending deposits")
	}
	for _, d := range pending {
		status, err := t.chain.VerifyStatus(ctx, d.BlockchainTxID)
		if err != nil {
			log.WithError(err).WithField("depositId", d.ID.Hex()).Warn("Could not verify deposit transaction, will retry")
			continue
		}
		switch {
		case status == clients.TxSuccess:
			t.confirm(ctx, d)
		case status.Terminal():
			t.fail(ctx, d, status)
		}
	}
	return nil
}

func (t *DepositConfirmer) confirm(ctx context.Context, d *types.AdvertisementDeposit) {
	confirmed, err := t.deposits.MarkConfirmed(ctx, d.ID)
	if err != nil {
		log.WithError(err).WithField("depositId", d.ID.Hex()).Error("Could not confirm deposit")
		return
	}
	if confirmed == nil {
		return
	}
	if _, err := t.ads.AddDeposit(ctx, d.AdvertisementID, d.Amount); err != nil {
		log.WithError(err).WithField("advertisementId", d.AdvertisementID.Hex()).Error("Could not credit deposit")
		return
	}
	if _, err := t.pub.Publish(ctx, events.EventAdvertisementDepositConfirmed,
		"DepositConfirmer::confirm", events.AggregateDeposit, d.ID.Hex(),
		map[string]interface{}{
			"deposit_id":       d.ID.Hex(),
			"advertisement_id": d.AdvertisementID.Hex(),
			"amount":           d.Amount,
		}); err != nil {
		log.WithError(err).Error("Could not publish deposit-confirmed event")
	}
	log.WithFields(logrus.Fields{
		"depositId": d.ID.Hex(),
		"amount":    d.Amount,
	}).Info("Deposit confirmed")
}

// fail settles a terminal on-chain status. A top-up failure unlocks the
// advertisement back to Ready; a first-deposit failure marks it
// DepositFailed.
func (t *DepositConfirmer) fail(ctx context.Context, d *types.AdvertisementDeposit, status clients.TxStatus) {
	failed, err := t.deposits.MarkFailed(ctx, d.ID)
	if err != nil {
		log.WithError(err).WithField("depositId", d.ID.Hex()).Error("Could not fail deposit")
		return
	}
	if failed == nil {
		return
	}
	if _, err := t.ads.UpdateStatus(ctx, d.AdvertisementID,
		[]types.AdvertisementStatus{types.AdProcessingDeposit}, types.AdReady); err != nil {
		log.WithError(err).Error("Could not unlock advertisement")
		return
	}
	if _, err := t.ads.UpdateStatus(ctx, d.AdvertisementID,
		[]types.AdvertisementStatus{types.AdDraft, types.AdPending}, types.AdDepositFailed); err != nil {
		log.WithError(err).Error("Could not mark advertisement deposit-failed")
	}
	log.WithFields(logrus.Fields{
		"depositId": d.ID.Hex(),
		"status":    status,
	}).Warn("Deposit failed on chain")
}
