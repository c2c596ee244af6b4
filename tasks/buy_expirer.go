package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
)

// BuyExpirer sweeps Pending buys past their expiry, returning each
// reservation to the parent advertisement.
type BuyExpirer struct {
	buys     iface.BuyStore
	ads      iface.AdvertisementStore
	interval time.Duration
}

// NewBuyExpirer wires the task.
func NewBuyExpirer(buys iface.BuyStore, ads iface.AdvertisementStore, interval time.Duration) *BuyExpirer {
	return &BuyExpirer{buys: buys, ads: ads, interval: interval}
}

func (t *BuyExpirer) Name() string { return "buy-expirer" }

func (t *BuyExpirer) Interval() time.Duration { return t.interval }

func (t *BuyExpirer) Execute(ctx context.Context) error {
	now := time.Now().UTC().UnixMilli()
	expired, err := t.buys.ExpiredPending(ctx, now)
	if err != nil {
		return errors.Wrap(err, "could not list expired buys")
	}
	for _, buy := range expired {
		moved, err := t.buys.Expire(ctx, buy.ID, now)
		if err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not expire buy")
			continue
		}
		if moved == nil {
			// Another worker or a late payment got there first.
			continue
		}
		if _, err := t.ads.Refund(ctx, moved.AdvertisementID, moved.Amount); err != nil {
			log.WithError(err).WithField("buyId", buy.ID.Hex()).Error("Could not refund expired reservation")
			continue
		}
		log.WithField("buyId", buy.ID.Hex()).Info("Buy expired")
	}
	return nil
}
