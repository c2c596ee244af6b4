package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// AdvertisementFinisher closes Finishing advertisements once their last buy
// settles, paying the remaining escrow back to the seller.
type AdvertisementFinisher struct {
	ads      iface.AdvertisementStore
	buys     iface.BuyStore
	payments *services.PaymentRequestService
	pub      *events.Publisher
	interval time.Duration
}

// NewAdvertisementFinisher wires the task.
func NewAdvertisementFinisher(ads iface.AdvertisementStore, buys iface.BuyStore, payments *services.PaymentRequestService, pub *events.Publisher, interval time.Duration) *AdvertisementFinisher {
	return &AdvertisementFinisher{ads: ads, buys: buys, payments: payments, pub: pub, interval: interval}
}

func (t *AdvertisementFinisher) Name() string { return "advertisement-finisher" }

func (t *AdvertisementFinisher) Interval() time.Duration { return t.interval }

func (t *AdvertisementFinisher) Execute(ctx context.Context) error {
	finishing, err := t.ads.ByStatus(ctx, types.AdFinishing)
	if err != nil {
		return errors.Wrap(err, "could not list finishing advertisements")
	}
	for _, ad := range finishing {
		open, err := t.buys.CountNonFinalByAdvertisement(ctx, ad.ID)
		if err != nil {
			log.WithError(err).WithField("advertisementId", ad.ID.Hex()).Error("Could not count open buys")
			continue
		}
		if open > 0 {
			continue
		}
		closed, err := t.ads.UpdateStatus(ctx, ad.ID,
			[]types.AdvertisementStatus{types.AdFinishing}, types.AdClosed)
		if err != nil {
			log.WithError(err).WithField("advertisementId", ad.ID.Hex()).Error("Could not close advertisement")
			continue
		}
		if closed == nil {
			continue
		}
		if closed.AvailableAmount > 0 {
			if _, err := t.payments.Create(ctx, types.SourceAdvertisement, closed.ID,
				closed.SellerAddress, closed.AvailableAmount, true); err != nil {
				log.WithError(err).WithField("advertisementId", ad.ID.Hex()).Error("Could not create closing payout")
				continue
			}
		}
		if _, err := t.pub.Publish(ctx, events.EventAdvertisementClosed,
			"AdvertisementFinisher::Execute", events.AggregateAdvertisement, closed.ID.Hex(),
			map[string]interface{}{
				"advertisement_id": closed.ID.Hex(),
				"refund_amount":    closed.AvailableAmount,
			}); err != nil {
			log.WithError(err).Error("Could not publish advertisement-closed event")
		}
		log.WithFields(logrus.Fields{
			"advertisementId": closed.ID.Hex(),
			"refundAmount":    closed.AvailableAmount,
		}).Info("Advertisement closed")
	}
	return nil
}
