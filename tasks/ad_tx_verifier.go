package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// AdvertisementTxVerifier reconciles Pending advertisements whose funding
// fell through: when every recorded deposit has failed, the advertisement
// moves to DepositFailed instead of waiting forever.
type AdvertisementTxVerifier struct {
	ads      iface.AdvertisementStore
	deposits iface.DepositStore
	interval time.Duration
}

// NewAdvertisementTxVerifier wires the task.
func NewAdvertisementTxVerifier(ads iface.AdvertisementStore, deposits iface.DepositStore, interval time.Duration) *AdvertisementTxVerifier {
	return &AdvertisementTxVerifier{ads: ads, deposits: deposits, interval: interval}
}

func (t *AdvertisementTxVerifier) Name() string { return "advertisement-tx-verifier" }

func (t *AdvertisementTxVerifier) Interval() time.Duration { return t.interval }

func (t *AdvertisementTxVerifier) Execute(ctx context.Context) error {
	pending, err := t.ads.ByStatus(ctx, types.AdPending)
	if err != nil {
		return errors.Wrap(err, "could not list pending advertisements")
	}
	for _, ad := range pending {
		deposits, err := t.deposits.ByAdvertisement(ctx, ad.ID)
		if err != nil {
			log.WithError(err).WithField("advertisementId", ad.ID.Hex()).Error("Could not list deposits")
			continue
		}
		if len(deposits) == 0 {
			continue
		}
		allFailed := true
		for _, d := range deposits {
			if d.Status != types.DepositFailed {
				allFailed = false
				break
			}
		}
		if !allFailed {
			continue
		}
		if _, err := t.ads.UpdateStatus(ctx, ad.ID,
			[]types.AdvertisementStatus{types.AdPending}, types.AdDepositFailed); err != nil {
			log.WithError(err).WithField("advertisementId", ad.ID.Hex()).Error("Could not mark advertisement deposit-failed")
			continue
		}
		log.WithField("advertisementId", ad.ID.Hex()).Warn("Advertisement funding failed")
	}
	return nil
}
