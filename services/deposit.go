package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// DepositService records escrow funding transactions. The actual broadcast
// happens asynchronously in the deposit-created handler; confirmation in the
// deposit confirmer task.
type DepositService struct {
	ads       iface.AdvertisementStore
	deposits  iface.DepositStore
	publisher *events.Publisher
}

// NewDepositService wires the service.
func NewDepositService(ads iface.AdvertisementStore, deposits iface.DepositStore, publisher *events.Publisher) *DepositService {
	return &DepositService{ads: ads, deposits: deposits, publisher: publisher}
}

// Create records a Draft deposit and publishes AdvertisementDepositCreated.
// A first deposit moves the advertisement Draft to Pending; a top-up locks a
// Ready advertisement into ProcessingDeposit so only one deposit is in
// flight per advertisement.
func (s *DepositService) Create(ctx context.Context, adID primitive.ObjectID, seller, serializedTx string) (*types.AdvertisementDeposit, error) {
	ad, err := s.ads.ByID(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.SellerAddress != seller {
		return nil, ErrUnauthorized
	}
	switch ad.Status {
	case types.AdDraft:
		moved, err := s.ads.UpdateStatus(ctx, adID, []types.AdvertisementStatus{types.AdDraft}, types.AdPending)
		if err != nil {
			return nil, err
		}
		if moved == nil {
			return nil, stateConflict(ad.Status)
		}
	case types.AdReady:
		locked, err := s.ads.LockForDeposit(ctx, adID)
		if err != nil {
			return nil, err
		}
		if locked == nil {
			return nil, stateConflict(ad.Status)
		}
	default:
		return nil, stateConflict(ad.Status)
	}

	deposit, err := types.NewAdvertisementDeposit(adID, seller, serializedTx)
	if err != nil {
		return nil, err
	}
	if err := s.deposits.Insert(ctx, deposit); err != nil {
		return nil, errors.Wrap(err, "could not insert deposit")
	}
	_, err = s.publisher.Publish(ctx, events.EventAdvertisementDepositCreated,
		"DepositService::Create", events.AggregateDeposit, deposit.ID.Hex(),
		map[string]interface{}{
			"deposit_id":       deposit.ID.Hex(),
			"advertisement_id": adID.Hex(),
		})
	if err != nil {
		return nil, errors.Wrap(err, "could not publish deposit event")
	}
	log.WithFields(logrus.Fields{
		"depositId":       deposit.ID.Hex(),
		"advertisementId": adID.Hex(),
	}).Info("Deposit recorded")
	return deposit, nil
}

// ByAdvertisement lists an advertisement's deposits.
func (s *DepositService) ByAdvertisement(ctx context.Context, adID primitive.ObjectID) ([]*types.AdvertisementDeposit, error) {
	return s.deposits.ByAdvertisement(ctx, adID)
}
