package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/pricing"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// BuyService runs the purchase lifecycle: reservation, cancellation,
// mark-as-paid and dispute arbitration. Payment verification lives in the
// reconciler task.
type BuyService struct {
	ads       iface.AdvertisementStore
	buys      iface.BuyStore
	adsvc     *AdvertisementService
	quoter    pricing.Source
	publisher *events.Publisher
}

// NewBuyService wires the service. quoter is consulted for dynamic pricing
// only.
func NewBuyService(ads iface.AdvertisementStore, buys iface.BuyStore, adsvc *AdvertisementService, quoter pricing.Source, publisher *events.Publisher) *BuyService {
	return &BuyService{ads: ads, buys: buys, adsvc: adsvc, quoter: quoter, publisher: publisher}
}

// Start opens a Pending buy against the advertisement, reserving the token
// amount bought at the validated price. The reservation is refunded if
// anything after it fails.
func (s *BuyService) Start(ctx context.Context, adID primitive.ObjectID, buyer string, payValue, quotedPrice int64) (*types.Buy, error) {
	if payValue <= 0 || quotedPrice <= 0 {
		return nil, errors.New("pay value and quoted price must be positive")
	}
	ad, err := s.ads.ByID(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.Status != types.AdReady {
		return nil, stateConflict(ad.Status)
	}
	if payValue < ad.MinAmount || payValue > ad.MaxAmount {
		return nil, errors.Errorf("pay value outside advertisement bounds [%d, %d]", ad.MinAmount, ad.MaxAmount)
	}

	ad, err = s.adsvc.RefreshPixKey(ctx, ad)
	if err != nil {
		return nil, err
	}

	var market int64
	if ad.PricingMode == types.PricingDynamic {
		market, err = s.quoter.MarketPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not obtain market price")
		}
	}
	if err := pricing.ValidatePrice(ad, quotedPrice, market); err != nil {
		return nil, err
	}
	amount, err := pricing.ComputeAmount(payValue, quotedPrice)
	if err != nil {
		return nil, err
	}

	reserved, err := s.ads.Reserve(ctx, adID, amount)
	if err != nil {
		return nil, err
	}
	if reserved == nil {
		return nil, errors.Wrap(ErrStateConflict, "insufficient available amount")
	}

	buy, err := types.NewBuy(adID, buyer, amount, quotedPrice, 0, payValue, ad.PixKey)
	if err != nil {
		s.refund(ctx, adID, amount)
		return nil, err
	}
	if err := s.buys.Insert(ctx, buy); err != nil {
		s.refund(ctx, adID, amount)
		if errors.Is(err, iface.ErrDuplicateKey) {
			return nil, errors.Wrap(ErrStateConflict, "buyer already has an open buy on this advertisement")
		}
		return nil, err
	}
	if _, err := s.publisher.Publish(ctx, events.EventBuyCreated,
		"BuyService::Start", events.AggregateBuy, buy.ID.Hex(),
		map[string]interface{}{
			"buy_id":           buy.ID.Hex(),
			"advertisement_id": adID.Hex(),
			"pay_value":        payValue,
		}); err != nil {
		log.WithError(err).Error("Could not publish buy-created event")
	}
	log.WithFields(logrus.Fields{
		"buyId":           buy.ID.Hex(),
		"advertisementId": adID.Hex(),
		"amount":          amount,
	}).Info("Buy started")
	return buy, nil
}

func (s *BuyService) refund(ctx context.Context, adID primitive.ObjectID, amount int64) {
	if _, err := s.ads.Refund(ctx, adID, amount); err != nil {
		log.WithError(err).WithField("advertisementId", adID.Hex()).Error("Could not refund reservation")
	}
}

// ByID loads a buy.
func (s *BuyService) ByID(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.buys.ByID(ctx, id)
}

// Cancel lets the buyer abandon a Pending buy, returning the reservation.
func (s *BuyService) Cancel(ctx context.Context, id primitive.ObjectID, buyer string) (*types.Buy, error) {
	buy, err := s.buys.Cancel(ctx, id, buyer)
	if err != nil {
		return nil, err
	}
	if buy == nil {
		current, err := s.buys.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.AddressBuy != buyer {
			return nil, ErrUnauthorized
		}
		return nil, stateConflict(current.Status)
	}
	s.refund(ctx, buy.AdvertisementID, buy.Amount)
	return buy, nil
}

// MarkPaid records the buyer's claim that the PIX transfer went out,
// optionally with the code the buyer read off their banking app.
func (s *BuyService) MarkPaid(ctx context.Context, id primitive.ObjectID, signer, confirmationCode string) (*types.Buy, error) {
	current, err := s.buys.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.AddressBuy != signer {
		return nil, ErrUnauthorized
	}
	buy, err := s.buys.MarkPaid(ctx, id, confirmationCode)
	if err != nil {
		return nil, err
	}
	if buy == nil {
		return nil, stateConflict(current.Status)
	}
	if _, err := s.publisher.Publish(ctx, events.EventBuyPaid,
		"BuyService::MarkPaid", events.AggregateBuy, buy.ID.Hex(),
		map[string]interface{}{"buy_id": buy.ID.Hex()}); err != nil {
		log.WithError(err).Error("Could not publish buy-paid event")
	}
	return buy, nil
}

// ResolveDispute is the manager's arbitration call: it moves an InDispute
// buy to the chosen favor status. Settlement completes in the dispute tasks.
func (s *BuyService) ResolveDispute(ctx context.Context, id primitive.ObjectID, favorBuyer bool) (*types.Buy, error) {
	var buy *types.Buy
	var err error
	if favorBuyer {
		buy, err = s.buys.MarkDisputeFavorBuyer(ctx, id)
	} else {
		buy, err = s.buys.MarkDisputeFavorSeller(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if buy == nil {
		current, err := s.buys.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, stateConflict(current.Status)
	}
	log.WithFields(logrus.Fields{
		"buyId":      buy.ID.Hex(),
		"favorBuyer": favorBuyer,
	}).Info("Dispute resolved")
	return buy, nil
}
