package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BuyTTL is how long a buyer has to pay before the reservation expires.
const BuyTTL = 15 * time.Minute

// BuyStatus enumerates the purchase lifecycle.
type BuyStatus string

const (
	BuyPending                BuyStatus = "PENDING"
	BuyPaid                   BuyStatus = "PAID"
	BuyPaymentConfirmed       BuyStatus = "PAYMENT_CONFIRMED"
	BuyCancelled              BuyStatus = "CANCELLED"
	BuyExpired                BuyStatus = "EXPIRED"
	BuyInDispute              BuyStatus = "IN_DISPUTE"
	BuyDisputeFavorBuyer      BuyStatus = "DISPUTE_FAVOR_BUYER"
	BuyDisputeFavorSeller     BuyStatus = "DISPUTE_FAVOR_SELLER"
	BuyDisputeResolvedBuyer   BuyStatus = "DISPUTE_RESOLVED_BUYER"
	BuyDisputeResolvedSeller  BuyStatus = "DISPUTE_RESOLVED_SELLER"
)

var buyTransitions = map[BuyStatus][]BuyStatus{
	BuyPending:            {BuyPaid, BuyCancelled, BuyExpired, BuyInDispute},
	BuyPaid:               {BuyPaymentConfirmed, BuyCancelled, BuyInDispute},
	BuyInDispute:          {BuyDisputeFavorBuyer, BuyDisputeFavorSeller, BuyDisputeResolvedSeller, BuyCancelled},
	BuyDisputeFavorBuyer:  {BuyDisputeResolvedBuyer},
	BuyDisputeFavorSeller: {BuyDisputeResolvedSeller},
}

// CanTransitionTo reports whether the lattice permits moving to the target.
func (s BuyStatus) CanTransitionTo(to BuyStatus) bool {
	for _, t := range buyTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Final reports whether the status counts toward the one-non-final-buy
// constraint. Final buys no longer hold a reservation.
func (s BuyStatus) Final() bool {
	switch s {
	case BuyCancelled, BuyExpired, BuyPaymentConfirmed, BuyDisputeResolvedBuyer, BuyDisputeResolvedSeller:
		return true
	}
	return false
}

// Buy is one purchase against an advertisement. Amount is the crypto
// reservation taken from the parent's available amount; PayValue is the fiat
// cents the buyer owes via PIX.
type Buy struct {
	ID                      primitive.ObjectID `bson:"_id,omitempty"`
	AdvertisementID         primitive.ObjectID `bson:"advertisement_id"`
	Amount                  int64              `bson:"amount"`    // minimal units
	Price                   int64              `bson:"price"`     // cents per full unit
	Fee                     int64              `bson:"fee"`       // cents
	PayValue                int64              `bson:"pay_value"` // cents
	AddressBuy              string             `bson:"address_buy"`
	PixKey                  string             `bson:"pix_key"`
	PixConfirmationCode     string             `bson:"pix_confirmation_code,omitempty"`
	PixEndToEndID           string             `bson:"pix_end_to_end_id,omitempty"`
	PixVerificationAttempts int64              `bson:"pix_verification_attempts"`
	Status                  BuyStatus          `bson:"status"`
	IsFinal                 bool               `bson:"is_final"`
	ExpiresAt               int64              `bson:"expires_at"`
	CreatedAt               int64              `bson:"created_at"`
	UpdatedAt               int64              `bson:"updated_at"`
}

// NewBuy builds a Pending buy holding a reservation of amount minimal units.
// The seller's PIX key is copied from the advertisement so later key
// rotations do not orphan in-flight payments.
func NewBuy(adID primitive.ObjectID, buyer string, amount, price, fee, payValue int64, pixKey string) (*Buy, error) {
	if payValue <= 0 {
		return nil, errors.New("pay value must be positive")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if buyer == "" {
		return nil, errors.New("buyer address is required")
	}
	now := time.Now().UTC()
	return &Buy{
		AdvertisementID: adID,
		Amount:          amount,
		Price:           price,
		Fee:             fee,
		PayValue:        payValue,
		AddressBuy:      buyer,
		PixKey:          pixKey,
		Status:          BuyPending,
		ExpiresAt:       now.Add(BuyTTL).UnixMilli(),
		CreatedAt:       now.UnixMilli(),
		UpdatedAt:       now.UnixMilli(),
	}, nil
}

// Transition applies a status change, recomputing the derived final flag.
func (b *Buy) Transition(to BuyStatus) error {
	if !b.Status.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "buy %s -> %s", b.Status, to)
	}
	b.Status = to
	b.IsFinal = to.Final()
	b.UpdatedAt = time.Now().UTC().UnixMilli()
	return nil
}
