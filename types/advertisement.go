// Package types holds the persisted aggregates of the exchange and their
// status machines. All monetary values are integer minor units: fiat in
// cents, crypto in minimal units. Timestamps are UTC millisecond epochs.
package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidTransition is returned whenever a status machine rejects a move.
var ErrInvalidTransition = errors.New("status transition not allowed")

// PricingMode selects how a buy's quoted price is validated.
type PricingMode string

const (
	// PricingFixed validates the quote against a stored price in cents.
	PricingFixed PricingMode = "FIXED"
	// PricingDynamic validates the quote against the market price plus a
	// basis-point offset, with a small tolerance below the target.
	PricingDynamic PricingMode = "DYNAMIC"
)

// AdvertisementStatus enumerates the advertisement lifecycle.
type AdvertisementStatus string

const (
	AdDraft             AdvertisementStatus = "DRAFT"
	AdPending           AdvertisementStatus = "PENDING"
	AdReady             AdvertisementStatus = "READY"
	AdProcessingDeposit AdvertisementStatus = "PROCESSING_DEPOSIT"
	AdFinishing         AdvertisementStatus = "FINISHING"
	AdBankFailed        AdvertisementStatus = "BANK_FAILED"
	AdDepositFailed     AdvertisementStatus = "DEPOSIT_FAILED"
	AdClosed            AdvertisementStatus = "CLOSED"
	AdDisabled          AdvertisementStatus = "DISABLED"
)

var adTransitions = map[AdvertisementStatus][]AdvertisementStatus{
	AdDraft:             {AdPending, AdBankFailed, AdDepositFailed, AdDisabled, AdClosed},
	AdPending:           {AdReady, AdBankFailed, AdDepositFailed, AdDisabled, AdClosed},
	AdReady:             {AdDisabled, AdFinishing, AdProcessingDeposit, AdBankFailed, AdDepositFailed},
	AdProcessingDeposit: {AdReady, AdDepositFailed},
	AdFinishing:         {AdClosed},
	AdClosed:            {},
}

// CanTransitionTo reports whether the lattice permits moving to the target.
func (s AdvertisementStatus) CanTransitionTo(to AdvertisementStatus) bool {
	for _, t := range adTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Active reports whether the status counts toward the one-active-per-seller
// constraint.
func (s AdvertisementStatus) Active() bool {
	switch s {
	case AdDraft, AdPending, AdReady, AdProcessingDeposit:
		return true
	}
	return false
}

// Advertisement is a seller's funded escrow offer. AvailableAmount is
// decremented by reservations and refunded when a buy becomes final without
// payment.
type Advertisement struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty"`
	SellerAddress     string              `bson:"seller_address"`
	Token             string              `bson:"token"`
	Currency          string              `bson:"currency"`
	PricingMode       PricingMode         `bson:"pricing_mode"`
	Price             int64               `bson:"price"`            // cents per full unit, fixed mode
	PriceOffsetBP     int64               `bson:"price_offset_bp"`  // basis points over market, dynamic mode
	TotalDeposited    int64               `bson:"total_deposited"`  // minimal units
	AvailableAmount   int64               `bson:"available_amount"` // minimal units
	MinAmount         int64               `bson:"min_amount"`       // cents
	MaxAmount         int64               `bson:"max_amount"`       // cents
	PixKey            string              `bson:"pix_key"`
	BankCredentialsID primitive.ObjectID  `bson:"bank_credentials_id,omitempty"`
	PixKeyRefreshedAt int64               `bson:"pix_key_refreshed_at"`
	Status            AdvertisementStatus `bson:"status"`
	IsActive          bool                `bson:"is_active"`
	CreatedAt         int64               `bson:"created_at"`
	UpdatedAt         int64               `bson:"updated_at"`
}

// NewAdvertisement builds a Draft advertisement. Bounds are fiat cents on a
// single purchase.
func NewAdvertisement(seller, token, currency string, mode PricingMode, price, offsetBP, minAmount, maxAmount int64) (*Advertisement, error) {
	if seller == "" {
		return nil, errors.New("seller address is required")
	}
	if minAmount <= 0 || maxAmount <= 0 {
		return nil, errors.New("purchase bounds must be positive")
	}
	if maxAmount < minAmount {
		return nil, errors.New("max amount below min amount")
	}
	if mode == PricingFixed && price <= 0 {
		return nil, errors.New("fixed price must be positive")
	}
	now := time.Now().UTC().UnixMilli()
	return &Advertisement{
		SellerAddress: seller,
		Token:         token,
		Currency:      currency,
		PricingMode:   mode,
		Price:         price,
		PriceOffsetBP: offsetBP,
		MinAmount:     minAmount,
		MaxAmount:     maxAmount,
		Status:        AdDraft,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Transition applies a status change, recomputing the derived active flag.
func (a *Advertisement) Transition(to AdvertisementStatus) error {
	if !a.Status.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "advertisement %s -> %s", a.Status, to)
	}
	a.Status = to
	a.IsActive = to.Active()
	a.UpdatedAt = time.Now().UTC().UnixMilli()
	return nil
}

// PixKeyStale reports whether the stored PIX key should be refreshed: it is
// older than maxAge or was issued under different bank credentials.
func (a *Advertisement) PixKeyStale(latestCredentials primitive.ObjectID, maxAge time.Duration, now time.Time) bool {
	if a.PixKey == "" {
		return true
	}
	if a.BankCredentialsID != latestCredentials {
		return true
	}
	refreshed := time.UnixMilli(a.PixKeyRefreshedAt)
	return now.Sub(refreshed) > maxAge
}
