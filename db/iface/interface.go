// Package iface defines one narrow store interface per aggregate. Guarded
// mutations couple predicate and update in a single storage operation and
// return the post-image when the predicate matched, nil otherwise; a nil
// post-image is expected under contention and is not an error.
package iface

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique index, e.g.
// a second active advertisement for a seller.
var ErrDuplicateKey = errors.New("duplicate key")

// AdvertisementStore persists advertisements and their guarded mutations.
type AdvertisementStore interface {
	Insert(ctx context.Context, ad *types.Advertisement) error
	ByID(ctx context.Context, id primitive.ObjectID) (*types.Advertisement, error)
	ActiveBySeller(ctx context.Context, seller string) (*types.Advertisement, error)
	ByStatus(ctx context.Context, status types.AdvertisementStatus) ([]*types.Advertisement, error)
	// Reserve decrements available_amount when at least amount is left.
	Reserve(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error)
	// Refund unconditionally returns amount to available_amount.
	Refund(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error)
	// AddDeposit increments total_deposited and available_amount and sets
	// the status to Ready.
	AddDeposit(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error)
	// LockForDeposit moves Ready to ProcessingDeposit.
	LockForDeposit(ctx context.Context, id primitive.ObjectID) (*types.Advertisement, error)
	// UpdateStatus transitions to the target only when the current status
	// is in the allow-list.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from []types.AdvertisementStatus, to types.AdvertisementStatus) (*types.Advertisement, error)
	// UpdatePricing rewrites pricing and bounds unless the advertisement
	// is Finishing, Closed or Disabled, and only for its owner.
	UpdatePricing(ctx context.Context, id primitive.ObjectID, seller string, mode types.PricingMode, price, offsetBP, minAmount, maxAmount int64) (*types.Advertisement, error)
	SetPixKey(ctx context.Context, id primitive.ObjectID, key string, credentialsID primitive.ObjectID, refreshedAt int64) error
}

// DepositStore persists advertisement deposits.
type DepositStore interface {
	Insert(ctx context.Context, d *types.AdvertisementDeposit) error
	ByID(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error)
	ByAdvertisement(ctx context.Context, adID primitive.ObjectID) ([]*types.AdvertisementDeposit, error)
	// PendingWithTx returns Pending deposits that already carry a
	// blockchain transaction id.
	PendingWithTx(ctx context.Context) ([]*types.AdvertisementDeposit, error)
	// MarkPending records broadcast results and moves Draft to Pending.
	MarkPending(ctx context.Context, id primitive.ObjectID, txID string, amount int64) (*types.AdvertisementDeposit, error)
	// MarkConfirmed moves Pending to Confirmed, stamping confirmed_at.
	MarkConfirmed(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error)
	// MarkFailed moves Draft or Pending to Failed.
	MarkFailed(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error)
}

// BuyStore persists buys and their guarded mutations.
type BuyStore interface {
	Insert(ctx context.Context, b *types.Buy) error
	ByID(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	ByStatus(ctx context.Context, status types.BuyStatus) ([]*types.Buy, error)
	// ExpiredPending returns Pending buys whose expiry is at or before now
	// (millisecond epoch).
	ExpiredPending(ctx context.Context, now int64) ([]*types.Buy, error)
	CountNonFinalByAdvertisement(ctx context.Context, adID primitive.ObjectID) (int64, error)
	// Expire moves a Pending buy whose expiry has matured to Expired.
	// Refunding the parent advertisement is a separate call.
	Expire(ctx context.Context, id primitive.ObjectID, now int64) (*types.Buy, error)
	// Cancel moves a Pending buy owned by buyer to Cancelled.
	Cancel(ctx context.Context, id primitive.ObjectID, buyer string) (*types.Buy, error)
	// MarkPaid moves Pending to Paid, recording the buyer's optional
	// confirmation code.
	MarkPaid(ctx context.Context, id primitive.ObjectID, confirmationCode string) (*types.Buy, error)
	// MarkPaymentConfirmed moves Paid to PaymentConfirmed and records the
	// matched PIX end-to-end id.
	MarkPaymentConfirmed(ctx context.Context, id primitive.ObjectID, endToEndID string) (*types.Buy, error)
	// MarkInDispute moves Pending or Paid to InDispute.
	MarkInDispute(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	// MarkDisputeFavorBuyer and MarkDisputeFavorSeller require InDispute.
	MarkDisputeFavorBuyer(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	MarkDisputeFavorSeller(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	// MarkDisputeResolvedBuyer and MarkDisputeResolvedSeller require the
	// matching DisputeFavor status.
	MarkDisputeResolvedBuyer(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	MarkDisputeResolvedSeller(ctx context.Context, id primitive.ObjectID) (*types.Buy, error)
	IncrementVerificationAttempts(ctx context.Context, id primitive.ObjectID) error
}

// PaymentRequestStore persists outbound-transfer tickets.
type PaymentRequestStore interface {
	Insert(ctx context.Context, pr *types.PaymentRequest) error
	ByID(ctx context.Context, id primitive.ObjectID) (*types.PaymentRequest, error)
	ByStatus(ctx context.Context, status types.PaymentRequestStatus) ([]*types.PaymentRequest, error)
	ActiveBySource(ctx context.Context, sourceID primitive.ObjectID) (*types.PaymentRequest, error)
	// PendingAutomaticOlderThan returns PendingAutomaticPayment requests
	// last updated at or before the cutoff (millisecond epoch).
	PendingAutomaticOlderThan(ctx context.Context, cutoff int64) ([]*types.PaymentRequest, error)
	// UpdateStatusAtomic transitions to the target only when the current
	// status is in the allow-list, recomputing is_active. This is the
	// claim gate for automatic payments.
	UpdateStatusAtomic(ctx context.Context, id primitive.ObjectID, from []types.PaymentRequestStatus, to types.PaymentRequestStatus) (*types.PaymentRequest, error)
	// MarkBroadcast moves Processing to Broadcast and records the tx id.
	MarkBroadcast(ctx context.Context, id primitive.ObjectID, txID string) (*types.PaymentRequest, error)
	// MarkFailed records a terminal failure with its reason.
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) (*types.PaymentRequest, error)
}

// InviteStore persists onboarding invites.
type InviteStore interface {
	Insert(ctx context.Context, inv *types.Invite) error
	ByCode(ctx context.Context, code string) (*types.Invite, error)
	// Claim binds an address to an open invite.
	Claim(ctx context.Context, code, address string) (*types.Invite, error)
}

// BankCredentialStore persists seller bank credentials. Rows are immutable;
// a change inserts a new row, and the latest row wins.
type BankCredentialStore interface {
	Insert(ctx context.Context, c *types.BankCredential) error
	ByID(ctx context.Context, id primitive.ObjectID) (*types.BankCredential, error)
	LatestBySeller(ctx context.Context, seller string) (*types.BankCredential, error)
}
