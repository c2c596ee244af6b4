package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DepositStatus enumerates the escrow deposit lifecycle. Confirmed and
// Failed are terminal.
type DepositStatus string

const (
	DepositDraft     DepositStatus = "DRAFT"
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
	DepositFailed    DepositStatus = "FAILED"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositDraft:   {DepositPending, DepositFailed},
	DepositPending: {DepositConfirmed, DepositFailed},
}

// CanTransitionTo reports whether the lattice permits moving to the target.
func (s DepositStatus) CanTransitionTo(to DepositStatus) bool {
	for _, t := range depositTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// AdvertisementDeposit tracks one on-chain funding transaction for an
// advertisement. BlockchainTxID and Amount are set only once the chain
// client has broadcast and reported back.
type AdvertisementDeposit struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	AdvertisementID       primitive.ObjectID `bson:"advertisement_id"`
	SellerAddress         string             `bson:"seller_address"`
	SerializedTransaction string             `bson:"serialized_transaction"`
	BlockchainTxID        string             `bson:"blockchain_tx_id,omitempty"`
	Amount                int64              `bson:"amount"`
	Status                DepositStatus      `bson:"status"`
	CreatedAt             int64              `bson:"created_at"`
	UpdatedAt             int64              `bson:"updated_at"`
	ConfirmedAt           int64              `bson:"confirmed_at,omitempty"`
}

// NewAdvertisementDeposit builds a Draft deposit around an opaque serialized
// transaction blob.
func NewAdvertisementDeposit(adID primitive.ObjectID, seller, serializedTx string) (*AdvertisementDeposit, error) {
	if serializedTx == "" {
		return nil, errors.New("serialized transaction is required")
	}
	now := time.Now().UTC().UnixMilli()
	return &AdvertisementDeposit{
		AdvertisementID:       adID,
		SellerAddress:         seller,
		SerializedTransaction: serializedTx,
		Status:                DepositDraft,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Transition applies a status change.
func (d *AdvertisementDeposit) Transition(to DepositStatus) error {
	if !d.Status.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "deposit %s -> %s", d.Status, to)
	}
	d.Status = to
	now := time.Now().UTC().UnixMilli()
	d.UpdatedAt = now
	if to == DepositConfirmed {
		d.ConfirmedAt = now
	}
	return nil
}
