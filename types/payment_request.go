package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentSourceType names the aggregate that triggered a payout.
type PaymentSourceType string

const (
	SourceBuy           PaymentSourceType = "BUY"
	SourceAdvertisement PaymentSourceType = "ADVERTISEMENT"
)

// PaymentRequestStatus enumerates the outbound-transfer ticket lifecycle.
type PaymentRequestStatus string

const (
	PaymentPendingAutomatic PaymentRequestStatus = "PENDING_AUTOMATIC_PAYMENT"
	PaymentWaiting          PaymentRequestStatus = "WAITING"
	PaymentProcessing       PaymentRequestStatus = "PROCESSING"
	PaymentBroadcast        PaymentRequestStatus = "BROADCAST"
	PaymentFailed           PaymentRequestStatus = "FAILED"
	PaymentConfirmed        PaymentRequestStatus = "CONFIRMED"
)

// Active reports whether the status counts toward the one-active-per-source
// constraint. Only Failed requests release the slot.
func (s PaymentRequestStatus) Active() bool {
	return s != PaymentFailed
}

// PaymentRequest is the outbound-crypto-transfer ticket. Transitions are
// guarded at the storage layer; the atomic claim into Processing is the only
// admission gate for the automatic payment path.
type PaymentRequest struct {
	ID                      primitive.ObjectID   `bson:"_id,omitempty"`
	SourceType              PaymentSourceType    `bson:"source_type"`
	SourceID                primitive.ObjectID   `bson:"source_id"`
	ReceiverAddress         string               `bson:"receiver_address"`
	Amount                  int64                `bson:"amount"` // minimal units
	AttemptAutomaticPayment bool                 `bson:"attempt_automatic_payment"`
	Status                  PaymentRequestStatus `bson:"status"`
	IsActive                bool                 `bson:"is_active"`
	BlockchainTxID          string               `bson:"blockchain_tx_id,omitempty"`
	FailureReason           string               `bson:"failure_reason,omitempty"`
	CreatedAt               int64                `bson:"created_at"`
	UpdatedAt               int64                `bson:"updated_at"`
}

// NewPaymentRequest builds a payout ticket. Automatic requests start in
// PendingAutomaticPayment so the automatic-pay handler can claim them;
// manual ones wait for operator action.
func NewPaymentRequest(sourceType PaymentSourceType, sourceID primitive.ObjectID, receiver string, amount int64, automatic bool) (*PaymentRequest, error) {
	if receiver == "" {
		return nil, errors.New("receiver address is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	status := PaymentWaiting
	if automatic {
		status = PaymentPendingAutomatic
	}
	now := time.Now().UTC().UnixMilli()
	return &PaymentRequest{
		SourceType:              sourceType,
		SourceID:                sourceID,
		ReceiverAddress:         receiver,
		Amount:                  amount,
		AttemptAutomaticPayment: automatic,
		Status:                  status,
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}
