// Package clients defines the narrow interfaces the core depends on for
// blockchain, banking, object storage and notification side effects.
// Implementations live in subpackages; tests substitute fakes.
package clients

import (
	"context"
	"time"
)

// TxStatus is the on-chain status of a broadcast transaction.
type TxStatus string

const (
	TxSuccess              TxStatus = "Success"
	TxPending              TxStatus = "Pending"
	TxAbortByPostCondition TxStatus = "AbortByPostCondition"
	TxAbortByResponse      TxStatus = "AbortByResponse"
	TxDroppedReplaceByFee  TxStatus = "DroppedReplaceByFee"
	TxUnknown              TxStatus = "Unknown"
)

// Terminal reports whether the status can never progress to Success.
// Network errors are always retryable and never map to a terminal status.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxAbortByPostCondition, TxAbortByResponse, TxDroppedReplaceByFee:
		return true
	}
	return false
}

// TxSummary describes a decoded transfer transaction.
type TxSummary struct {
	TxID      string `json:"txid,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Price     int64  `json:"price"`
}

// DepositResult is the outcome of an escrow deposit broadcast.
type DepositResult struct {
	TxID   string `json:"txid"`
	Amount int64  `json:"amount"`
}

// ChainClient talks to the blockchain service.
type ChainClient interface {
	Broadcast(ctx context.Context, serializedTx string) (*TxSummary, error)
	GetDetail(ctx context.Context, serializedTx string) (*TxSummary, error)
	ValidateAndBroadcast(ctx context.Context, serializedTx, expectedRecipient string, expectedAmount int64) (string, error)
	VerifyStatus(ctx context.Context, txID string) (TxStatus, error)
	Deposit(ctx context.Context, serializedTx, receiver string) (*DepositResult, error)
	// Transfer moves funds from the platform escrow to the recipient.
	Transfer(ctx context.Context, recipient string, amount int64) (string, error)
}

// BankAuth carries a seller's PIX API access material.
type BankAuth struct {
	ClientID     string
	ClientSecret string
	// Certificate is the raw PKCS#12 bundle for mutual TLS.
	Certificate []byte
}

// PixReceipt is one received PIX payment. Valor is the bank's "NN.NN"
// decimal string.
type PixReceipt struct {
	EndToEndID string `json:"endToEndId"`
	Valor      string `json:"valor"`
	Horario    string `json:"horario"`
}

// BankClient talks to the seller's PIX provider.
type BankClient interface {
	// GetOrCreatePixKey returns the account's random EVP key, creating one
	// if none exists.
	GetOrCreatePixKey(ctx context.Context, auth BankAuth) (string, error)
	// QueryPix lists payments received in [start, end].
	QueryPix(ctx context.Context, auth BankAuth, start, end time.Time) ([]PixReceipt, error)
}

// ObjectStorage persists user-supplied blobs, currently PKCS#12 certs.
type ObjectStorage interface {
	Upload(ctx context.Context, data []byte, path string) (string, error)
	Download(ctx context.Context, uri string) ([]byte, error)
}

// EmailSender delivers a notification mail. Failures are the caller's to
// retry; senders must not block beyond their own timeout.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// BoardSink raises an operator work item.
type BoardSink interface {
	CreateCard(ctx context.Context, title, description string) error
}
