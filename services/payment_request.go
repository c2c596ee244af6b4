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

// PaymentRequestService issues and tracks outbound-transfer tickets.
type PaymentRequestService struct {
	requests  iface.PaymentRequestStore
	publisher *events.Publisher
}

// NewPaymentRequestService wires the service.
func NewPaymentRequestService(requests iface.PaymentRequestStore, publisher *events.Publisher) *PaymentRequestService {
	return &PaymentRequestService{requests: requests, publisher: publisher}
}

// Create issues a payout ticket for the source, idempotently: while the
// source already has an active request, that request is returned instead of
// a second one. PaymentRequestCreated is published for fresh tickets only.
func (s *PaymentRequestService) Create(ctx context.Context, sourceType types.PaymentSourceType, sourceID primitive.ObjectID, receiver string, amount int64, automatic bool) (*types.PaymentRequest, error) {
	if existing, err := s.requests.ActiveBySource(ctx, sourceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, iface.ErrNotFound) {
		return nil, err
	}
	pr, err := types.NewPaymentRequest(sourceType, sourceID, receiver, amount, automatic)
	if err != nil {
		return nil, err
	}
	if err := s.requests.Insert(ctx, pr); err != nil {
		if errors.Is(err, iface.ErrDuplicateKey) {
			// Raced with another creator; theirs wins.
			return s.requests.ActiveBySource(ctx, sourceID)
		}
		return nil, err
	}
	if _, err := s.publisher.Publish(ctx, events.EventPaymentRequestCreated,
		"PaymentRequestService::Create", events.AggregatePayment, pr.ID.Hex(),
		map[string]interface{}{
			"payment_request_id":        pr.ID.Hex(),
			"attempt_automatic_payment": automatic,
		}); err != nil {
		return nil, errors.Wrap(err, "could not publish payment-request event")
	}
	log.WithFields(logrus.Fields{
		"paymentRequestId": pr.ID.Hex(),
		"sourceType":       sourceType,
		"automatic":        automatic,
	}).Info("Payment request created")
	return pr, nil
}

// ByID loads a payment request.
func (s *PaymentRequestService) ByID(ctx context.Context, id primitive.ObjectID) (*types.PaymentRequest, error) {
	return s.requests.ByID(ctx, id)
}

// Claim atomically admits a PendingAutomaticPayment request into Processing.
// A nil return with no error means another worker holds the claim.
func (s *PaymentRequestService) Claim(ctx context.Context, id primitive.ObjectID) (*types.PaymentRequest, error) {
	return s.requests.UpdateStatusAtomic(ctx, id,
		[]types.PaymentRequestStatus{types.PaymentPendingAutomatic}, types.PaymentProcessing)
}

// MarkBroadcast records the transfer's transaction id.
func (s *PaymentRequestService) MarkBroadcast(ctx context.Context, id primitive.ObjectID, txID string) (*types.PaymentRequest, error) {
	pr, err := s.requests.MarkBroadcast(ctx, id, txID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, errors.Wrap(ErrStateConflict, "payment request not in processing")
	}
	return pr, nil
}

// Confirm finishes a Broadcast request whose transaction succeeded on chain.
func (s *PaymentRequestService) Confirm(ctx context.Context, id primitive.ObjectID) (*types.PaymentRequest, error) {
	return s.requests.UpdateStatusAtomic(ctx, id,
		[]types.PaymentRequestStatus{types.PaymentBroadcast}, types.PaymentConfirmed)
}

// Fail marks the request Failed and issues a manual replacement ticket with
// the same source, receiver and amount, so an operator can pay by hand.
func (s *PaymentRequestService) Fail(ctx context.Context, id primitive.ObjectID, reason string) (*types.PaymentRequest, error) {
	failed, err := s.requests.MarkFailed(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if failed == nil {
		return nil, errors.Wrap(ErrStateConflict, "payment request not found")
	}
	if _, err := s.publisher.Publish(ctx, events.EventPaymentRequestFailed,
		"PaymentRequestService::Fail", events.AggregatePayment, failed.ID.Hex(),
		map[string]interface{}{
			"payment_request_id": failed.ID.Hex(),
			"reason":             reason,
		}); err != nil {
		log.WithError(err).Error("Could not publish payment-failed event")
	}
	replacement, err := s.Create(ctx, failed.SourceType, failed.SourceID, failed.ReceiverAddress, failed.Amount, false)
	if err != nil {
		return nil, errors.Wrap(err, "could not create replacement payment request")
	}
	log.WithFields(logrus.Fields{
		"failedId":      failed.ID.Hex(),
		"replacementId": replacement.ID.Hex(),
		"reason":        reason,
	}).Warn("Payment request failed, manual replacement issued")
	return replacement, nil
}
