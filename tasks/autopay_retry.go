package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
)

// AutomaticPayer is the claim-and-transfer path of the automatic-pay
// handler. The retry task re-drives it for tickets the dispatcher lost.
type AutomaticPayer interface {
	Pay(ctx context.Context, paymentRequestID primitive.ObjectID) error
}

// AutomaticPayRetryAge is how long a ticket may sit in
// PendingAutomaticPayment before the crash-recovery sweep re-claims it.
const AutomaticPayRetryAge = 5 * time.Minute

// AutomaticPayRetry re-drives automatic payouts that never got claimed,
// typically after a crash between event publication and dispatch. The atomic
// claim inside Pay keeps this at-least-once without double broadcasting.
type AutomaticPayRetry struct {
	requests iface.PaymentRequestStore
	payer    AutomaticPayer
	interval time.Duration
}

// NewAutomaticPayRetry wires the task.
func NewAutomaticPayRetry(requests iface.PaymentRequestStore, payer AutomaticPayer, interval time.Duration) *AutomaticPayRetry {
	return &AutomaticPayRetry{requests: requests, payer: payer, interval: interval}
}

func (t *AutomaticPayRetry) Name() string { return "automatic-pay-retry" }

func (t *AutomaticPayRetry) Interval() time.Duration { return t.interval }

func (t *AutomaticPayRetry) Execute(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-AutomaticPayRetryAge).UnixMilli()
	stale, err := t.requests.PendingAutomaticOlderThan(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "could not list stale automatic payments")
	}
	for _, pr := range stale {
		if err := t.payer.Pay(ctx, pr.ID); err != nil {
			log.WithError(err).WithField("paymentRequestId", pr.ID.Hex()).Error("Automatic payment retry failed")
		}
	}
	return nil
}
