// Package db implements the store interfaces over MongoDB. Every guarded
// mutation is a single findOneAndUpdate returning the post-image; state
// invariants that span rows are enforced with partial unique indexes
// created at startup.
package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
)

var log = logrus.WithField("prefix", "db")

const (
	eventsCollection          = "events"
	eventConsumersCollection  = "event_consumers"
	advertisementsCollection  = "advertisements"
	depositsCollection        = "advertisement_deposits"
	buysCollection            = "buys"
	invitesCollection         = "invites"
	bankCredsCollection       = "bank_credentials"
	paymentRequestsCollection = "payment_requests"
)

// Database wraps the Mongo handle and exposes the per-aggregate stores.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to Mongo and pings the deployment.
func Open(ctx context.Context, uri, name string) (*Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "could not ping mongodb")
	}
	log.WithField("database", name).Info("Connected to MongoDB")
	return &Database{client: client, db: client.Database(name)}, nil
}

// Close disconnects the underlying client.
func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Advertisements returns the advertisement store.
func (d *Database) Advertisements() iface.AdvertisementStore {
	return &advertisementStore{c: d.db.Collection(advertisementsCollection)}
}

// Deposits returns the deposit store.
func (d *Database) Deposits() iface.DepositStore {
	return &depositStore{c: d.db.Collection(depositsCollection)}
}

// Buys returns the buy store.
func (d *Database) Buys() iface.BuyStore {
	return &buyStore{c: d.db.Collection(buysCollection)}
}

// PaymentRequests returns the payment request store.
func (d *Database) PaymentRequests() iface.PaymentRequestStore {
	return &paymentRequestStore{c: d.db.Collection(paymentRequestsCollection)}
}

// Invites returns the invite store.
func (d *Database) Invites() iface.InviteStore {
	return &inviteStore{c: d.db.Collection(invitesCollection)}
}

// BankCredentials returns the bank credential store.
func (d *Database) BankCredentials() iface.BankCredentialStore {
	return &bankCredentialStore{c: d.db.Collection(bankCredsCollection)}
}

// Events returns the event store.
func (d *Database) Events() *EventStore {
	return &EventStore{
		events:    d.db.Collection(eventsCollection),
		consumers: d.db.Collection(eventConsumersCollection),
	}
}

// EnsureIndexes creates every index the stores rely on, including the
// partial unique indexes that enforce cross-row invariants:
// one active advertisement per seller, one non-final buy per
// (advertisement, buyer), one active payment request per source.
func (d *Database) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		advertisementsCollection: {
			{
				Keys: bson.D{{Key: "seller_address", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "is_active", Value: true}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		depositsCollection: {
			{Keys: bson.D{{Key: "advertisement_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		buysCollection: {
			{
				Keys: bson.D{{Key: "advertisement_id", Value: 1}, {Key: "address_buy", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "is_final", Value: false}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		paymentRequestsCollection: {
			{
				Keys: bson.D{{Key: "source_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "is_active", Value: true}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		invitesCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		bankCredsCollection: {
			{Keys: bson.D{{Key: "seller_address", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		eventsCollection: {
			{Keys: bson.D{{Key: "event_name", Value: 1}}},
			{Keys: bson.D{{Key: "event_origin", Value: 1}}},
			{Keys: bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}}},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		eventConsumersCollection: {
			{Keys: bson.D{{Key: "event_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "endpoint", Value: 1}}},
			{Keys: bson.D{{Key: "next_retry_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}}},
		},
	}
	for coll, models := range specs {
		if _, err := d.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "could not create indexes for %s", coll)
		}
	}
	return nil
}

// wrapInsertErr maps unique index violations to the store sentinel.
func wrapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return iface.ErrDuplicateKey
	}
	return err
}
