package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

type paymentRequestStore struct {
	c *mongo.Collection
}

func (s *paymentRequestStore) Insert(ctx context.Context, pr *types.PaymentRequest) error {
	res, err := s.c.InsertOne(ctx, pr)
	if err != nil {
		return wrapInsertErr(err)
	}
	pr.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *paymentRequestStore) ByID(ctx context.Context, id primitive.ObjectID) (*types.PaymentRequest, error) {
	var pr types.PaymentRequest
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&pr)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (s *paymentRequestStore) ByStatus(ctx context.Context, status types.PaymentRequestStatus) ([]*types.PaymentRequest, error) {
	cur, err := s.c.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	var out []*types.PaymentRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *paymentRequestStore) ActiveBySource(ctx context.Context, sourceID primitive.ObjectID) (*types.PaymentRequest, error) {
	var pr types.PaymentRequest
	err := s.c.FindOne(ctx, bson.M{"source_id": sourceID, "is_active": true}).Decode(&pr)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (s *paymentRequestStore) PendingAutomaticOlderThan(ctx context.Context, cutoff int64) ([]*types.PaymentRequest, error) {
	cur, err := s.c.Find(ctx, bson.M{
		"status":     types.PaymentPendingAutomatic,
		"updated_at": bson.M{"$lte": cutoff},
	})
	if err != nil {
		return nil, err
	}
	var out []*types.PaymentRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *paymentRequestStore) guarded(ctx context.Context, filter, update bson.M) (*types.PaymentRequest, error) {
	var pr types.PaymentRequest
	err := s.c.FindOneAndUpdate(ctx, filter, update, postImage).Decode(&pr)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (s *paymentRequestStore) UpdateStatusAtomic(ctx context.Context, id primitive.ObjectID, from []types.PaymentRequestStatus, to types.PaymentRequestStatus) (*types.PaymentRequest, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{
			"status":     to,
			"is_active":  to.Active(),
			"updated_at": nowMillis(),
		}},
	)
}

func (s *paymentRequestStore) MarkBroadcast(ctx context.Context, id primitive.ObjectID, txID string) (*types.PaymentRequest, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.PaymentProcessing},
		bson.M{"$set": bson.M{
			"status":           types.PaymentBroadcast,
			"is_active":        true,
			"blockchain_tx_id": txID,
			"updated_at":       nowMillis(),
		}},
	)
}

func (s *paymentRequestStore) MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) (*types.PaymentRequest, error) {
	return s.guarded(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":         types.PaymentFailed,
			"is_active":      false,
			"failure_reason": reason,
			"updated_at":     nowMillis(),
		}},
	)
}
