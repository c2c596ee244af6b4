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

type buyStore struct {
	c *mongo.Collection
}

func (s *buyStore) Insert(ctx context.Context, b *types.Buy) error {
	res, err := s.c.InsertOne(ctx, b)
	if err != nil {
		return wrapInsertErr(err)
	}
	b.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *buyStore) ByID(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	var b types.Buy
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *buyStore) ByStatus(ctx context.Context, status types.BuyStatus) ([]*types.Buy, error) {
	cur, err := s.c.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	var out []*types.Buy
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *buyStore) ExpiredPending(ctx context.Context, now int64) ([]*types.Buy, error) {
	cur, err := s.c.Find(ctx, bson.M{
		"status":     types.BuyPending,
		"expires_at": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, err
	}
	var out []*types.Buy
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *buyStore) CountNonFinalByAdvertisement(ctx context.Context, adID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"advertisement_id": adID, "is_final": false})
}

func (s *buyStore) guarded(ctx context.Context, filter, update bson.M) (*types.Buy, error) {
	var b types.Buy
	err := s.c.FindOneAndUpdate(ctx, filter, update, postImage).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// transitionSet builds the $set document for a status move, keeping the
// derived is_final flag in step.
func transitionSet(to types.BuyStatus, extra bson.M) bson.M {
	set := bson.M{
		"status":     to,
		"is_final":   to.Final(),
		"updated_at": nowMillis(),
	}
	for k, v := range extra {
		set[k] = v
	}
	return bson.M{"$set": set}
}

func (s *buyStore) Expire(ctx context.Context, id primitive.ObjectID, now int64) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyPending, "expires_at": bson.M{"$lte": now}},
		transitionSet(types.BuyExpired, nil),
	)
}

func (s *buyStore) Cancel(ctx context.Context, id primitive.ObjectID, buyer string) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyPending, "address_buy": buyer},
		transitionSet(types.BuyCancelled, nil),
	)
}

func (s *buyStore) MarkPaid(ctx context.Context, id primitive.ObjectID, confirmationCode string) (*types.Buy, error) {
	extra := bson.M{}
	if confirmationCode != "" {
		extra["pix_confirmation_code"] = confirmationCode
	}
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyPending},
		transitionSet(types.BuyPaid, extra),
	)
}

func (s *buyStore) MarkPaymentConfirmed(ctx context.Context, id primitive.ObjectID, endToEndID string) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyPaid},
		transitionSet(types.BuyPaymentConfirmed, bson.M{"pix_end_to_end_id": endToEndID}),
	)
}

func (s *buyStore) MarkInDispute(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []types.BuyStatus{types.BuyPending, types.BuyPaid}}},
		transitionSet(types.BuyInDispute, nil),
	)
}

func (s *buyStore) MarkDisputeFavorBuyer(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyInDispute},
		transitionSet(types.BuyDisputeFavorBuyer, nil),
	)
}

func (s *buyStore) MarkDisputeFavorSeller(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyInDispute},
		transitionSet(types.BuyDisputeFavorSeller, nil),
	)
}

func (s *buyStore) MarkDisputeResolvedBuyer(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyDisputeFavorBuyer},
		transitionSet(types.BuyDisputeResolvedBuyer, nil),
	)
}

func (s *buyStore) MarkDisputeResolvedSeller(ctx context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.BuyDisputeFavorSeller},
		transitionSet(types.BuyDisputeResolvedSeller, nil),
	)
}

func (s *buyStore) IncrementVerificationAttempts(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$inc": bson.M{"pix_verification_attempts": 1}})
	return err
}
