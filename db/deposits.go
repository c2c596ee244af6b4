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

type depositStore struct {
	c *mongo.Collection
}

func (s *depositStore) Insert(ctx context.Context, d *types.AdvertisementDeposit) error {
	res, err := s.c.InsertOne(ctx, d)
	if err != nil {
		return wrapInsertErr(err)
	}
	d.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *depositStore) ByID(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	var d types.AdvertisementDeposit
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *depositStore) ByAdvertisement(ctx context.Context, adID primitive.ObjectID) ([]*types.AdvertisementDeposit, error) {
	cur, err := s.c.Find(ctx, bson.M{"advertisement_id": adID})
	if err != nil {
		return nil, err
	}
	var out []*types.AdvertisementDeposit
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *depositStore) PendingWithTx(ctx context.Context) ([]*types.AdvertisementDeposit, error) {
	cur, err := s.c.Find(ctx, bson.M{
		"status":           types.DepositPending,
		"blockchain_tx_id": bson.M{"$exists": true, "$ne": ""},
	})
	if err != nil {
		return nil, err
	}
	var out []*types.AdvertisementDeposit
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *depositStore) guarded(ctx context.Context, filter, update bson.M) (*types.AdvertisementDeposit, error) {
	var d types.AdvertisementDeposit
	err := s.c.FindOneAndUpdate(ctx, filter, update, postImage).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *depositStore) MarkPending(ctx context.Context, id primitive.ObjectID, txID string, amount int64) (*types.AdvertisementDeposit, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.DepositDraft},
		bson.M{"$set": bson.M{
			"status":           types.DepositPending,
			"blockchain_tx_id": txID,
			"amount":           amount,
			"updated_at":       nowMillis(),
		}},
	)
}

func (s *depositStore) MarkConfirmed(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	now := nowMillis()
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.DepositPending},
		bson.M{"$set": bson.M{
			"status":       types.DepositConfirmed,
			"confirmed_at": now,
			"updated_at":   now,
		}},
	)
}

func (s *depositStore) MarkFailed(ctx context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []types.DepositStatus{types.DepositDraft, types.DepositPending}}},
		bson.M{"$set": bson.M{
			"status":     types.DepositFailed,
			"updated_at": nowMillis(),
		}},
	)
}
