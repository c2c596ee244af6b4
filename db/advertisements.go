package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

type advertisementStore struct {
	c *mongo.Collection
}

var postImage = options.FindOneAndUpdate().SetReturnDocument(options.After)

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func (s *advertisementStore) Insert(ctx context.Context, ad *types.Advertisement) error {
	res, err := s.c.InsertOne(ctx, ad)
	if err != nil {
		return wrapInsertErr(err)
	}
	ad.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *advertisementStore) ByID(ctx context.Context, id primitive.ObjectID) (*types.Advertisement, error) {
	var ad types.Advertisement
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&ad)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

func (s *advertisementStore) ActiveBySeller(ctx context.Context, seller string) (*types.Advertisement, error) {
	var ad types.Advertisement
	err := s.c.FindOne(ctx, bson.M{"seller_address": seller, "is_active": true}).Decode(&ad)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

func (s *advertisementStore) ByStatus(ctx context.Context, status types.AdvertisementStatus) ([]*types.Advertisement, error) {
	cur, err := s.c.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	var ads []*types.Advertisement
	if err := cur.All(ctx, &ads); err != nil {
		return nil, err
	}
	return ads, nil
}

// guarded returns the post-image of a findOneAndUpdate, or nil on a
// predicate miss.
func (s *advertisementStore) guarded(ctx context.Context, filter, update bson.M) (*types.Advertisement, error) {
	var ad types.Advertisement
	err := s.c.FindOneAndUpdate(ctx, filter, update, postImage).Decode(&ad)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

func (s *advertisementStore) Reserve(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "available_amount": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"available_amount": -amount},
			"$set": bson.M{"updated_at": nowMillis()},
		},
	)
}

func (s *advertisementStore) Refund(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"available_amount": amount},
			"$set": bson.M{"updated_at": nowMillis()},
		},
	)
}

func (s *advertisementStore) AddDeposit(ctx context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"total_deposited": amount, "available_amount": amount},
			"$set": bson.M{
				"status":     types.AdReady,
				"is_active":  true,
				"updated_at": nowMillis(),
			},
		},
	)
}

func (s *advertisementStore) LockForDeposit(ctx context.Context, id primitive.ObjectID) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": types.AdReady},
		bson.M{"$set": bson.M{
			"status":     types.AdProcessingDeposit,
			"updated_at": nowMillis(),
		}},
	)
}

func (s *advertisementStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []types.AdvertisementStatus, to types.AdvertisementStatus) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{
			"status":     to,
			"is_active":  to.Active(),
			"updated_at": nowMillis(),
		}},
	)
}

func (s *advertisementStore) UpdatePricing(ctx context.Context, id primitive.ObjectID, seller string, mode types.PricingMode, price, offsetBP, minAmount, maxAmount int64) (*types.Advertisement, error) {
	return s.guarded(ctx,
		bson.M{
			"_id":            id,
			"seller_address": seller,
			"status":         bson.M{"$nin": []types.AdvertisementStatus{types.AdFinishing, types.AdClosed, types.AdDisabled}},
		},
		bson.M{"$set": bson.M{
			"pricing_mode":    mode,
			"price":           price,
			"price_offset_bp": offsetBP,
			"min_amount":      minAmount,
			"max_amount":      maxAmount,
			"updated_at":      nowMillis(),
		}},
	)
}

func (s *advertisementStore) SetPixKey(ctx context.Context, id primitive.ObjectID, key string, credentialsID primitive.ObjectID, refreshedAt int64) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"pix_key":              key,
		"bank_credentials_id":  credentialsID,
		"pix_key_refreshed_at": refreshedAt,
		"updated_at":           nowMillis(),
	}})
	return err
}
