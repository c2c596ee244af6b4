package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

type inviteStore struct {
	c *mongo.Collection
}

func (s *inviteStore) Insert(ctx context.Context, inv *types.Invite) error {
	res, err := s.c.InsertOne(ctx, inv)
	if err != nil {
		return wrapInsertErr(err)
	}
	inv.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *inviteStore) ByCode(ctx context.Context, code string) (*types.Invite, error) {
	var inv types.Invite
	err := s.c.FindOne(ctx, bson.M{"code": code}).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *inviteStore) Claim(ctx context.Context, code, address string) (*types.Invite, error) {
	var inv types.Invite
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"code": code, "status": types.InviteOpen},
		bson.M{"$set": bson.M{
			"status":          types.InviteRedeemed,
			"claimed_address": address,
			"redeemed_at":     nowMillis(),
		}},
		postImage,
	).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

type bankCredentialStore struct {
	c *mongo.Collection
}

func (s *bankCredentialStore) Insert(ctx context.Context, cred *types.BankCredential) error {
	res, err := s.c.InsertOne(ctx, cred)
	if err != nil {
		return wrapInsertErr(err)
	}
	cred.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *bankCredentialStore) ByID(ctx context.Context, id primitive.ObjectID) (*types.BankCredential, error) {
	var cred types.BankCredential
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *bankCredentialStore) LatestBySeller(ctx context.Context, seller string) (*types.BankCredential, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var cred types.BankCredential
	err := s.c.FindOne(ctx, bson.M{"seller_address": seller}, opts).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
