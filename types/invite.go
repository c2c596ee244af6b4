package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InviteStatus enumerates the invite lifecycle.
type InviteStatus string

const (
	InviteOpen     InviteStatus = "OPEN"
	InviteRedeemed InviteStatus = "REDEEMED"
)

// Invite gates onboarding: the manager issues a code, a new user binds their
// on-chain address to it before they can sell.
type Invite struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Code           string             `bson:"code"`
	Email          string             `bson:"email,omitempty"`
	Status         InviteStatus       `bson:"status"`
	ClaimedAddress string             `bson:"claimed_address,omitempty"`
	CreatedAt      int64              `bson:"created_at"`
	RedeemedAt     int64              `bson:"redeemed_at,omitempty"`
}

// NewInvite builds an open invite for the given code.
func NewInvite(code, email string) (*Invite, error) {
	if code == "" {
		return nil, errors.New("invite code is required")
	}
	return &Invite{
		Code:      code,
		Email:     email,
		Status:    InviteOpen,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}, nil
}
