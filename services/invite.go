package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// InviteService gates onboarding behind manager-issued codes.
type InviteService struct {
	invites   iface.InviteStore
	publisher *events.Publisher
}

// NewInviteService wires the service.
func NewInviteService(invites iface.InviteStore, publisher *events.Publisher) *InviteService {
	return &InviteService{invites: invites, publisher: publisher}
}

// Send issues an invite code. The mail handler picks up the event and
// delivers the code to the address.
func (s *InviteService) Send(ctx context.Context, code, email string) (*types.Invite, error) {
	inv, err := types.NewInvite(code, email)
	if err != nil {
		return nil, err
	}
	if err := s.invites.Insert(ctx, inv); err != nil {
		if errors.Is(err, iface.ErrDuplicateKey) {
			return nil, errors.Wrap(ErrStateConflict, "invite code already issued")
		}
		return nil, err
	}
	if _, err := s.publisher.Publish(ctx, events.EventInviteCreated,
		"InviteService::Send", events.AggregateInvite, inv.Code,
		map[string]interface{}{"code": inv.Code, "email": inv.Email}); err != nil {
		log.WithError(err).Error("Could not publish invite event")
	}
	log.WithField("code", code).Info("Invite issued")
	return inv, nil
}

// Redeem binds the caller's address to an open invite.
func (s *InviteService) Redeem(ctx context.Context, code, address string) (*types.Invite, error) {
	inv, err := s.invites.Claim(ctx, code, address)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		current, err := s.invites.ByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		return nil, stateConflict(current.Status)
	}
	log.WithFields(logrus.Fields{"code": code, "address": address}).Info("Invite redeemed")
	return inv, nil
}

// ByCode loads an invite.
func (s *InviteService) ByCode(ctx context.Context, code string) (*types.Invite, error) {
	return s.invites.ByCode(ctx, code)
}
