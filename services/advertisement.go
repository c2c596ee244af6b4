package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

var log = logrus.WithField("prefix", "services")

// PixKeyMaxAge bounds how old a stored PIX key may be before a buy forces a
// refresh.
const PixKeyMaxAge = 15 * time.Minute

// AdvertisementService manages the seller's offer lifecycle.
type AdvertisementService struct {
	ads     iface.AdvertisementStore
	creds   iface.BankCredentialStore
	bank    clients.BankClient
	objects clients.ObjectStorage
}

// NewAdvertisementService wires the service.
func NewAdvertisementService(ads iface.AdvertisementStore, creds iface.BankCredentialStore, bank clients.BankClient, objects clients.ObjectStorage) *AdvertisementService {
	return &AdvertisementService{ads: ads, creds: creds, bank: bank, objects: objects}
}

// Create opens a Draft advertisement for the seller. The partial unique
// index rejects a second active one.
func (s *AdvertisementService) Create(ctx context.Context, seller, token, currency string, mode types.PricingMode, price, offsetBP, minAmount, maxAmount int64) (*types.Advertisement, error) {
	if _, err := s.creds.LatestBySeller(ctx, seller); err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil, errors.Wrap(ErrStateConflict, "seller has no bank credentials")
		}
		return nil, err
	}
	ad, err := types.NewAdvertisement(seller, token, currency, mode, price, offsetBP, minAmount, maxAmount)
	if err != nil {
		return nil, err
	}
	if err := s.ads.Insert(ctx, ad); err != nil {
		if errors.Is(err, iface.ErrDuplicateKey) {
			return nil, errors.Wrap(ErrStateConflict, "seller already has an active advertisement")
		}
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"advertisementId": ad.ID.Hex(),
		"seller":          seller,
	}).Info("Advertisement created")
	return ad, nil
}

// ByID loads an advertisement.
func (s *AdvertisementService) ByID(ctx context.Context, id primitive.ObjectID) (*types.Advertisement, error) {
	return s.ads.ByID(ctx, id)
}

// ActiveBySeller loads the seller's active advertisement.
func (s *AdvertisementService) ActiveBySeller(ctx context.Context, seller string) (*types.Advertisement, error) {
	return s.ads.ActiveBySeller(ctx, seller)
}

// SetPricing rewrites pricing and purchase bounds. The guarded mutation
// refuses Finishing, Closed and Disabled advertisements and enforces
// ownership.
func (s *AdvertisementService) SetPricing(ctx context.Context, id primitive.ObjectID, seller string, mode types.PricingMode, price, offsetBP, minAmount, maxAmount int64) (*types.Advertisement, error) {
	if minAmount <= 0 || maxAmount < minAmount {
		return nil, errors.New("invalid purchase bounds")
	}
	if mode == types.PricingFixed && price <= 0 {
		return nil, errors.New("fixed price must be positive")
	}
	ad, err := s.ads.UpdatePricing(ctx, id, seller, mode, price, offsetBP, minAmount, maxAmount)
	if err != nil {
		return nil, err
	}
	if ad == nil {
		current, err := s.ads.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.SellerAddress != seller {
			return nil, ErrUnauthorized
		}
		return nil, stateConflict(current.Status)
	}
	return ad, nil
}

// Finish moves a Ready advertisement into Finishing; the finisher task
// closes it and pays out once its buys settle.
func (s *AdvertisementService) Finish(ctx context.Context, id primitive.ObjectID, seller string) (*types.Advertisement, error) {
	return s.ownerTransition(ctx, id, seller, []types.AdvertisementStatus{types.AdReady}, types.AdFinishing)
}

// Disable takes an advertisement off the market without paying out.
func (s *AdvertisementService) Disable(ctx context.Context, id primitive.ObjectID, seller string) (*types.Advertisement, error) {
	from := []types.AdvertisementStatus{types.AdDraft, types.AdPending, types.AdReady}
	return s.ownerTransition(ctx, id, seller, from, types.AdDisabled)
}

func (s *AdvertisementService) ownerTransition(ctx context.Context, id primitive.ObjectID, seller string, from []types.AdvertisementStatus, to types.AdvertisementStatus) (*types.Advertisement, error) {
	current, err := s.ads.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.SellerAddress != seller {
		return nil, ErrUnauthorized
	}
	ad, err := s.ads.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if ad == nil {
		return nil, stateConflict(current.Status)
	}
	return ad, nil
}

// RefreshPixKey ensures the advertisement carries a fresh PIX key issued
// under the seller's latest bank credentials, asking the bank for a key only
// when the stored one is stale. It returns the up-to-date advertisement.
func (s *AdvertisementService) RefreshPixKey(ctx context.Context, ad *types.Advertisement) (*types.Advertisement, error) {
	latest, err := s.creds.LatestBySeller(ctx, ad.SellerAddress)
	if err != nil {
		return nil, errors.Wrap(err, "could not load bank credentials")
	}
	if !ad.PixKeyStale(latest.ID, PixKeyMaxAge, time.Now().UTC()) {
		return ad, nil
	}
	auth, err := s.bankAuth(ctx, latest)
	if err != nil {
		return nil, err
	}
	key, err := s.bank.GetOrCreatePixKey(ctx, *auth)
	if err != nil {
		return nil, errors.Wrap(err, "could not obtain PIX key")
	}
	refreshedAt := time.Now().UTC().UnixMilli()
	if err := s.ads.SetPixKey(ctx, ad.ID, key, latest.ID, refreshedAt); err != nil {
		return nil, errors.Wrap(err, "could not persist PIX key")
	}
	ad.PixKey = key
	ad.BankCredentialsID = latest.ID
	ad.PixKeyRefreshedAt = refreshedAt
	log.WithField("advertisementId", ad.ID.Hex()).Info("PIX key refreshed")
	return ad, nil
}

// bankAuth materializes the credential row into bank client auth material.
func (s *AdvertisementService) bankAuth(ctx context.Context, cred *types.BankCredential) (*clients.BankAuth, error) {
	var cert []byte
	if cred.CertificateURI != "" {
		var err error
		cert, err = s.objects.Download(ctx, cred.CertificateURI)
		if err != nil {
			return nil, errors.Wrap(err, "could not download bank certificate")
		}
	}
	return &clients.BankAuth{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Certificate:  cert,
	}, nil
}

// Auth exposes bankAuth for collaborators that query PIX receipts.
func (s *AdvertisementService) Auth(ctx context.Context, cred *types.BankCredential) (*clients.BankAuth, error) {
	return s.bankAuth(ctx, cred)
}
