package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// BankService manages seller bank credentials. Rows are immutable; every
// change inserts a fresh row so advertisements detect rotation by id and
// refresh their PIX keys.
type BankService struct {
	creds   iface.BankCredentialStore
	objects clients.ObjectStorage
}

// NewBankService wires the service.
func NewBankService(creds iface.BankCredentialStore, objects clients.ObjectStorage) *BankService {
	return &BankService{creds: creds, objects: objects}
}

// SetCredentials stores a credential set: the OAuth pair plus the PKCS#12
// certificate, which is uploaded to object storage. When no certificate is
// supplied the previous row's certificate carries over, so rotating only the
// pair does not orphan the stored certificate.
func (s *BankService) SetCredentials(ctx context.Context, seller, clientID, clientSecret string, certificate []byte) (*types.BankCredential, error) {
	uri := ""
	if len(certificate) > 0 {
		var err error
		uri, err = s.uploadCertificate(ctx, seller, certificate)
		if err != nil {
			return nil, err
		}
	} else if latest, err := s.creds.LatestBySeller(ctx, seller); err == nil {
		uri = latest.CertificateURI
	} else if !errors.Is(err, iface.ErrNotFound) {
		return nil, err
	}
	cred, err := types.NewBankCredential(seller, clientID, clientSecret, uri)
	if err != nil {
		return nil, err
	}
	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, errors.Wrap(err, "could not insert bank credential")
	}
	log.WithField("seller", seller).Info("Bank credentials stored")
	return cred, nil
}

// SetCertificate rotates only the certificate, carrying the latest OAuth
// pair over into the new row.
func (s *BankService) SetCertificate(ctx context.Context, seller string, certificate []byte) (*types.BankCredential, error) {
	latest, err := s.creds.LatestBySeller(ctx, seller)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil, errors.Wrap(ErrStateConflict, "seller has no bank credentials to attach a certificate to")
		}
		return nil, err
	}
	uri, err := s.uploadCertificate(ctx, seller, certificate)
	if err != nil {
		return nil, err
	}
	cred, err := types.NewBankCredential(seller, latest.ClientID, latest.ClientSecret, uri)
	if err != nil {
		return nil, err
	}
	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, errors.Wrap(err, "could not insert bank credential")
	}
	log.WithField("seller", seller).Info("Bank certificate rotated")
	return cred, nil
}

func (s *BankService) uploadCertificate(ctx context.Context, seller string, certificate []byte) (string, error) {
	path := fmt.Sprintf("certificates/%s/%s.p12", seller, uuid.NewString())
	uri, err := s.objects.Upload(ctx, certificate, path)
	if err != nil {
		return "", errors.Wrap(err, "could not upload certificate")
	}
	return uri, nil
}

// LatestBySeller loads the seller's current credential row.
func (s *BankService) LatestBySeller(ctx context.Context, seller string) (*types.BankCredential, error) {
	return s.creds.LatestBySeller(ctx, seller)
}
