package types

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BankCredential stores a seller's EFI Pay API access: OAuth client pair and
// the object-storage URI of their PKCS#12 certificate. A new row is inserted
// on every change so advertisements can detect rotation by id.
type BankCredential struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	SellerAddress  string             `bson:"seller_address"`
	ClientID       string             `bson:"client_id"`
	ClientSecret   string             `bson:"client_secret"`
	CertificateURI string             `bson:"certificate_uri"`
	CreatedAt      int64              `bson:"created_at"`
}

// NewBankCredential builds a credential row for a seller.
func NewBankCredential(seller, clientID, clientSecret, certificateURI string) (*BankCredential, error) {
	if seller == "" {
		return nil, errors.New("seller address is required")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("client id and secret are required")
	}
	return &BankCredential{
		SellerAddress:  seller,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		CertificateURI: certificateURI,
		CreatedAt:      time.Now().UTC().UnixMilli(),
	}, nil
}
