// Package memory implements the store interfaces in process memory with the
// same guarded-mutation and partial-unique-index semantics as the Mongo
// implementation. It backs the package tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// AdvertisementStore is an in-memory iface.AdvertisementStore.
type AdvertisementStore struct {
	mu  sync.Mutex
	ads map[primitive.ObjectID]*types.Advertisement
}

// NewAdvertisementStore builds an empty store.
func NewAdvertisementStore() *AdvertisementStore {
	return &AdvertisementStore{ads: make(map[primitive.ObjectID]*types.Advertisement)}
}

func (s *AdvertisementStore) Insert(_ context.Context, ad *types.Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ad.IsActive {
		for _, other := range s.ads {
			if other.SellerAddress == ad.SellerAddress && other.IsActive {
				return iface.ErrDuplicateKey
			}
		}
	}
	if ad.ID.IsZero() {
		ad.ID = primitive.NewObjectID()
	}
	cp := *ad
	s.ads[ad.ID] = &cp
	return nil
}

func (s *AdvertisementStore) ByID(_ context.Context, id primitive.ObjectID) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) ActiveBySeller(_ context.Context, seller string) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ad := range s.ads {
		if ad.SellerAddress == seller && ad.IsActive {
			cp := *ad
			return &cp, nil
		}
	}
	return nil, iface.ErrNotFound
}

func (s *AdvertisementStore) ByStatus(_ context.Context, status types.AdvertisementStatus) ([]*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Advertisement
	for _, ad := range s.ads {
		if ad.Status == status {
			cp := *ad
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AdvertisementStore) Reserve(_ context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok || ad.AvailableAmount < amount {
		return nil, nil
	}
	ad.AvailableAmount -= amount
	ad.UpdatedAt = nowMillis()
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) Refund(_ context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return nil, nil
	}
	ad.AvailableAmount += amount
	ad.UpdatedAt = nowMillis()
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) AddDeposit(_ context.Context, id primitive.ObjectID, amount int64) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return nil, nil
	}
	ad.TotalDeposited += amount
	ad.AvailableAmount += amount
	ad.Status = types.AdReady
	ad.IsActive = true
	ad.UpdatedAt = nowMillis()
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) LockForDeposit(_ context.Context, id primitive.ObjectID) (*types.Advertisement, error) {
	return s.UpdateStatus(context.Background(), id, []types.AdvertisementStatus{types.AdReady}, types.AdProcessingDeposit)
}

func (s *AdvertisementStore) UpdateStatus(_ context.Context, id primitive.ObjectID, from []types.AdvertisementStatus, to types.AdvertisementStatus) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return nil, nil
	}
	match := false
	for _, f := range from {
		if ad.Status == f {
			match = true
			break
		}
	}
	if !match {
		return nil, nil
	}
	ad.Status = to
	ad.IsActive = to.Active()
	ad.UpdatedAt = nowMillis()
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) UpdatePricing(_ context.Context, id primitive.ObjectID, seller string, mode types.PricingMode, price, offsetBP, minAmount, maxAmount int64) (*types.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok || ad.SellerAddress != seller {
		return nil, nil
	}
	switch ad.Status {
	case types.AdFinishing, types.AdClosed, types.AdDisabled:
		return nil, nil
	}
	ad.PricingMode = mode
	ad.Price = price
	ad.PriceOffsetBP = offsetBP
	ad.MinAmount = minAmount
	ad.MaxAmount = maxAmount
	ad.UpdatedAt = nowMillis()
	cp := *ad
	return &cp, nil
}

func (s *AdvertisementStore) SetPixKey(_ context.Context, id primitive.ObjectID, key string, credentialsID primitive.ObjectID, refreshedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return iface.ErrNotFound
	}
	ad.PixKey = key
	ad.BankCredentialsID = credentialsID
	ad.PixKeyRefreshedAt = refreshedAt
	ad.UpdatedAt = nowMillis()
	return nil
}

// DepositStore is an in-memory iface.DepositStore.
type DepositStore struct {
	mu       sync.Mutex
	deposits map[primitive.ObjectID]*types.AdvertisementDeposit
}

// NewDepositStore builds an empty store.
func NewDepositStore() *DepositStore {
	return &DepositStore{deposits: make(map[primitive.ObjectID]*types.AdvertisementDeposit)}
}

func (s *DepositStore) Insert(_ context.Context, d *types.AdvertisementDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	cp := *d
	s.deposits[d.ID] = &cp
	return nil
}

func (s *DepositStore) ByID(_ context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *DepositStore) ByAdvertisement(_ context.Context, adID primitive.ObjectID) ([]*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.AdvertisementDeposit
	for _, d := range s.deposits {
		if d.AdvertisementID == adID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *DepositStore) PendingWithTx(_ context.Context) ([]*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.AdvertisementDeposit
	for _, d := range s.deposits {
		if d.Status == types.DepositPending && d.BlockchainTxID != "" {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *DepositStore) MarkPending(_ context.Context, id primitive.ObjectID, txID string, amount int64) (*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.DepositDraft {
		return nil, nil
	}
	d.Status = types.DepositPending
	d.BlockchainTxID = txID
	d.Amount = amount
	d.UpdatedAt = nowMillis()
	cp := *d
	return &cp, nil
}

func (s *DepositStore) MarkConfirmed(_ context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.DepositPending {
		return nil, nil
	}
	now := nowMillis()
	d.Status = types.DepositConfirmed
	d.ConfirmedAt = now
	d.UpdatedAt = now
	cp := *d
	return &cp, nil
}

func (s *DepositStore) MarkFailed(_ context.Context, id primitive.ObjectID) (*types.AdvertisementDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || (d.Status != types.DepositDraft && d.Status != types.DepositPending) {
		return nil, nil
	}
	d.Status = types.DepositFailed
	d.UpdatedAt = nowMillis()
	cp := *d
	return &cp, nil
}

// BuyStore is an in-memory iface.BuyStore.
type BuyStore struct {
	mu   sync.Mutex
	buys map[primitive.ObjectID]*types.Buy
}

// NewBuyStore builds an empty store.
func NewBuyStore() *BuyStore {
	return &BuyStore{buys: make(map[primitive.ObjectID]*types.Buy)}
}

func (s *BuyStore) Insert(_ context.Context, b *types.Buy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !b.IsFinal {
		for _, other := range s.buys {
			if other.AdvertisementID == b.AdvertisementID && other.AddressBuy == b.AddressBuy && !other.IsFinal {
				return iface.ErrDuplicateKey
			}
		}
	}
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	cp := *b
	s.buys[b.ID] = &cp
	return nil
}

func (s *BuyStore) ByID(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buys[id]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *BuyStore) ByStatus(_ context.Context, status types.BuyStatus) ([]*types.Buy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Buy
	for _, b := range s.buys {
		if b.Status == status {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *BuyStore) ExpiredPending(_ context.Context, now int64) ([]*types.Buy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Buy
	for _, b := range s.buys {
		if b.Status == types.BuyPending && b.ExpiresAt <= now {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *BuyStore) CountNonFinalByAdvertisement(_ context.Context, adID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.buys {
		if b.AdvertisementID == adID && !b.IsFinal {
			n++
		}
	}
	return n, nil
}

// guardedTransition applies a status move when the predicate matches.
func (s *BuyStore) guardedTransition(id primitive.ObjectID, pred func(*types.Buy) bool, to types.BuyStatus, mutate func(*types.Buy)) (*types.Buy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buys[id]
	if !ok || !pred(b) {
		return nil, nil
	}
	b.Status = to
	b.IsFinal = to.Final()
	b.UpdatedAt = nowMillis()
	if mutate != nil {
		mutate(b)
	}
	cp := *b
	return &cp, nil
}

func (s *BuyStore) Expire(_ context.Context, id primitive.ObjectID, now int64) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyPending && b.ExpiresAt <= now
	}, types.BuyExpired, nil)
}

func (s *BuyStore) Cancel(_ context.Context, id primitive.ObjectID, buyer string) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyPending && b.AddressBuy == buyer
	}, types.BuyCancelled, nil)
}

func (s *BuyStore) MarkPaid(_ context.Context, id primitive.ObjectID, confirmationCode string) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyPending
	}, types.BuyPaid, func(b *types.Buy) {
		if confirmationCode != "" {
			b.PixConfirmationCode = confirmationCode
		}
	})
}

func (s *BuyStore) MarkPaymentConfirmed(_ context.Context, id primitive.ObjectID, endToEndID string) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyPaid
	}, types.BuyPaymentConfirmed, func(b *types.Buy) {
		b.PixEndToEndID = endToEndID
	})
}

func (s *BuyStore) MarkInDispute(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyPending || b.Status == types.BuyPaid
	}, types.BuyInDispute, nil)
}

func (s *BuyStore) MarkDisputeFavorBuyer(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyInDispute
	}, types.BuyDisputeFavorBuyer, nil)
}

func (s *BuyStore) MarkDisputeFavorSeller(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyInDispute
	}, types.BuyDisputeFavorSeller, nil)
}

func (s *BuyStore) MarkDisputeResolvedBuyer(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyDisputeFavorBuyer
	}, types.BuyDisputeResolvedBuyer, nil)
}

func (s *BuyStore) MarkDisputeResolvedSeller(_ context.Context, id primitive.ObjectID) (*types.Buy, error) {
	return s.guardedTransition(id, func(b *types.Buy) bool {
		return b.Status == types.BuyDisputeFavorSeller
	}, types.BuyDisputeResolvedSeller, nil)
}

func (s *BuyStore) IncrementVerificationAttempts(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buys[id]
	if !ok {
		return iface.ErrNotFound
	}
	b.PixVerificationAttempts++
	return nil
}

// PaymentRequestStore is an in-memory iface.PaymentRequestStore.
type PaymentRequestStore struct {
	mu       sync.Mutex
	requests map[primitive.ObjectID]*types.PaymentRequest
}

// NewPaymentRequestStore builds an empty store.
func NewPaymentRequestStore() *PaymentRequestStore {
	return &PaymentRequestStore{requests: make(map[primitive.ObjectID]*types.PaymentRequest)}
}

func (s *PaymentRequestStore) Insert(_ context.Context, pr *types.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr.IsActive {
		for _, other := range s.requests {
			if other.SourceID == pr.SourceID && other.IsActive {
				return iface.ErrDuplicateKey
			}
		}
	}
	if pr.ID.IsZero() {
		pr.ID = primitive.NewObjectID()
	}
	cp := *pr
	s.requests[pr.ID] = &cp
	return nil
}

func (s *PaymentRequestStore) ByID(_ context.Context, id primitive.ObjectID) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[id]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (s *PaymentRequestStore) ByStatus(_ context.Context, status types.PaymentRequestStatus) ([]*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PaymentRequest
	for _, pr := range s.requests {
		if pr.Status == status {
			cp := *pr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *PaymentRequestStore) ActiveBySource(_ context.Context, sourceID primitive.ObjectID) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range s.requests {
		if pr.SourceID == sourceID && pr.IsActive {
			cp := *pr
			return &cp, nil
		}
	}
	return nil, iface.ErrNotFound
}

func (s *PaymentRequestStore) PendingAutomaticOlderThan(_ context.Context, cutoff int64) ([]*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PaymentRequest
	for _, pr := range s.requests {
		if pr.Status == types.PaymentPendingAutomatic && pr.UpdatedAt <= cutoff {
			cp := *pr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *PaymentRequestStore) UpdateStatusAtomic(_ context.Context, id primitive.ObjectID, from []types.PaymentRequestStatus, to types.PaymentRequestStatus) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	match := false
	for _, f := range from {
		if pr.Status == f {
			match = true
			break
		}
	}
	if !match {
		return nil, nil
	}
	pr.Status = to
	pr.IsActive = to.Active()
	pr.UpdatedAt = nowMillis()
	cp := *pr
	return &cp, nil
}

func (s *PaymentRequestStore) MarkBroadcast(_ context.Context, id primitive.ObjectID, txID string) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[id]
	if !ok || pr.Status != types.PaymentProcessing {
		return nil, nil
	}
	pr.Status = types.PaymentBroadcast
	pr.IsActive = true
	pr.BlockchainTxID = txID
	pr.UpdatedAt = nowMillis()
	cp := *pr
	return &cp, nil
}

func (s *PaymentRequestStore) MarkFailed(_ context.Context, id primitive.ObjectID, reason string) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	pr.Status = types.PaymentFailed
	pr.IsActive = false
	pr.FailureReason = reason
	pr.UpdatedAt = nowMillis()
	cp := *pr
	return &cp, nil
}

// InviteStore is an in-memory iface.InviteStore.
type InviteStore struct {
	mu      sync.Mutex
	invites map[string]*types.Invite
}

// NewInviteStore builds an empty store.
func NewInviteStore() *InviteStore {
	return &InviteStore{invites: make(map[string]*types.Invite)}
}

func (s *InviteStore) Insert(_ context.Context, inv *types.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invites[inv.Code]; exists {
		return iface.ErrDuplicateKey
	}
	if inv.ID.IsZero() {
		inv.ID = primitive.NewObjectID()
	}
	cp := *inv
	s.invites[inv.Code] = &cp
	return nil
}

func (s *InviteStore) ByCode(_ context.Context, code string) (*types.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *InviteStore) Claim(_ context.Context, code, address string) (*types.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok || inv.Status != types.InviteOpen {
		return nil, nil
	}
	inv.Status = types.InviteRedeemed
	inv.ClaimedAddress = address
	inv.RedeemedAt = nowMillis()
	cp := *inv
	return &cp, nil
}

// BankCredentialStore is an in-memory iface.BankCredentialStore.
type BankCredentialStore struct {
	mu    sync.Mutex
	creds []*types.BankCredential
}

// NewBankCredentialStore builds an empty store.
func NewBankCredentialStore() *BankCredentialStore {
	return &BankCredentialStore{}
}

func (s *BankCredentialStore) Insert(_ context.Context, c *types.BankCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	cp := *c
	s.creds = append(s.creds, &cp)
	return nil
}

func (s *BankCredentialStore) ByID(_ context.Context, id primitive.ObjectID) (*types.BankCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, iface.ErrNotFound
}

func (s *BankCredentialStore) LatestBySeller(_ context.Context, seller string) (*types.BankCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.BankCredential
	for _, c := range s.creds {
		if c.SellerAddress != seller {
			continue
		}
		if latest == nil || c.CreatedAt >= latest.CreatedAt {
			latest = c
		}
	}
	if latest == nil {
		return nil, iface.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

var (
	_ iface.AdvertisementStore  = (*AdvertisementStore)(nil)
	_ iface.DepositStore        = (*DepositStore)(nil)
	_ iface.BuyStore            = (*BuyStore)(nil)
	_ iface.PaymentRequestStore = (*PaymentRequestStore)(nil)
	_ iface.InviteStore         = (*InviteStore)(nil)
	_ iface.BankCredentialStore = (*BankCredentialStore)(nil)
)
