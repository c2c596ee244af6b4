package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/pricing"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/stackscrypto"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// response is the body of every mutating endpoint. Message carries the
// created aggregate's id on success and the rejection reason otherwise.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("Could not write response body")
	}
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: message})
}

// writeError maps a domain error onto the HTTP status taxonomy. Unknown
// errors are treated as retryable and come back 500 without their internals.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stackscrypto.ErrSignatureMismatch):
		writeJSON(w, http.StatusUnauthorized, response{Message: "signature does not match public key"})
	case errors.Is(err, services.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, response{Message: err.Error()})
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, pricing.ErrPriceMismatch),
		errors.Is(err, pricing.ErrPriceTooLow):
		writeJSON(w, http.StatusBadRequest, response{Message: err.Error()})
	case errors.Is(err, services.ErrStateConflict), errors.Is(err, types.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, response{Message: err.Error()})
	case errors.Is(err, iface.ErrNotFound):
		writeJSON(w, http.StatusNotFound, response{Message: "not found"})
	default:
		log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, response{Message: "internal error"})
	}
}

// View types keep the wire format stable and independent of the bson models.

type advertisementView struct {
	ID              string `json:"id"`
	SellerAddress   string `json:"seller_address"`
	Token           string `json:"token"`
	Currency        string `json:"currency"`
	PricingMode     string `json:"pricing_mode"`
	Price           int64  `json:"price"`
	PriceOffsetBP   int64  `json:"price_offset_bp"`
	AvailableAmount int64  `json:"available_amount"`
	MinAmount       int64  `json:"min_amount"`
	MaxAmount       int64  `json:"max_amount"`
	PixKey          string `json:"pix_key,omitempty"`
	Status          string `json:"status"`
}

func newAdvertisementView(ad *types.Advertisement) advertisementView {
	return advertisementView{
		ID:              ad.ID.Hex(),
		SellerAddress:   ad.SellerAddress,
		Token:           ad.Token,
		Currency:        ad.Currency,
		PricingMode:     string(ad.PricingMode),
		Price:           ad.Price,
		PriceOffsetBP:   ad.PriceOffsetBP,
		AvailableAmount: ad.AvailableAmount,
		MinAmount:       ad.MinAmount,
		MaxAmount:       ad.MaxAmount,
		PixKey:          ad.PixKey,
		Status:          string(ad.Status),
	}
}

type buyView struct {
	ID              string `json:"id"`
	AdvertisementID string `json:"advertisement_id"`
	Amount          int64  `json:"amount"`
	Price           int64  `json:"price"`
	PayValue        int64  `json:"pay_value"`
	AddressBuy      string `json:"address_buy"`
	PixKey          string `json:"pix_key,omitempty"`
	Status          string `json:"status"`
	ExpiresAt       int64  `json:"expires_at"`
}

func newBuyView(b *types.Buy) buyView {
	return buyView{
		ID:              b.ID.Hex(),
		AdvertisementID: b.AdvertisementID.Hex(),
		Amount:          b.Amount,
		Price:           b.Price,
		PayValue:        b.PayValue,
		AddressBuy:      b.AddressBuy,
		PixKey:          b.PixKey,
		Status:          string(b.Status),
		ExpiresAt:       b.ExpiresAt,
	}
}

type inviteView struct {
	Code           string `json:"code"`
	Status         string `json:"status"`
	ClaimedAddress string `json:"claimed_address,omitempty"`
}

func newInviteView(inv *types.Invite) inviteView {
	return inviteView{
		Code:           inv.Code,
		Status:         string(inv.Status),
		ClaimedAddress: inv.ClaimedAddress,
	}
}
