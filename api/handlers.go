package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/types"
)

func parseObjectID(w http.ResponseWriter, raw string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "malformed object id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func argCount(w http.ResponseWriter, pl *payload, min, max int) bool {
	if len(pl.Args) < min || len(pl.Args) > max {
		writeError(w, errors.Wrapf(ErrMalformedPayload, "%s expects %d to %d arguments", pl.Action, min, max))
		return false
	}
	return true
}

// Frame: code [, email].
func (s *Service) sendInvite(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionSendInvite)
	if !ok || !s.requireManager(w, signer) {
		return
	}
	if !argCount(w, pl, 1, 2) {
		return
	}
	email := ""
	if len(pl.Args) == 2 {
		email = pl.Args[1]
	}
	inv, err := s.cfg.Invites.Send(r.Context(), pl.Args[0], email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, inv.Code)
}

// Frame: code, address. The signer must be the address being bound.
func (s *Service) redeemInvite(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionRedeemInvite)
	if !ok || !argCount(w, pl, 2, 2) {
		return
	}
	if signer != pl.Args[1] {
		writeError(w, errors.Wrap(services.ErrUnauthorized, "signer does not match invite address"))
		return
	}
	inv, err := s.cfg.Invites.Redeem(r.Context(), pl.Args[0], signer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, inv.Code)
}

func (s *Service) getInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := s.cfg.Invites.ByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInviteView(inv))
}

func decodeCertificate(w http.ResponseWriter, req *SignedRequest, required bool) ([]byte, bool) {
	if req.Certificate == "" {
		if required {
			writeError(w, errors.Wrap(ErrMalformedPayload, "certificate is required"))
			return nil, false
		}
		return nil, true
	}
	cert, err := base64.StdEncoding.DecodeString(req.Certificate)
	if err != nil {
		writeError(w, errors.Wrap(ErrMalformedPayload, "certificate is not valid base64"))
		return nil, false
	}
	return cert, true
}

// bankAction is the shared shape of the three bank endpoints.
// Frame: address, client_id, client_secret (setCertificate takes address only).
func (s *Service) bankAction(w http.ResponseWriter, r *http.Request, action string, needPair, needCert bool) {
	req, pl, signer, ok := s.signedAction(w, r, action)
	if !ok {
		return
	}
	wantArgs := 1
	if needPair {
		wantArgs = 3
	}
	if !argCount(w, pl, wantArgs, wantArgs) {
		return
	}
	if signer != pl.Args[0] {
		writeError(w, errors.Wrap(services.ErrUnauthorized, "signer does not match seller address"))
		return
	}
	cert, ok := decodeCertificate(w, req, needCert)
	if !ok {
		return
	}
	var err error
	if needPair {
		_, err = s.cfg.Bank.SetCredentials(r.Context(), signer, pl.Args[1], pl.Args[2], cert)
	} else {
		_, err = s.cfg.Bank.SetCertificate(r.Context(), signer, cert)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, signer)
}

func (s *Service) setupBank(w http.ResponseWriter, r *http.Request) {
	s.bankAction(w, r, ActionSetupBank, true, true)
}

func (s *Service) setBankCredentials(w http.ResponseWriter, r *http.Request) {
	s.bankAction(w, r, ActionSetBankCredentials, true, false)
}

func (s *Service) setCertificate(w http.ResponseWriter, r *http.Request) {
	s.bankAction(w, r, ActionSetCertificate, false, true)
}

type createAdvertisementRequest struct {
	SellerAddress string `json:"seller_address"`
	Token         string `json:"token"`
	Currency      string `json:"currency"`
	PricingMode   string `json:"pricing_mode"`
	Price         int64  `json:"price"`
	PriceOffsetBP int64  `json:"price_offset_bp"`
	MinAmount     int64  `json:"min_amount"`
	MaxAmount     int64  `json:"max_amount"`
	SerializedTx  string `json:"serialized_tx"`
}

// createAdvertisement opens the advertisement and records its funding
// deposit in one call. The escrow transaction itself authorizes the seller:
// the chain service refuses to broadcast a deposit not signed by the
// advertised seller address.
func (s *Service) createAdvertisement(w http.ResponseWriter, r *http.Request) {
	var req createAdvertisementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "malformed request body"})
		return
	}
	mode := types.PricingMode(strings.ToUpper(req.PricingMode))
	if mode != types.PricingFixed && mode != types.PricingDynamic {
		writeJSON(w, http.StatusBadRequest, response{Message: "pricing_mode must be FIXED or DYNAMIC"})
		return
	}
	if req.SerializedTx == "" {
		writeJSON(w, http.StatusBadRequest, response{Message: "serialized_tx is required"})
		return
	}
	ad, err := s.cfg.Ads.Create(r.Context(), req.SellerAddress, req.Token, req.Currency,
		mode, req.Price, req.PriceOffsetBP, req.MinAmount, req.MaxAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.cfg.Deposits.Create(r.Context(), ad.ID, req.SellerAddress, req.SerializedTx); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, ad.ID.Hex())
}

type createDepositRequest struct {
	SellerAddress string `json:"seller_address"`
	SerializedTx  string `json:"serialized_tx"`
}

func (s *Service) createDeposit(w http.ResponseWriter, r *http.Request) {
	adID, ok := parseObjectID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "malformed request body"})
		return
	}
	deposit, err := s.cfg.Deposits.Create(r.Context(), adID, req.SellerAddress, req.SerializedTx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, deposit.ID.Hex())
}

func (s *Service) getAdvertisement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObjectID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	ad, err := s.cfg.Ads.ByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdvertisementView(ad))
}

func (s *Service) activeAdvertisement(w http.ResponseWriter, r *http.Request) {
	ad, err := s.cfg.Ads.ActiveBySeller(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdvertisementView(ad))
}

// Frame: advertisement_id.
func (s *Service) finishAdvertisement(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionFinishAd)
	if !ok || !argCount(w, pl, 1, 1) {
		return
	}
	id, ok := parseObjectID(w, pl.Args[0])
	if !ok {
		return
	}
	ad, err := s.cfg.Ads.Finish(r.Context(), id, signer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, ad.ID.Hex())
}

// Frame: advertisement_id, buyer_address, pay_value cents, quoted price.
func (s *Service) startBuy(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionBuy)
	if !ok || !argCount(w, pl, 4, 4) {
		return
	}
	if signer != pl.Args[1] {
		writeError(w, errors.Wrap(services.ErrUnauthorized, "signer does not match buyer address"))
		return
	}
	adID, ok := parseObjectID(w, pl.Args[0])
	if !ok {
		return
	}
	payValue, err1 := strconv.ParseInt(pl.Args[2], 10, 64)
	price, err2 := strconv.ParseInt(pl.Args[3], 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, errors.Wrap(ErrMalformedPayload, "pay value and price must be integers"))
		return
	}
	buy, err := s.cfg.Buys.Start(r.Context(), adID, signer, payValue, price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBuyView(buy))
}

// Frame: buy_id [, confirmation code].
func (s *Service) markPaid(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionMarkPaid)
	if !ok || !argCount(w, pl, 1, 2) {
		return
	}
	id, ok := parseObjectID(w, pl.Args[0])
	if !ok {
		return
	}
	code := ""
	if len(pl.Args) == 2 {
		code = pl.Args[1]
	}
	buy, err := s.cfg.Buys.MarkPaid(r.Context(), id, signer, code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, buy.ID.Hex())
}

// Frame: buy_id.
func (s *Service) cancelBuy(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionCancelBuy)
	if !ok || !argCount(w, pl, 1, 1) {
		return
	}
	id, ok := parseObjectID(w, pl.Args[0])
	if !ok {
		return
	}
	buy, err := s.cfg.Buys.Cancel(r.Context(), id, signer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, buy.ID.Hex())
}

// Frame: buy_id, favored party ("comprador" or "vendedor"). Manager only.
func (s *Service) resolveDispute(w http.ResponseWriter, r *http.Request) {
	_, pl, signer, ok := s.signedAction(w, r, ActionResolveDispute)
	if !ok || !s.requireManager(w, signer) {
		return
	}
	if !argCount(w, pl, 2, 2) {
		return
	}
	id, ok := parseObjectID(w, pl.Args[0])
	if !ok {
		return
	}
	var favorBuyer bool
	switch strings.ToLower(pl.Args[1]) {
	case "comprador":
		favorBuyer = true
	case "vendedor":
		favorBuyer = false
	default:
		writeError(w, errors.Wrap(ErrMalformedPayload, "favored party must be comprador or vendedor"))
		return
	}
	buy, err := s.cfg.Buys.ResolveDispute(r.Context(), id, favorBuyer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, buy.ID.Hex())
}

func (s *Service) getBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObjectID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	buy, err := s.cfg.Buys.ByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBuyView(buy))
}

func (s *Service) eventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Events.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
