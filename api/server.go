package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/stackscrypto"
)

var log = logrus.WithField("prefix", "api")

// Config wires the server to the domain services.
type Config struct {
	Addr           string
	ManagerAddress string
	Network        stackscrypto.Network

	Invites  *services.InviteService
	Bank     *services.BankService
	Ads      *services.AdvertisementService
	Deposits *services.DepositService
	Buys     *services.BuyService
	Events   events.Store
}

// Service runs the HTTP API as a registry service.
type Service struct {
	cfg        *Config
	server     *http.Server
	failStatus error
}

// NewService builds the router and the underlying http.Server.
func NewService(cfg *Config) *Service {
	s := &Service{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/v1/invites", s.sendInvite).Methods(http.MethodPost)
	r.HandleFunc("/v1/invites/redeem", s.redeemInvite).Methods(http.MethodPost)
	r.HandleFunc("/v1/invites/{code}", s.getInvite).Methods(http.MethodGet)

	r.HandleFunc("/v1/bank", s.setupBank).Methods(http.MethodPost)
	r.HandleFunc("/v1/bank/credentials", s.setBankCredentials).Methods(http.MethodPost)
	r.HandleFunc("/v1/bank/certificate", s.setCertificate).Methods(http.MethodPost)

	r.HandleFunc("/v1/advertisements", s.createAdvertisement).Methods(http.MethodPost)
	r.HandleFunc("/v1/advertisements/finish", s.finishAdvertisement).Methods(http.MethodPost)
	r.HandleFunc("/v1/advertisements/{id}", s.getAdvertisement).Methods(http.MethodGet)
	r.HandleFunc("/v1/advertisements/{id}/deposits", s.createDeposit).Methods(http.MethodPost)
	r.HandleFunc("/v1/sellers/{address}/advertisement", s.activeAdvertisement).Methods(http.MethodGet)

	r.HandleFunc("/v1/buys", s.startBuy).Methods(http.MethodPost)
	r.HandleFunc("/v1/buys/paid", s.markPaid).Methods(http.MethodPost)
	r.HandleFunc("/v1/buys/cancel", s.cancelBuy).Methods(http.MethodPost)
	r.HandleFunc("/v1/buys/dispute/resolve", s.resolveDispute).Methods(http.MethodPost)
	r.HandleFunc("/v1/buys/{id}", s.getBuy).Methods(http.MethodGet)

	r.HandleFunc("/v1/events/stats", s.eventStats).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Service) Router() http.Handler {
	return s.server.Handler
}

// Start the API server.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Could not listen on %s", s.server.Addr)
			s.failStatus = err
		}
	}()
}

// Stop the server gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping API server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	return s.failStatus
}

// authenticate verifies the signature and derives the signer's address.
func (s *Service) authenticate(req *SignedRequest) (string, error) {
	if err := stackscrypto.VerifyMessage(req.Payload, req.Signature, req.PublicKey); err != nil {
		return "", err
	}
	addr, err := stackscrypto.AddressFromPublicKeyHex(req.PublicKey, s.cfg.Network)
	if err != nil {
		return "", errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return addr, nil
}

// signedAction runs the shared front half of every mutating endpoint:
// decode, verify the signature, parse the frame. On failure it writes the
// response itself and reports ok=false.
func (s *Service) signedAction(w http.ResponseWriter, r *http.Request, action string) (req *SignedRequest, pl *payload, signer string, ok bool) {
	req = &SignedRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "malformed request body"})
		return nil, nil, "", false
	}
	signer, err := s.authenticate(req)
	if err != nil {
		writeError(w, err)
		return nil, nil, "", false
	}
	pl, err = parsePayload(req.Payload, action, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return nil, nil, "", false
	}
	return req, pl, signer, true
}

// requireManager rejects signers other than the configured manager address.
func (s *Service) requireManager(w http.ResponseWriter, signer string) bool {
	if signer != s.cfg.ManagerAddress {
		writeError(w, errors.Wrap(services.ErrUnauthorized, "manager signature required"))
		return false
	}
	return true
}
