// Package api exposes the exchange over HTTP. Every mutating endpoint
// receives a signed payload: the caller signs a line-oriented text frame
// with their Stacks key and the server derives the signer's address from
// the public key before touching any aggregate.
package api

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SignedRequest is the body of every mutating endpoint. Certificate carries
// a base64 PKCS#12 bundle on the bank actions that upload one.
type SignedRequest struct {
	Payload     string `json:"payload"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"public_key"`
	Certificate string `json:"certificate,omitempty"`
}

// Action labels, verbatim as the wallet presents them for signing.
const (
	ActionSendInvite         = "B2PIX - Enviar Convite"
	ActionRedeemInvite       = "B2PIX - Resgatar Convite"
	ActionSetupBank          = "B2PIX - Configurar Banco"
	ActionSetBankCredentials = "B2PIX - Definir Credenciais Bancárias"
	ActionSetCertificate     = "B2PIX - Definir Certificado"
	ActionFinishAd           = "B2PIX - Finalizar Anúncio"
	ActionBuy                = "B2PIX - Comprar"
	ActionMarkPaid           = "B2PIX - Marcar como Pago"
	ActionCancelBuy          = "B2PIX - Cancelar Compra"
	ActionResolveDispute     = "B2PIX - Resolver Disputa"
)

// payloadDomain is the literal second line of every frame; it pins the
// signature to this deployment so a signed frame cannot be replayed against
// another site.
const payloadDomain = "b2pix.org"

// timestampSkew bounds how far the frame's timestamp may drift from the
// server clock, in either direction.
const timestampSkew = 5 * time.Minute

// ErrMalformedPayload covers every frame-level rejection: wrong action,
// wrong domain, missing or drifted timestamp.
var ErrMalformedPayload = errors.New("malformed payload")

// payload is a parsed frame. Args are the action-specific lines between the
// domain and the timestamp.
type payload struct {
	Action   string
	Args     []string
	IssuedAt time.Time
}

// parsePayload validates the common frame: line 1 the action label, line 2
// the domain, last line an RFC-3339 timestamp within the allowed skew of
// now, everything between them the action's arguments.
func parsePayload(raw, wantAction string, now time.Time) (*payload, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 3 {
		return nil, errors.Wrap(ErrMalformedPayload, "frame needs at least action, domain and timestamp")
	}
	if lines[0] != wantAction {
		return nil, errors.Wrapf(ErrMalformedPayload, "unexpected action %q", lines[0])
	}
	if lines[1] != payloadDomain {
		return nil, errors.Wrapf(ErrMalformedPayload, "unexpected domain %q", lines[1])
	}
	issued, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[len(lines)-1]))
	if err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, "timestamp is not RFC-3339")
	}
	drift := now.Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > timestampSkew {
		return nil, errors.Wrapf(ErrMalformedPayload, "timestamp drifted %s from server time", drift)
	}
	args := make([]string, 0, len(lines)-3)
	for _, l := range lines[2 : len(lines)-1] {
		args = append(args, strings.TrimSpace(l))
	}
	return &payload{Action: wantAction, Args: args, IssuedAt: issued}, nil
}
