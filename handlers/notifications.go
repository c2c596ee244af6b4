package handlers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
	"github.com/ronoel/b2pix-stacks-sub000/events"
)

// MailHandler sends invite codes by email.
type MailHandler struct {
	sender clients.EmailSender
}

// NewMailHandler wires the handler.
func NewMailHandler(sender clients.EmailSender) *MailHandler {
	return &MailHandler{sender: sender}
}

func (h *MailHandler) Name() string { return "MailHandler" }

func (h *MailHandler) CanHandle(eventName string) bool {
	return eventName == events.EventInviteCreated
}

func (h *MailHandler) Handle(ctx context.Context, ev *events.Event) error {
	email, _ := ev.Data["email"].(string)
	code, _ := ev.Data["code"].(string)
	if email == "" {
		// Invites without an email are handed out off-channel.
		return nil
	}
	if code == "" {
		return errors.New("invite event carries no code")
	}
	body := fmt.Sprintf("Seu convite para o B2PIX: %s\n\nResgate em b2pix.org para começar a vender.", code)
	return h.sender.Send(ctx, email, "Convite B2PIX", body)
}

// TrelloHandler raises operator cards for disputes and failed payouts.
type TrelloHandler struct {
	board clients.BoardSink
}

// NewTrelloHandler wires the handler.
func NewTrelloHandler(board clients.BoardSink) *TrelloHandler {
	return &TrelloHandler{board: board}
}

func (h *TrelloHandler) Name() string { return "TrelloHandler" }

func (h *TrelloHandler) CanHandle(eventName string) bool {
	switch eventName {
	case events.EventBuyInDispute, events.EventPaymentRequestFailed:
		return true
	}
	return false
}

func (h *TrelloHandler) Handle(ctx context.Context, ev *events.Event) error {
	reason, _ := ev.Data["reason"].(string)
	switch ev.EventName {
	case events.EventBuyInDispute:
		buyID, _ := ev.Data["buy_id"].(string)
		title := fmt.Sprintf("Disputa: compra %s", buyID)
		return h.board.CreateCard(ctx, title, reason)
	case events.EventPaymentRequestFailed:
		prID, _ := ev.Data["payment_request_id"].(string)
		title := fmt.Sprintf("Pagamento manual: %s", prID)
		return h.board.CreateCard(ctx, title, reason)
	default:
		return nil
	}
}
