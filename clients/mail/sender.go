// Package mail sends notification email over SMTP.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
)

// Sender is a clients.EmailSender over plain SMTP with AUTH.
type Sender struct {
	host string
	port string
	from string
	auth smtp.Auth
}

var _ clients.EmailSender = (*Sender)(nil)

// New builds a sender authenticating as from@host.
func New(host, port, from, password string) *Sender {
	return &Sender{
		host: host,
		port: port,
		from: from,
		auth: smtp.PlainAuth("", from, password, host),
	}
}

// Send delivers one message. The context only gates entry; smtp.SendMail
// carries its own dial timeout.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := smtp.SendMail(addr, s.auth, s.from, []string{to}, []byte(msg.String())); err != nil {
		return errors.Wrapf(err, "could not send mail to %s", to)
	}
	return nil
}
