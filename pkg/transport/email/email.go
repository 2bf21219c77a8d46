package email

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/pkg/transport"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers kind=email outbox items over SMTP.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    bool   `json:"html,omitempty"`
}

func NewSender(cfg Config) *Sender {
	return &Sender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *Sender) Send(ctx context.Context, item *model.OutboxItem) (*transport.SendResult, error) {
	var msg message
	if err := json.Unmarshal(item.Payload, &msg); err != nil {
		return nil, transport.NewPermanent("invalid_payload", fmt.Sprintf("malformed email payload: %v", err))
	}
	if msg.To == "" {
		return nil, transport.NewPermanent("invalid_payload", "email payload missing recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.HTML {
		m.SetBody("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}

	// gomail has no context support; SMTP failures are transient by default.
	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, transport.NewRetryable("smtp", err.Error())
	}
	return &transport.SendResult{MessageID: fmt.Sprintf("email-%d", item.ID)}, nil
}
