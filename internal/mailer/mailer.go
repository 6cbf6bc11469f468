// Package mailer sends transactional email through SendGrid.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"editions/internal/jobs"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("mailer: sendgrid api key not configured")

// Sender is the SendGrid call the mailer makes.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer delivers jobs.SendEmail payloads.
type Mailer struct {
	sender      Sender
	defaultFrom string
}

// New builds a Mailer for apiKey. An empty key yields a mailer that refuses to send.
func New(apiKey, defaultFrom string) *Mailer {
	m := &Mailer{defaultFrom: defaultFrom}
	if apiKey != "" {
		m.sender = sendgrid.NewSendClient(apiKey)
	}
	return m
}

// NewWithSender builds a Mailer on an explicit sender.
func NewWithSender(sender Sender, defaultFrom string) *Mailer {
	return &Mailer{sender: sender, defaultFrom: defaultFrom}
}

// Send delivers one email.
func (m *Mailer) Send(ctx context.Context, e jobs.SendEmail) error {
	if m.sender == nil {
		return ErrNotConfigured
	}
	if e.To == "" {
		return fmt.Errorf("mailer: missing recipient")
	}
	from := e.From
	if from == "" {
		from = m.defaultFrom
	}

	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail("", from))
	msg.Subject = e.Subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", e.To))
	msg.AddPersonalizations(p)
	if e.ReplyTo != "" {
		msg.SetReplyTo(mail.NewEmail("", e.ReplyTo))
	}
	if e.Text != "" {
		msg.AddContent(mail.NewContent("text/plain", e.Text))
	}
	if e.HTML != "" {
		msg.AddContent(mail.NewContent("text/html", e.HTML))
	}

	resp, err := m.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send email: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
