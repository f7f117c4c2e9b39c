// Package notify sends the booking confirmation e-mail.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/models"
)

const (
	DefaultFromName = "Clínica Dental"
	sendPath        = "/v3/mail/send"
)

// ErrMissingSender is returned when the mailer has no from address.
var ErrMissingSender = errors.New("mail sender address is required")

// Mailer delivers booking confirmations.
type Mailer interface {
	SendBookingConfirmation(ctx context.Context, to, name string, start time.Time, branch models.Branch) error
}

// Nop drops every message. It is used when e-mail is not configured.
type Nop struct{}

func (Nop) SendBookingConfirmation(context.Context, string, string, time.Time, models.Branch) error {
	return nil
}

// Opts configures the SendGrid mailer.
type Opts struct {
	FromName string
	Host     string
}

// Option is a functional option for NewSendGridMailer.
type Option func(*Opts)

// WithFromName sets the display name of the sender.
func WithFromName(name string) Option {
	return func(o *Opts) { o.FromName = name }
}

// WithHost points the client at another API host, for tests.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = strings.TrimRight(host, "/") }
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

var _ Mailer = (*SendGridMailer)(nil)

// NewSendGridMailer creates a mailer for apiKey sending as from.
func NewSendGridMailer(apiKey, from string, opts ...Option) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if from == "" {
		return nil, ErrMissingSender
	}
	o := Opts{FromName: DefaultFromName}
	for _, opt := range opts {
		opt(&o)
	}
	client := sendgrid.NewSendClient(apiKey)
	if o.Host != "" {
		client.BaseURL = o.Host + sendPath
	}
	return &SendGridMailer{client: client, from: from, fromName: o.FromName}, nil
}

// SendBookingConfirmation mails the appointment summary to the patient.
func (m *SendGridMailer) SendBookingConfirmation(ctx context.Context, to, name string, start time.Time, branch models.Branch) error {
	subject, text, html := confirmationBody(name, start, branch)
	msg := mail.NewSingleEmail(mail.NewEmail(m.fromName, m.from), subject, mail.NewEmail(name, to), text, html)

	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send confirmation mail: %w", err)
	}
	if resp.StatusCode >= 400 {
		slog.Error("notify SendGridMailer rejected", "status", resp.StatusCode, "body_len", len(resp.Body))
		return fmt.Errorf("failed to send confirmation mail: status %d", resp.StatusCode)
	}
	slog.Info("notify SendGridMailer confirmation sent", "status", resp.StatusCode)
	return nil
}

func confirmationBody(name string, start time.Time, branch models.Branch) (subject, text, html string) {
	when := datetime.FormatDateTime(start)
	subject = "Confirmación de tu cita"
	text = fmt.Sprintf("Hola %s,\n\nTu cita quedó agendada para el %s en %s (%s).\n\nTe esperamos.",
		name, when, branch.Name, branch.Address)
	html = fmt.Sprintf("<p>Hola <strong>%s</strong>,</p><p>Tu cita quedó agendada para el <strong>%s</strong> en %s (%s).</p><p>Te esperamos.</p>",
		name, when, branch.Name, branch.Address)
	return subject, text, html
}
