// Package mailer sends transactional email over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net/mail"

	gomail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// Email is one outgoing message. TextBody is required; HTMLBody is sent as
// an alternative when set.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers email. Handlers depend on this so tests can capture
// messages.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// Mailer is the SMTP Sender.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	log    *zap.Logger
}

// New builds a Mailer. STARTTLS is negotiated when the server offers it.
func New(cfg Config, logger *zap.Logger) (*Mailer, error) {
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: invalid from address %q: %w", cfg.From, err)
	}
	from := (&mail.Address{Name: cfg.FromName, Address: cfg.From}).String()
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.StartTLSPolicy = gomail.OpportunisticStartTLS
	return &Mailer{dialer: d, from: from, log: logger}, nil
}

// Send delivers e. The SMTP exchange does not observe ctx beyond an early
// cancellation check.
func (m *Mailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	msg.SetBody("text/plain", e.TextBody)
	if e.HTMLBody != "" {
		msg.AddAlternative("text/html", e.HTMLBody)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.log.Error("mailer: send failed", zap.String("to", e.To), zap.Error(err))
		return fmt.Errorf("mailer: send: %w", err)
	}
	m.log.Info("mailer: sent", zap.String("to", e.To), zap.String("subject", e.Subject))
	return nil
}
