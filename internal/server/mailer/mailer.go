// Package mailer delivers transactional email over SMTP with gomail.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/flicapp/identity/internal/logging"
	"gopkg.in/gomail.v2"
)

var ErrNoRecipients = errors.New("no recipients specified")

// Email is one outgoing message. HTMLBody wins over Body when both are set;
// Body then becomes the plain-text alternative.
type Email struct {
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return errors.New("missing SMTP host")
	case c.Port == 0:
		return errors.New("missing SMTP port")
	case c.From == "":
		return errors.New("missing SMTP from address")
	}
	return nil
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	from   string
	dialer dialer
}

func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Send returns once ctx is done even if the relay stalls. The dial goroutine
// is left to finish on its own.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)

	if email.HTMLBody != "" {
		msg.SetBody("text/html", email.HTMLBody)
		if email.Body != "" {
			msg.AddAlternative("text/plain", email.Body)
		}
	} else {
		msg.SetBody("text/plain", email.Body)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// LogMailer writes messages to the log instead of sending them. It is the
// out-of-band channel used in development when no SMTP host is configured.
type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}
	m.logger.Info(ctx, "email not sent, no SMTP configured", "to", email.To, "subject", email.Subject, "body", email.Body)
	return nil
}
