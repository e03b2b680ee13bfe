package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/metrics"
)

const (
	kindVerification = "email_verification"
	kindReset        = "password_reset"
)

// Notifier renders identity emails and hands them to a Sender in the
// background. Delivery failures are logged and never returned.
type Notifier struct {
	sender   Sender
	logger   logging.Logger
	metrics  *metrics.Metrics
	resetURL string
	codeTTL  time.Duration
	resetTTL time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

type NotifierOptions struct {
	ResetURL string
	CodeTTL  time.Duration
	ResetTTL time.Duration
	Timeout  time.Duration
}

func NewNotifier(sender Sender, logger logging.Logger, m *metrics.Metrics, opts NotifierOptions) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Notifier{
		sender:   sender,
		logger:   logger,
		metrics:  m,
		resetURL: opts.ResetURL,
		codeTTL:  opts.CodeTTL,
		resetTTL: opts.ResetTTL,
		timeout:  opts.Timeout,
	}
}

func (n *Notifier) SendVerificationEmail(ctx context.Context, to, code string) {
	email, err := VerificationEmail(to, code, int(n.codeTTL.Minutes()))
	if err != nil {
		n.logger.Error(ctx, "render verification email", "error", err)
		return
	}
	n.dispatch(ctx, kindVerification, email)
}

func (n *Notifier) SendPasswordResetEmail(ctx context.Context, to, code, token string) {
	email, err := PasswordResetEmail(to, code, token, n.resetURL, int(n.resetTTL.Minutes()))
	if err != nil {
		n.logger.Error(ctx, "render password reset email", "error", err)
		return
	}
	n.dispatch(ctx, kindReset, email)
}

func (n *Notifier) dispatch(ctx context.Context, kind string, email Email) {
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.sender.Send(ctx, email); err != nil {
			n.metrics.Email(kind, false)
			n.logger.Warn(ctx, "email delivery failed", "kind", kind, "error", err)
			return
		}
		n.metrics.Email(kind, true)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
