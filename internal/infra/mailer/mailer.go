package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/akulinin/cardvault/internal/infra/resilience"

	"github.com/jordan-wright/email"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mailer")

// Config holds SMTP connection settings. An empty Host disables sending.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Mailer delivers notification emails over SMTP with retry, circuit
// breaker, and a bulkhead capping concurrent deliveries.
type Mailer struct {
	cfg      Config
	logger   *zap.Logger
	cb       *gobreaker.CircuitBreaker
	resCfg   resilience.Config
	bulkhead *resilience.Bulkhead
}

// New creates a Mailer. Returns nil when no SMTP host is configured;
// callers treat a nil Mailer as a no-op sink.
func New(cfg Config, logger *zap.Logger, resCfg resilience.Config) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	return &Mailer{
		cfg:      cfg,
		logger:   logger,
		cb:       resilience.NewCircuitBreaker("smtp"),
		resCfg:   resCfg,
		bulkhead: resilience.NewBulkhead(resCfg.MaxConcurrency),
	}
}

// Send delivers a plain-text email. A nil Mailer drops the message.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Mailer.Send")
	defer span.End()
	span.SetAttributes(attribute.String("mail.subject", subject))

	if err := m.bulkhead.Acquire(ctx); err != nil {
		return fmt.Errorf("mailer bulkhead: %w", err)
	}
	defer m.bulkhead.Release()

	_, err := m.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, m.resCfg, func() error {
			e := email.NewEmail()
			e.From = m.cfg.From
			e.To = []string{to}
			e.Subject = subject
			e.Text = []byte(body)

			addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			return e.Send(addr, auth)
		})
		return nil, innerErr
	})
	if err != nil {
		m.logger.Warn("email delivery failed",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}

	m.logger.Info("email sent", zap.String("subject", subject))
	return nil
}
