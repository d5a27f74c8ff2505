package email

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/resend/resend-go/v2"
)

// EmailClient wraps the Resend API.
type EmailClient struct {
	client     *resend.Client
	cfg        config.EmailConfig
	logger     *logger.Logger
	maxRetries uint64
}

// NewEmailClient builds a client. It stays disabled without an API key.
func NewEmailClient(cfg *config.Configuration, logger *logger.Logger) *EmailClient {
	c := &EmailClient{cfg: cfg.Email, logger: logger}
	if cfg.Email.MaxRetries > 0 {
		c.maxRetries = uint64(cfg.Email.MaxRetries)
	}
	if cfg.Email.Enabled && cfg.Email.APIKey != "" {
		c.client = resend.NewClient(cfg.Email.APIKey)
	} else if cfg.Email.Enabled {
		logger.Warnw("email enabled without resend api key, delivery disabled")
	}
	return c
}

func (c *EmailClient) IsEnabled() bool {
	return c.client != nil
}

func (c *EmailClient) GetFromAddress() string {
	return c.cfg.FromAddress
}

// SendEmail delivers one message, retrying transient failures with
// exponential backoff.
func (c *EmailClient) SendEmail(ctx context.Context, from string, to []string, subject, html, text string) (string, error) {
	if !c.IsEnabled() {
		return "", ierr.NewError("email client is disabled").Mark(ierr.ErrInvalidOperation)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Subject: subject,
		Html:    html,
		Text:    text,
		ReplyTo: c.cfg.ReplyTo,
	}

	var messageID string
	attempt := 0
	op := func() error {
		attempt++
		sent, err := c.client.Emails.SendWithContext(ctx, params)
		if err != nil {
			c.logger.Warnw("resend send attempt failed", "attempt", attempt, "error", err)
			return err
		}
		messageID = sent.Id
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)); err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to send email").
			Mark(ierr.ErrHTTPClient)
	}
	return messageID, nil
}
