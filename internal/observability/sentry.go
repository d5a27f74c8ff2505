package observability

import (
	"time"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

// InitSentry installs the global Sentry client. The returned func flushes
// buffered events and is safe to call when Sentry is disabled.
func InitSentry(cfg *config.Configuration, log *logger.Logger) (func(), error) {
	if !cfg.Sentry.Enabled {
		return func() {}, nil
	}

	environment := cfg.Sentry.Environment
	if environment == "" {
		environment = string(cfg.Deployment.Mode)
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      environment,
		SampleRate:       cfg.Sentry.SampleRate,
		EnableTracing:    true,
		TracesSampleRate: cfg.Sentry.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to initialize Sentry").
			Mark(ierr.ErrSystem)
	}

	log.Infow("sentry initialized", "environment", environment)
	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}
