package service

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	"github.com/elementojuris/billing/internal/domain/tenant"
	"github.com/elementojuris/billing/internal/email"
	"github.com/elementojuris/billing/internal/integration"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/postgres"
)

// ExportRequester asks the export subsystem for a full tenant export.
type ExportRequester interface {
	RequestExport(ctx context.Context, tenantID string) error
}

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	PlanRepo         plan.Repository
	SubRepo          subscription.Repository
	BillingEventRepo billingevent.Repository
	TenantDirectory  tenant.Directory
	UsageCounter     tenant.UsageCounter

	Providers   *integration.ProviderRegistry
	EmailSender email.Sender
	Metrics     *observability.Metrics

	// ExportRequester is optional.
	ExportRequester ExportRequester
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

func (p ServiceParams) now() time.Time {
	if p.Clock != nil {
		return p.Clock().UTC()
	}
	return time.Now().UTC()
}
