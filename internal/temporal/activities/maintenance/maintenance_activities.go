package maintenance

import (
	"context"

	"github.com/elementojuris/billing/internal/service"
	"github.com/elementojuris/billing/internal/temporal/models"
	"go.temporal.io/sdk/activity"
)

const ActivityPrefix = "MaintenanceActivities"

// MaintenanceActivities is registered as a struct, so its methods are named
// "RunMaintenanceActivity" and so on in Temporal.
type MaintenanceActivities struct {
	billingService service.BillingService
}

func NewMaintenanceActivities(billingService service.BillingService) *MaintenanceActivities {
	return &MaintenanceActivities{billingService: billingService}
}

// RunMaintenanceActivity runs one sweep as of input.Now
func (a *MaintenanceActivities) RunMaintenanceActivity(ctx context.Context, input models.MaintenanceActivityInput) (*models.MaintenanceWorkflowResult, error) {
	logger := activity.GetLogger(ctx)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	resp, err := a.billingService.RunScheduledMaintenance(ctx, input.Now.UTC())
	if err != nil {
		logger.Error("Maintenance sweep failed", "error", err)
		return nil, err
	}

	logger.Info("Maintenance sweep completed",
		"expired", resp.Expired,
		"canceled", resp.Canceled,
		"emails_sent", resp.EmailsSent)

	return &models.MaintenanceWorkflowResult{
		Expired:    resp.Expired,
		Canceled:   resp.Canceled,
		EmailsSent: resp.EmailsSent,
		RanAt:      input.Now.UTC(),
	}, nil
}
