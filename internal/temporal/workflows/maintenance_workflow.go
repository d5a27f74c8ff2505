package workflows

import (
	"time"

	"github.com/elementojuris/billing/internal/temporal/models"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// Workflow name - must match the function name
	WorkflowBillingMaintenance = "BillingMaintenanceWorkflow"

	ActivityRunMaintenance = "RunMaintenanceActivity"
)

// BillingMaintenanceWorkflow is started by the maintenance schedule. The
// sweep itself is idempotent, so retries are safe.
func BillingMaintenanceWorkflow(ctx workflow.Context, input models.MaintenanceWorkflowInput) (*models.MaintenanceWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	now := input.AsOf
	if now.IsZero() {
		now = workflow.Now(ctx)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger.Info("Starting billing maintenance workflow", "as_of", now)

	var result models.MaintenanceWorkflowResult
	err := workflow.ExecuteActivity(ctx, ActivityRunMaintenance, models.MaintenanceActivityInput{Now: now.UTC()}).Get(ctx, &result)
	if err != nil {
		logger.Error("Billing maintenance workflow failed", "error", err)
		return nil, err
	}

	logger.Info("Billing maintenance workflow completed",
		"expired", result.Expired,
		"canceled", result.Canceled,
		"emails_sent", result.EmailsSent)

	return &result, nil
}
