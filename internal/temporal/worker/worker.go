// Package worker runs the Temporal worker that hosts the billing maintenance
// workflow, and owns the schedule that starts it.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/service"
	"github.com/elementojuris/billing/internal/temporal/activities/maintenance"
	"github.com/elementojuris/billing/internal/temporal/interceptor"
	"github.com/elementojuris/billing/internal/temporal/models"
	"github.com/elementojuris/billing/internal/temporal/workflows"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	sdkinterceptor "go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const maintenanceScheduleID = "billing-maintenance"

type Worker struct {
	cfg    config.TemporalConfig
	client client.Client
	worker worker.Worker
	log    *logger.Logger
}

// New dials Temporal and registers the maintenance workflow and activities.
// It does not poll until Start.
func New(cfg *config.Configuration, billingService service.BillingService, log *logger.Logger) (*Worker, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    NewLogAdapter(log),
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to Temporal").
			Mark(ierr.ErrSystem)
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		Interceptors: []sdkinterceptor.WorkerInterceptor{interceptor.NewSentryInterceptor(nil)},
	})
	Register(w, billingService)

	return &Worker{cfg: cfg.Temporal, client: c, worker: w, log: log}, nil
}

// Register adds the maintenance workflow and its activities to a registry.
func Register(r worker.Registry, billingService service.BillingService) {
	r.RegisterWorkflowWithOptions(workflows.BillingMaintenanceWorkflow, workflow.RegisterOptions{
		Name: workflows.WorkflowBillingMaintenance,
	})
	r.RegisterActivity(maintenance.NewMaintenanceActivities(billingService))
}

// Start ensures the maintenance schedule exists, then starts polling.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureSchedule(ctx); err != nil {
		return err
	}
	if err := w.worker.Start(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to start Temporal worker").
			Mark(ierr.ErrSystem)
	}
	w.log.Infow("temporal worker started", "task_queue", w.cfg.TaskQueue)
	return nil
}

// EnsureSchedule creates the cron schedule for the maintenance workflow.
// An existing schedule is left untouched. Overlapping runs are skipped.
func (w *Worker) EnsureSchedule(ctx context.Context) error {
	_, err := w.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: maintenanceScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{w.cfg.ScheduleCron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        fmt.Sprintf("%s-run", maintenanceScheduleID),
			Workflow:  workflows.WorkflowBillingMaintenance,
			Args:      []interface{}{models.MaintenanceWorkflowInput{}},
			TaskQueue: w.cfg.TaskQueue,
		},
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err != nil && !errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return ierr.WithError(err).
			WithHint("Failed to create maintenance schedule").
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.log.Infow("temporal worker stopped")
}
