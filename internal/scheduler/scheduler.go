// Package scheduler triggers the billing maintenance sweep in-process.
package scheduler

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/robfig/cron/v3"
)

// MaintenanceRunner is satisfied by service.BillingService.
type MaintenanceRunner interface {
	RunScheduledMaintenance(ctx context.Context, now time.Time) (*dto.MaintenanceResponse, error)
}

type Scheduler struct {
	cron    *cron.Cron
	runner  MaintenanceRunner
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// New registers the maintenance job on cfg.Scheduler.MaintenanceCron. Runs
// never overlap: a tick that arrives while a sweep is still running is
// skipped.
func New(cfg *config.Configuration, runner MaintenanceRunner, log *logger.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		log:     log,
		timeout: 30 * time.Minute,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if _, err := s.cron.AddFunc(cfg.Scheduler.MaintenanceCron, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid maintenance cron spec %q", cfg.Scheduler.MaintenanceCron).
			Mark(ierr.ErrValidation)
	}
	return s, nil
}

// RunOnce runs a single sweep as of the current time.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(types.SetRequestID(ctx, "cron_"+types.GenerateUUID()), s.timeout)
	defer cancel()

	now := s.now()
	resp, err := s.runner.RunScheduledMaintenance(ctx, now)
	if err != nil {
		s.log.WithContext(ctx).Errorw("scheduled billing maintenance failed", "error", err)
		return err
	}
	s.log.WithContext(ctx).Infow("scheduled billing maintenance done",
		"expired", resp.Expired,
		"canceled", resp.Canceled,
		"emails_sent", resp.EmailsSent)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger forwards robfig/cron logs to the service logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
