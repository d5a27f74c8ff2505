// Command maintenance runs one billing maintenance sweep and exits. It is
// meant for external cron runners.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/elementojuris/billing/internal/cache"
	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/email"
	"github.com/elementojuris/billing/internal/integration"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/repository/gormrepo"
	"github.com/elementojuris/billing/internal/service"
	"github.com/elementojuris/billing/internal/types"
)

func main() {
	asOf := flag.String("as-of", "", "RFC3339 instant to sweep at (default now)")
	timeout := flag.Duration("timeout", 30*time.Minute, "sweep timeout")
	flag.Parse()

	if err := run(*asOf, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "maintenance failed: %v\n", err)
		os.Exit(1)
	}
}

func run(asOf string, timeout time.Duration) error {
	now := time.Now().UTC()
	if asOf != "" {
		parsed, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		now = parsed.UTC()
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return err
	}
	client := postgres.NewClient(db, log)

	providers, err := integration.NewProviderRegistry(cfg, log)
	if err != nil {
		return err
	}
	// sends are awaited before exit
	sender := email.NewAsyncSender(email.NewEmail(email.NewEmailClient(cfg, log), log), cfg.Email.Workers, cfg.Email.QueueSize, log)
	defer sender.Close()

	tenants := gormrepo.NewTenantRepository(client, log)
	billing := service.NewBillingService(service.ServiceParams{
		Logger:           log,
		Config:           cfg,
		DB:               client,
		PlanRepo:         gormrepo.NewPlanRepository(client, log, cache.Initialize(cfg, log)),
		SubRepo:          gormrepo.NewSubscriptionRepository(client, log),
		BillingEventRepo: gormrepo.NewBillingEventRepository(client, log),
		TenantDirectory:  tenants,
		UsageCounter:     tenants,
		Providers:        providers,
		EmailSender:      sender,
		Metrics:          observability.NewMetrics(observability.NewRegistry()),
	})

	ctx, cancel := context.WithTimeout(types.SetRequestID(context.Background(), "maintenance_"+types.GenerateUUID()), timeout)
	defer cancel()

	result, err := billing.RunScheduledMaintenance(ctx, now)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}
