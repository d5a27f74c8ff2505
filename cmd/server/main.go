package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/elementojuris/billing/internal/api"
	"github.com/elementojuris/billing/internal/api/cron"
	v1 "github.com/elementojuris/billing/internal/api/v1"
	"github.com/elementojuris/billing/internal/auth"
	"github.com/elementojuris/billing/internal/cache"
	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	"github.com/elementojuris/billing/internal/email"
	"github.com/elementojuris/billing/internal/integration"
	"github.com/elementojuris/billing/internal/kafka"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/repository/gormrepo"
	"github.com/elementojuris/billing/internal/scheduler"
	"github.com/elementojuris/billing/internal/service"
	temporalworker "github.com/elementojuris/billing/internal/temporal/worker"
	"github.com/elementojuris/billing/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		appOptions(),
		fx.WithLogger(func(log *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Desugar()}
		}),
	)

	app.Run()
}

func appOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			observability.NewRegistry,
			observability.NewMetrics,
			cache.Initialize,
		),
		databaseModule,
		integrationModule,
		serviceModule,
		httpModule,

		fx.Invoke(
			startSentry,
			startServer,
			startScheduler,
			startTemporal,
		),
	)
}

var databaseModule = fx.Module("database",
	fx.Provide(
		postgres.NewDB,
		postgres.NewClient,
		gormrepo.NewPlanRepository,
		gormrepo.NewSubscriptionRepository,
		gormrepo.NewBillingEventRepository,
		gormrepo.NewTenantRepository,
	),
	fx.Invoke(migrate),
)

var integrationModule = fx.Module("integration",
	fx.Provide(
		integration.NewProviderRegistry,
		email.NewEmailClient,
		email.NewEmail,
		provideEmailSender,
		provideExportRequester,
	),
)

var serviceModule = fx.Module("service",
	fx.Provide(
		provideServiceParams,
		service.NewBillingService,
	),
)

var httpModule = fx.Module("http",
	fx.Provide(
		auth.NewTokenValidator,
		v1.NewBillingHandler,
		v1.NewWebhookHandler,
		cron.NewMaintenanceCronHandler,
		provideRouter,
	),
)

func migrate(cfg *config.Configuration, db *gorm.DB, log *logger.Logger) error {
	if !cfg.Postgres.AutoMigrate {
		return nil
	}
	return gormrepo.Migrate(db, log, gormrepo.MigrateOptions{
		ExternalTables: cfg.Postgres.Driver == types.DBDialectSQLite,
	})
}

func provideEmailSender(lc fx.Lifecycle, cfg *config.Configuration, e *email.Email, log *logger.Logger) email.Sender {
	async := email.NewAsyncSender(e, cfg.Email.Workers, cfg.Email.QueueSize, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			async.Close()
			return nil
		},
	})
	return async
}

func provideExportRequester(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (service.ExportRequester, error) {
	if !cfg.Kafka.Enabled {
		log.Infow("kafka disabled, tenant exports will not be requested")
		return nil, nil
	}
	publisher, err := kafka.NewExportPublisher(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return publisher.Close() },
	})
	return publisher, nil
}

type serviceDeps struct {
	fx.In

	Logger          *logger.Logger
	Config          *config.Configuration
	DB              postgres.IClient
	PlanRepo        plan.Repository
	SubRepo         subscription.Repository
	EventRepo       billingevent.Repository
	Tenants         *gormrepo.TenantRepository
	Providers       *integration.ProviderRegistry
	EmailSender     email.Sender
	Metrics         *observability.Metrics
	ExportRequester service.ExportRequester `optional:"true"`
}

func provideServiceParams(d serviceDeps) service.ServiceParams {
	return service.ServiceParams{
		Logger:           d.Logger,
		Config:           d.Config,
		DB:               d.DB,
		PlanRepo:         d.PlanRepo,
		SubRepo:          d.SubRepo,
		BillingEventRepo: d.EventRepo,
		TenantDirectory:  d.Tenants,
		UsageCounter:     d.Tenants,
		Providers:        d.Providers,
		EmailSender:      d.EmailSender,
		Metrics:          d.Metrics,
		ExportRequester:  d.ExportRequester,
	}
}

func provideRouter(
	cfg *config.Configuration,
	log *logger.Logger,
	validator *auth.TokenValidator,
	metrics *observability.Metrics,
	db postgres.IClient,
	billingHandler *v1.BillingHandler,
	webhookHandler *v1.WebhookHandler,
	maintenanceHandler *cron.MaintenanceCronHandler,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(api.RouterParams{
		Handlers: api.Handlers{
			Billing:     billingHandler,
			Webhook:     webhookHandler,
			Maintenance: maintenanceHandler,
		},
		Config:    cfg,
		Logger:    log,
		Validator: validator,
		Metrics:   metrics,
		DB:        db,
	})
}

func startSentry(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	flush, err := observability.InitSentry(cfg, log)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			flush()
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, cfg *config.Configuration, engine *gin.Engine, log *logger.Logger) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Infow("starting http server", "address", cfg.Server.Address)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("http server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping http server")
			return srv.Shutdown(ctx)
		},
	})
}

func startScheduler(lc fx.Lifecycle, cfg *config.Configuration, billingService service.BillingService, log *logger.Logger) error {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	s, err := scheduler.New(cfg, billingService, log)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
	return nil
}

func startTemporal(lc fx.Lifecycle, cfg *config.Configuration, billingService service.BillingService, log *logger.Logger) error {
	if !cfg.Temporal.Enabled {
		return nil
	}
	w, err := temporalworker.New(cfg, billingService, log)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: w.Start,
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
	return nil
}
