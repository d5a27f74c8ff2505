package api

import (
	"net/http"

	"github.com/elementojuris/billing/internal/api/cron"
	v1 "github.com/elementojuris/billing/internal/api/v1"
	"github.com/elementojuris/billing/internal/auth"
	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/rest/middleware"
	"github.com/elementojuris/billing/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Billing     *v1.BillingHandler
	Webhook     *v1.WebhookHandler
	Maintenance *cron.MaintenanceCronHandler
}

// RouterParams groups what NewRouter wires together.
type RouterParams struct {
	Handlers  Handlers
	Config    *config.Configuration
	Logger    *logger.Logger
	Validator *auth.TokenValidator
	Metrics   *observability.Metrics
	DB        postgres.IClient
}

func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(p.Config),
		middleware.LoggingMiddleware(p.Logger),
		p.Metrics.GinMiddleware(),
		middleware.ErrorHandler(p.Config, p.Logger),
	)

	router.GET("/health", func(c *gin.Context) {
		if err := p.DB.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(p.Metrics.Handler()))

	public := router.Group("/v1")
	public.POST("/billing/webhook/:provider", p.Handlers.Webhook.HandleWebhook)

	private := router.Group("/v1")
	private.Use(middleware.AuthenticateMiddleware(p.Validator, p.Logger))
	private.Use(middleware.SentryTenantContextMiddleware)
	{
		billing := private.Group("/billing")
		billing.GET("/status", p.Handlers.Billing.GetStatus)

		admin := billing.Group("")
		admin.Use(middleware.RequireRole(types.UserRoleAdmin))
		admin.POST("/checkout", p.Handlers.Billing.StartCheckout)
		admin.POST("/cancel", p.Handlers.Billing.CancelSubscription)
		admin.POST("/fake/confirm", p.Handlers.Billing.FakeConfirm)
	}

	platform := router.Group("/v1/platform")
	platform.Use(middleware.PlatformKeyMiddleware(p.Config))
	platform.POST("/billing/maintenance", p.Handlers.Maintenance.RunMaintenance)

	return router
}
