package v1

import (
	"io"
	"net/http"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/logsafe"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBodyBytes  = 1 << 20
	invalidWebhookReason = "invalid webhook"
	unknownProviderLabel = "unknown"
)

type WebhookHandler struct {
	billingService service.BillingService
	providers      *integration.ProviderRegistry
	metrics        *observability.Metrics
	config         *config.Configuration
	log            *logger.Logger
}

func NewWebhookHandler(
	billingService service.BillingService,
	providers *integration.ProviderRegistry,
	metrics *observability.Metrics,
	cfg *config.Configuration,
	log *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		billingService: billingService,
		providers:      providers,
		metrics:        metrics,
		config:         cfg,
		log:            log,
	}
}

// @Summary Receive a payment provider webhook
// @Description Verify, record and apply a provider notification. Any failure answers 400 so the provider retries
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} dto.WebhookErrorResponse
// @Router /billing/webhook/{provider} [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	providerName := c.Param("provider")
	ctx := c.Request.Context()

	body, readErr := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))

	provider, err := h.providers.Get(providerName)
	if err != nil {
		h.reject(c, unknownProviderLabel, body, err)
		return
	}

	if readErr == nil && len(body) > maxWebhookBodyBytes {
		readErr = ierr.NewError("webhook body too large").
			WithReportableDetails(map[string]any{"max_bytes": maxWebhookBodyBytes}).
			Mark(ierr.ErrValidation)
	}
	if readErr != nil {
		h.reject(c, providerName, body, readErr)
		return
	}

	event, err := provider.HandleWebhook(ctx, &payment.WebhookRequest{
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
		Body:    body,
	})
	if err != nil {
		h.reject(c, providerName, body, err)
		return
	}

	result, err := h.billingService.ProcessProviderEvent(ctx, event)
	if err != nil {
		h.respondInvalid(c, providerName, body, err)
		return
	}

	h.log.WithContext(ctx).Infow("webhook processed",
		"provider", providerName,
		"event_type", event.EventType,
		"outcome", result.Outcome,
		"tenant_id", result.TenantID)
	c.JSON(http.StatusOK, dto.WebhookResponse{OK: true})
}

// reject counts a webhook refused before it reached the engine.
func (h *WebhookHandler) reject(c *gin.Context, providerName string, body []byte, err error) {
	h.metrics.Webhook(providerName, observability.OutcomeRejected)
	h.respondInvalid(c, providerName, body, err)
}

// respondInvalid answers with the fixed webhook error. The body is only
// logged as a fingerprint.
func (h *WebhookHandler) respondInvalid(c *gin.Context, providerName string, body []byte, err error) {
	fields := []interface{}{
		"provider", providerName,
		"status_code", ierr.HTTPStatusFromErr(err),
		"error", err,
	}
	for k, v := range logsafe.PayloadFingerprint(h.config.Logging.PIISalt, body) {
		fields = append(fields, k, v)
	}
	h.log.WithContext(c.Request.Context()).Warnw("webhook rejected", fields...)
	c.JSON(http.StatusBadRequest, dto.WebhookErrorResponse{
		Error: dto.WebhookErrorDetail{Message: invalidWebhookReason},
	})
}
