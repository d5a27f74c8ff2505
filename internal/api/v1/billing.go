package v1

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/service"
	"github.com/elementojuris/billing/internal/types"
	"github.com/gin-gonic/gin"
)

const defaultNextPath = "/dashboard"

type BillingHandler struct {
	billingService service.BillingService
	config         *config.Configuration
	log            *logger.Logger
}

func NewBillingHandler(billingService service.BillingService, cfg *config.Configuration, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		config:         cfg,
		log:            log,
	}
}

// @Summary Get billing status
// @Description Get the tenant's plan, subscription status and effective limits
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.BillingStatusResponse
// @Failure 401 {object} ierr.ErrorResponse
// @Router /billing/status [get]
func (h *BillingHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp, err := h.billingService.GetStatus(ctx, types.GetTenantID(ctx))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Start a checkout
// @Description Start a card subscription or a PIX payment for a paid plan
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param checkout body dto.StartCheckoutRequest true "Checkout request"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 503 {object} ierr.ErrorResponse
// @Router /billing/checkout [post]
func (h *BillingHandler) StartCheckout(c *gin.Context) {
	var req dto.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	planCode, err := req.Validate()
	if err != nil {
		c.Error(err)
		return
	}

	next := safeNext(req.Next)
	base := strings.TrimRight(h.config.Billing.PublicAppURL, "/")

	ctx := c.Request.Context()
	resp, err := h.billingService.StartCheckout(ctx, types.GetTenantID(ctx), service.CheckoutParams{
		PlanCode:       planCode,
		PayerEmail:     req.PayerEmail,
		SuccessURL:     base + next,
		CancelURL:      base + "/billing?plan=plus&next=" + url.QueryEscape(next),
		IdempotencyKey: c.GetHeader(types.HeaderIdempotency),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Cancel the subscription
// @Description Mark the paid plan to lapse at period end, optionally requesting a data export
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param cancel body dto.CancelSubscriptionRequest false "Cancellation options"
// @Success 200 {object} dto.CancelSubscriptionResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /billing/cancel [post]
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	var req dto.CancelSubscriptionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	ctx := c.Request.Context()
	resp, err := h.billingService.CancelSubscription(ctx, types.GetTenantID(ctx), req.GenerateExportNow)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Confirm a fake checkout
// @Description Complete a checkout of the fake provider. Only available when it is the active provider
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param plan query string true "Plan code or alias"
// @Param result query string true "succeeded or failed"
// @Param external_id query string false "Confirmation id"
// @Success 200 {object} dto.ProcessEventResult
// @Failure 400 {object} ierr.ErrorResponse
// @Router /billing/fake/confirm [post]
func (h *BillingHandler) FakeConfirm(c *gin.Context) {
	req := dto.FakeConfirmRequest{
		Plan:   c.DefaultQuery("plan", "plus"),
		Result: c.DefaultQuery("result", "succeeded"),
	}
	req.ExternalID = c.Query("external_id")

	planCode, err := req.Validate()
	if err != nil {
		c.Error(err)
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = "fake_confirm_" + types.GenerateUUID()
	}

	ctx := c.Request.Context()
	resp, err := h.billingService.FakeConfirm(ctx, types.GetTenantID(ctx), service.FakeConfirmParams{
		PlanCode:   planCode,
		Result:     req.Result,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// safeNext keeps redirects on our own origin.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return defaultNextPath
	}
	return next
}
