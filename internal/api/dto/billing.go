package dto

import (
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/types"
	"github.com/elementojuris/billing/internal/validator"
)

// StartCheckoutRequest represents a request to start a checkout for a paid plan
type StartCheckoutRequest struct {
	Plan       string `json:"plan" validate:"required"`
	Next       string `json:"next,omitempty"`
	PayerEmail string `json:"payer_email,omitempty" validate:"omitempty,email"`
}

// Validate validates the checkout request and returns the parsed plan code
func (r *StartCheckoutRequest) Validate() (types.PlanCode, error) {
	if err := validator.ValidateRequest(r); err != nil {
		return "", err
	}
	code, err := types.ParsePlanCode(r.Plan)
	if err != nil {
		return "", err
	}
	if code.IsFree() {
		return "", ierr.NewError("free plan cannot be checked out").
			WithHint("Choose a paid plan").
			Mark(ierr.ErrInvalidPlan)
	}
	return code, nil
}

// CheckoutResponse is the provider's checkout payload, returned untouched.
type CheckoutResponse struct {
	*payment.CheckoutResult
}

// CancelSubscriptionRequest represents a tenant initiated cancellation
type CancelSubscriptionRequest struct {
	GenerateExportNow bool `json:"generate_export_now"`
}

// CancelSubscriptionResponse reports what the cancellation changed
type CancelSubscriptionResponse struct {
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	AccessUntil       *time.Time         `json:"access_until"`
	RefundStatus      types.RefundStatus `json:"refund_status"`
	ExportRequested   bool               `json:"export_requested"`
	Message           string             `json:"message"`
}

// BillingLimits are the quotas applied to the tenant right now
type BillingLimits struct {
	MaxUsers int64 `json:"max_users"`
	// MaxClients nil means unlimited
	MaxClients   *int64 `json:"max_clients"`
	MaxStorageMB int64  `json:"max_storage_mb"`
}

// EffectiveLimits are the limits together with the plan they derive from
type EffectiveLimits struct {
	PlanCode types.PlanCode `json:"plan_code"`
	BillingLimits
}

// BillingStatusResponse is the tenant's billing state as shown in the app
type BillingStatusResponse struct {
	TenantID         string                   `json:"tenant_id"`
	PlanCode         types.PlanCode           `json:"plan_code"`
	Status           types.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end"`
	GracePeriodEnd   *time.Time               `json:"grace_period_end"`
	IsPlusEffective  bool                     `json:"is_plus_effective"`
	Limits           BillingLimits            `json:"limits"`
	Message          *string                  `json:"message"`
}

// MaintenanceResponse counts what a maintenance sweep did
type MaintenanceResponse struct {
	Expired    int `json:"expired"`
	Canceled   int `json:"canceled"`
	EmailsSent int `json:"emails_sent"`
}

// Add accumulates another sweep's counters.
func (m *MaintenanceResponse) Add(o MaintenanceResponse) {
	m.Expired += o.Expired
	m.Canceled += o.Canceled
	m.EmailsSent += o.EmailsSent
}

// FakeConfirmRequest represents the confirm page of the fake provider
type FakeConfirmRequest struct {
	Plan       string `form:"plan" json:"plan" validate:"required"`
	Result     string `form:"result" json:"result" validate:"required"`
	ExternalID string `form:"external_id" json:"external_id,omitempty"`
}

// Validate validates the confirm request and returns the parsed plan code
func (r *FakeConfirmRequest) Validate() (types.PlanCode, error) {
	if err := validator.ValidateRequest(r); err != nil {
		return "", err
	}
	return types.ParsePlanCode(r.Plan)
}

// WebhookResponse acknowledges a webhook
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// WebhookErrorResponse is the fixed error body of rejected webhooks
type WebhookErrorResponse struct {
	Error WebhookErrorDetail `json:"error"`
}

type WebhookErrorDetail struct {
	Message string `json:"message"`
}

// ProcessEventResult tells the caller what happened to a provider event
type ProcessEventResult struct {
	Outcome  string `json:"outcome"`
	TenantID string `json:"tenant_id,omitempty"`
}
