// Package payment defines the contract every payment provider adapter
// satisfies and the normalized event they translate webhooks into.
package payment

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/types"
)

// Provider is one payment gateway.
type Provider interface {
	Name() types.BillingProvider
	// CreateCheckout returns a hosted checkout URL for recurring plans or PIX
	// payment data for one-shot plans. FREE yields an ErrInvalidPlan error.
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error)
	// HandleWebhook verifies the request signature before parsing anything and
	// returns the normalized event. Verification failures are ErrInvalidSignature.
	HandleWebhook(ctx context.Context, req *WebhookRequest) (*ProviderEvent, error)
	// CancelSubscription is best effort. ErrNotImplemented where unsupported.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
}

// CheckoutRequest starts a payment for a tenant.
type CheckoutRequest struct {
	TenantID       string
	Plan           *plan.Plan
	PayerEmail     string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutResult is returned to the caller untouched.
type CheckoutResult struct {
	Provider               types.BillingProvider `json:"provider"`
	CheckoutURL            string                `json:"checkout_url,omitempty"`
	ProviderCustomerID     string                `json:"-"`
	ProviderSubscriptionID string                `json:"-"`
	ProviderPaymentID      string                `json:"-"`
	PixQRCode              string                `json:"pix_qr_code,omitempty"`
	PixQRCodeBase64        string                `json:"pix_qr_code_base64,omitempty"`
	PixCopyPaste           string                `json:"pix_copy_paste,omitempty"`
	ExpiresAt              *time.Time            `json:"expires_at,omitempty"`
}

// CorrelationID is the provider id the subscription row is linked by.
func (r *CheckoutResult) CorrelationID() string {
	if r.ProviderSubscriptionID != "" {
		return r.ProviderSubscriptionID
	}
	return r.ProviderPaymentID
}

// WebhookRequest is the raw inbound notification.
type WebhookRequest struct {
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// ProviderEvent is a webhook translated into engine vocabulary.
type ProviderEvent struct {
	Provider types.BillingProvider
	// EventType is payment_succeeded, payment_failed, subscription_canceled
	// or <source>_<raw_status> for anything else.
	EventType string
	// ExternalID is the provider's id for the notification or resource and
	// the dedup key of the stored event.
	ExternalID string
	// TenantID comes from the provider's correlation reference, never from
	// client input. Empty when the payload carries none.
	TenantID               string
	PlanCode               types.PlanCode
	PaymentStatus          string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderPaymentID      string
	// Payload is what gets stored on the billing event. Adapters keep it to
	// ids and statuses.
	Payload map[string]interface{}
}

// IsActionable reports whether the engine has a transition for the event.
func (e *ProviderEvent) IsActionable() bool {
	switch e.EventType {
	case types.EventTypePaymentSucceeded, types.EventTypePaymentFailed, types.EventTypeSubscriptionCanceled:
		return true
	}
	return false
}

// CorrelationRef is the provider id usable to find the tenant when the
// payload has no reference.
func (e *ProviderEvent) CorrelationRef() string {
	if e.ProviderSubscriptionID != "" {
		return e.ProviderSubscriptionID
	}
	return e.ProviderPaymentID
}
