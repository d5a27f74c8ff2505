// Package fake is an in-process payment provider for local development and
// tests. Checkouts complete through the app's confirm page and webhooks are
// authenticated with a shared secret header.
package fake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

const (
	subscriptionPrefix = "fake_sub_"
	pixPrefix          = "fake_pix_"
)

// Provider is the fake adapter.
type Provider struct {
	webhookSecret string
	publicAppURL  string
	logger        *logger.Logger
	now           func() time.Time
}

func NewProvider(webhookSecret, publicAppURL string, logger *logger.Logger) *Provider {
	return &Provider{
		webhookSecret: webhookSecret,
		publicAppURL:  strings.TrimRight(publicAppURL, "/"),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) Name() types.BillingProvider {
	return types.BillingProviderFake
}

func (p *Provider) CreateCheckout(_ context.Context, req *payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	if req.Plan == nil || req.Plan.Code.IsFree() {
		return nil, ierr.NewError("plan cannot be checked out").
			WithHint("Choose a paid plan").
			Mark(ierr.ErrInvalidPlan)
	}

	if req.Plan.IsMonthly() {
		subID := subscriptionPrefix + types.GenerateUUID()
		q := url.Values{}
		q.Set("flow", "card")
		q.Set("plan", string(req.Plan.Code))
		q.Set("sub", subID)
		q.Set("next", req.SuccessURL)
		return &payment.CheckoutResult{
			Provider:               types.BillingProviderFake,
			CheckoutURL:            fmt.Sprintf("%s/billing/fake/confirm?%s", p.publicAppURL, q.Encode()),
			ProviderSubscriptionID: subID,
		}, nil
	}

	paymentID := pixPrefix + types.GenerateUUID()
	return &payment.CheckoutResult{
		Provider:          types.BillingProviderFake,
		ProviderPaymentID: paymentID,
		PixQRCode:         fmt.Sprintf("[FAKE QR] %s", paymentID),
		PixCopyPaste:      fmt.Sprintf("FAKE-PIX:%s:%s", paymentID, req.TenantID),
		ExpiresAt:         lo.ToPtr(p.now().Add(types.PixCheckoutLifetime)),
	}, nil
}

// webhookBody is what the fake provider posts.
type webhookBody struct {
	EventType              string `json:"event_type"`
	ExternalReference      string `json:"external_reference"`
	TenantID               string `json:"tenant_id"`
	PlanCode               string `json:"plan_code"`
	ExternalID             string `json:"external_id"`
	PaymentStatus          string `json:"payment_status"`
	ProviderSubscriptionID string `json:"provider_subscription_id"`
	ProviderPaymentID      string `json:"provider_payment_id"`
}

func (p *Provider) HandleWebhook(_ context.Context, req *payment.WebhookRequest) (*payment.ProviderEvent, error) {
	got := req.Headers.Get(types.HeaderFakeWebhookSecret)
	if p.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(p.webhookSecret)) != 1 {
		return nil, ierr.NewError("fake webhook secret mismatch").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}

	var body webhookBody
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook").
			Mark(ierr.ErrValidation)
	}

	event := &payment.ProviderEvent{
		Provider:               types.BillingProviderFake,
		EventType:              normalizeEventType(body.EventType),
		ExternalID:             body.ExternalID,
		PaymentStatus:          body.PaymentStatus,
		ProviderSubscriptionID: body.ProviderSubscriptionID,
		ProviderPaymentID:      body.ProviderPaymentID,
		Payload: map[string]interface{}{
			"event_type":     body.EventType,
			"plan_code":      body.PlanCode,
			"payment_status": body.PaymentStatus,
		},
	}

	// the body is authenticated by the shared secret, so its reference is trusted
	if body.ExternalReference != "" {
		tenantID, planCode, err := payment.ParseExternalReference(body.ExternalReference)
		if err != nil {
			return nil, err
		}
		event.TenantID, event.PlanCode = tenantID, planCode
	} else {
		event.TenantID = body.TenantID
	}
	if event.PlanCode == "" && body.PlanCode != "" {
		planCode, err := types.ParsePlanCode(body.PlanCode)
		if err != nil {
			return nil, err
		}
		event.PlanCode = planCode
	}
	return event, nil
}

func normalizeEventType(raw string) string {
	switch raw {
	case types.EventTypePaymentSucceeded, types.EventTypePaymentFailed, types.EventTypeSubscriptionCanceled:
		return raw
	}
	return "fake_" + strings.ToLower(raw)
}

func (p *Provider) CancelSubscription(_ context.Context, providerSubscriptionID string) error {
	p.logger.Infow("fake provider cancel", "provider_subscription_id", providerSubscriptionID)
	return nil
}

// ConfirmResultEventType maps the result parameter of the confirm page.
func ConfirmResultEventType(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "succeeded", "success", "ok":
		return types.EventTypePaymentSucceeded
	default:
		return types.EventTypePaymentFailed
	}
}
