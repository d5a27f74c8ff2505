// Package stripe is the Stripe adapter. Monthly plans use subscription mode
// checkout sessions, annual plans a one-time payment session.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	metadataTenantID = "tenant_id"
	metadataPlanCode = "plan_code"

	eventCheckoutCompleted     = "checkout.session.completed"
	eventCheckoutAsyncSucceed  = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncFailed   = "checkout.session.async_payment_failed"
	eventInvoicePaid           = "invoice.paid"
	eventInvoicePaymentSucceed = "invoice.payment_succeeded"
	eventInvoicePaymentFailed  = "invoice.payment_failed"
	eventSubscriptionDeleted   = "customer.subscription.deleted"
)

// Provider implements payment.Provider for Stripe.
type Provider struct {
	sessions      *session.Client
	subscriptions *subscription.Client
	webhookSecret string
	priceIDs      map[string]string
	logger        *logger.Logger
}

// NewProvider builds the adapter with its own backend so the global
// stripe.Key is never touched.
func NewProvider(cfg *config.Configuration, logger *logger.Logger) *Provider {
	timeout := cfg.Billing.ProviderTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(2),
	})
	return newProvider(backend, cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.PriceIDs, logger)
}

func newProvider(backend stripe.Backend, secretKey, webhookSecret string, priceIDs map[string]string, logger *logger.Logger) *Provider {
	return &Provider{
		sessions:      &session.Client{B: backend, Key: secretKey},
		subscriptions: &subscription.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
		priceIDs:      priceIDs,
		logger:        logger,
	}
}

func (p *Provider) Name() types.BillingProvider {
	return types.BillingProviderStripe
}

func (p *Provider) CreateCheckout(ctx context.Context, req *payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	if req.Plan == nil || req.Plan.Code.IsFree() {
		return nil, ierr.NewError("plan cannot be checked out").
			WithHint("Choose a paid plan").
			Mark(ierr.ErrInvalidPlan)
	}

	metadata := map[string]string{
		metadataTenantID: req.TenantID,
		metadataPlanCode: string(req.Plan.Code),
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(lo.CoalesceOrEmpty(req.CancelURL, req.SuccessURL)),
		ClientReferenceID: stripe.String(req.TenantID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{p.lineItem(req.Plan)},
		Metadata:          metadata,
	}
	params.Context = ctx
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}
	if req.Plan.IsMonthly() {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := p.sessions.New(params)
	if err != nil {
		return nil, mapError(err, "Failed to create checkout session")
	}

	p.logger.Infow("stripe checkout session created",
		"tenant_id", req.TenantID,
		"session_id", sess.ID,
		"mode", lo.FromPtr(params.Mode))

	result := &payment.CheckoutResult{
		Provider:    types.BillingProviderStripe,
		CheckoutURL: sess.URL,
	}
	if req.Plan.IsMonthly() {
		result.ProviderSubscriptionID = sess.ID
	} else {
		result.ProviderPaymentID = sess.ID
	}
	return result, nil
}

// lineItem uses the configured price id or an inline price in the plan's
// currency.
func (p *Provider) lineItem(pl *plan.Plan) *stripe.CheckoutSessionLineItemParams {
	if priceID := p.priceIDs[strings.ToLower(string(pl.Code))]; priceID != "" {
		return &stripe.CheckoutSessionLineItemParams{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}
	}
	if priceID := p.priceIDs[string(pl.Code)]; priceID != "" {
		return &stripe.CheckoutSessionLineItemParams{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}
	}

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(strings.ToLower(pl.Currency)),
		UnitAmount: stripe.Int64(pl.PriceInCents()),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(pl.Name),
		},
	}
	if pl.IsMonthly() {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{PriceData: priceData, Quantity: stripe.Int64(1)}
}

func (p *Provider) HandleWebhook(_ context.Context, req *payment.WebhookRequest) (*payment.ProviderEvent, error) {
	if p.webhookSecret == "" {
		return nil, ierr.NewError("stripe webhook secret not configured").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(req.Body, req.Headers.Get(types.HeaderStripeSignature), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}

	eventType := string(event.Type)
	switch eventType {
	case eventCheckoutCompleted, eventCheckoutAsyncSucceed, eventCheckoutAsyncFailed:
		return p.checkoutSession(&event)
	case eventInvoicePaid, eventInvoicePaymentSucceed:
		return p.invoiceEvent(&event, types.EventTypePaymentSucceeded)
	case eventInvoicePaymentFailed:
		return p.invoiceEvent(&event, types.EventTypePaymentFailed)
	case eventSubscriptionDeleted:
		return p.subscriptionDeleted(&event)
	}

	return &payment.ProviderEvent{
		Provider:   types.BillingProviderStripe,
		EventType:  "stripe_" + strings.ReplaceAll(eventType, ".", "_"),
		ExternalID: event.ID,
		Payload:    map[string]interface{}{"stripe_event_type": eventType},
	}, nil
}

// checkoutSession maps the session events. Delayed methods (boleto, Pix)
// complete unpaid and settle later through the async_payment events.
func (p *Provider) checkoutSession(event *stripe.Event) (*payment.ProviderEvent, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, invalidPayload(err)
	}

	out := &payment.ProviderEvent{
		Provider:      types.BillingProviderStripe,
		EventType:     "stripe_" + strings.ReplaceAll(string(event.Type), ".", "_"),
		ExternalID:    event.ID,
		PaymentStatus: string(sess.PaymentStatus),
		Payload: map[string]interface{}{
			"stripe_event_type": string(event.Type),
			"session_id":        sess.ID,
			"mode":              string(sess.Mode),
			"payment_status":    string(sess.PaymentStatus),
		},
	}
	if sess.Customer != nil {
		out.ProviderCustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.ProviderSubscriptionID = sess.Subscription.ID
	}
	if sess.Mode == stripe.CheckoutSessionModePayment {
		switch string(event.Type) {
		case eventCheckoutAsyncSucceed:
			out.EventType = types.EventTypePaymentSucceeded
			out.PaymentStatus = string(stripe.CheckoutSessionPaymentStatusPaid)
			out.ProviderPaymentID = sess.ID
		case eventCheckoutAsyncFailed:
			out.EventType = types.EventTypePaymentFailed
			out.ProviderPaymentID = sess.ID
		default:
			if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				out.EventType = types.EventTypePaymentSucceeded
				out.ProviderPaymentID = sess.ID
			}
		}
	}

	metadata := lo.Assign(sess.Metadata)
	if metadata[metadataTenantID] == "" && sess.ClientReferenceID != "" {
		metadata[metadataTenantID] = sess.ClientReferenceID
	}
	if err := applyMetadata(out, metadata); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) invoiceEvent(event *stripe.Event, eventType string) (*payment.ProviderEvent, error) {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, invalidPayload(err)
	}

	details := inv.subscriptionDetails()
	subscriptionID := lo.CoalesceOrEmpty(details.Subscription.ID, inv.Subscription.ID)
	out := &payment.ProviderEvent{
		Provider:  types.BillingProviderStripe,
		EventType: eventType,
		// invoice.paid and invoice.payment_succeeded describe the same charge
		ExternalID:             lo.CoalesceOrEmpty(inv.ID, event.ID),
		PaymentStatus:          inv.Status,
		ProviderCustomerID:     inv.Customer.ID,
		ProviderSubscriptionID: subscriptionID,
		ProviderPaymentID:      inv.ID,
		Payload: map[string]interface{}{
			"stripe_event_type": string(event.Type),
			"invoice_id":        inv.ID,
			"subscription_id":   subscriptionID,
			"status":            inv.Status,
		},
	}
	if err := applyMetadata(out, details.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) subscriptionDeleted(event *stripe.Event) (*payment.ProviderEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, invalidPayload(err)
	}

	out := &payment.ProviderEvent{
		Provider:               types.BillingProviderStripe,
		EventType:              types.EventTypeSubscriptionCanceled,
		ExternalID:             event.ID,
		PaymentStatus:          string(sub.Status),
		ProviderSubscriptionID: sub.ID,
		Payload: map[string]interface{}{
			"stripe_event_type": string(event.Type),
			"subscription_id":   sub.ID,
			"status":            string(sub.Status),
		},
	}
	if sub.Customer != nil {
		out.ProviderCustomerID = sub.Customer.ID
	}
	if err := applyMetadata(out, sub.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

// applyMetadata reads tenant and plan from the metadata we attached at
// checkout. Missing metadata leaves the event for provider id lookup.
func applyMetadata(event *payment.ProviderEvent, metadata map[string]string) error {
	event.TenantID = strings.TrimSpace(metadata[metadataTenantID])
	if raw := strings.TrimSpace(metadata[metadataPlanCode]); raw != "" {
		code, err := types.ParsePlanCode(raw)
		if err != nil {
			return err
		}
		event.PlanCode = code
	}
	return nil
}

func invalidPayload(err error) error {
	return ierr.WithError(err).
		WithHint("Invalid webhook").
		Mark(ierr.ErrValidation)
}

func (p *Provider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return ierr.NewError("provider subscription id is required").
			Mark(ierr.ErrValidation)
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := p.subscriptions.Update(id, params); err != nil {
		return mapError(err, "Failed to cancel subscription")
	}
	p.logger.Infow("stripe subscription set to cancel at period end", "subscription_id", id)
	return nil
}

// mapError classifies Stripe API errors.
func mapError(err error, hint string) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return ierr.WithError(err).
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}

	details := map[string]interface{}{"status": stripeErr.HTTPStatusCode, "code": string(stripeErr.Code)}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return ierr.WithError(err).WithHint(hint).WithReportableDetails(details).Mark(ierr.ErrNotFound)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500:
		return ierr.WithError(err).
			WithHint("Payment provider is unavailable").
			WithReportableDetails(details).
			Mark(ierr.ErrProviderUnavailable)
	default:
		return ierr.WithError(err).WithHint(hint).WithReportableDetails(details).Mark(ierr.ErrHTTPClient)
	}
}

var _ payment.Provider = (*Provider)(nil)
