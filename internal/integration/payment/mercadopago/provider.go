// Package mercadopago is the MercadoPago adapter: card subscriptions through
// preapprovals and annual plans as PIX payments.
package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

const (
	topicPreapproval                   = "preapproval"
	topicSubscriptionPreapproval       = "subscription_preapproval"
	topicAuthorizedPayment             = "authorized_payment"
	topicSubscriptionAuthorizedPayment = "subscription_authorized_payment"
	topicPayment                       = "payment"

	// expirationLayout is the date format the payments API accepts.
	expirationLayout = "2006-01-02T15:04:05.000-07:00"
)

// Provider implements payment.Provider for MercadoPago.
type Provider struct {
	client          MercadoPagoClient
	webhookSecret   string
	notificationURL string
	logger          *logger.Logger
	now             func() time.Time
}

// NewProvider builds the adapter from configuration.
func NewProvider(cfg *config.Configuration, logger *logger.Logger) *Provider {
	return newProvider(
		NewClient(cfg.MercadoPago, cfg.Billing.ProviderTimeout, logger),
		cfg.MercadoPago.WebhookSecret,
		cfg.Billing.PublicAPIURL,
		logger,
	)
}

func newProvider(client MercadoPagoClient, webhookSecret, publicAPIURL string, logger *logger.Logger) *Provider {
	var notificationURL string
	if base := strings.TrimRight(publicAPIURL, "/"); strings.HasPrefix(base, "http") {
		notificationURL = base + "/v1/billing/webhook/" + string(types.BillingProviderMercadoPago)
	}
	return &Provider{
		client:          client,
		webhookSecret:   webhookSecret,
		notificationURL: notificationURL,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) Name() types.BillingProvider {
	return types.BillingProviderMercadoPago
}

func (p *Provider) CreateCheckout(ctx context.Context, req *payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	if req.Plan == nil || req.Plan.Code.IsFree() {
		return nil, ierr.NewError("plan cannot be checked out").
			WithHint("Choose a paid plan").
			Mark(ierr.ErrInvalidPlan)
	}
	if strings.TrimSpace(req.PayerEmail) == "" {
		return nil, ierr.NewError("payer email is required").
			WithHint("Inform the payer email to continue").
			Mark(ierr.ErrValidation)
	}

	idempotencyKey := lo.Ternary(req.IdempotencyKey != "", req.IdempotencyKey, types.GenerateUUID())
	reference := payment.BuildExternalReference(req.TenantID, req.Plan.Code)

	if req.Plan.IsMonthly() {
		return p.createPreapproval(ctx, req, reference, idempotencyKey)
	}
	return p.createPixPayment(ctx, req, reference, idempotencyKey)
}

func (p *Provider) createPreapproval(ctx context.Context, req *payment.CheckoutRequest, reference, idempotencyKey string) (*payment.CheckoutResult, error) {
	pre, err := p.client.CreatePreapproval(ctx, &CreatePreapprovalRequest{
		Reason:            "Elemento Juris " + req.Plan.Name,
		ExternalReference: reference,
		PayerEmail:        req.PayerEmail,
		AutoRecurring: AutoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: req.Plan.Price.InexactFloat64(),
			CurrencyID:        req.Plan.Currency,
		},
		BackURL:         req.SuccessURL,
		Status:          "pending",
		NotificationURL: p.notificationURL,
	}, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if pre.ID == "" || pre.CheckoutURL() == "" {
		return nil, ierr.NewError("preapproval response has no id or init_point").
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}

	p.logger.Infow("mercadopago preapproval created",
		"tenant_id", req.TenantID,
		"preapproval_id", pre.ID.String())

	return &payment.CheckoutResult{
		Provider:               types.BillingProviderMercadoPago,
		CheckoutURL:            pre.CheckoutURL(),
		ProviderSubscriptionID: pre.ID.String(),
	}, nil
}

func (p *Provider) createPixPayment(ctx context.Context, req *payment.CheckoutRequest, reference, idempotencyKey string) (*payment.CheckoutResult, error) {
	expiresAt := p.now().Add(types.PixCheckoutLifetime)
	pay, err := p.client.CreatePixPayment(ctx, &CreatePixPaymentRequest{
		TransactionAmount: req.Plan.Price.InexactFloat64(),
		Description:       "Elemento Juris " + req.Plan.Name,
		PaymentMethodID:   "pix",
		ExternalReference: reference,
		NotificationURL:   p.notificationURL,
		DateOfExpiration:  expiresAt.Format(expirationLayout),
		Payer:             Payer{Email: req.PayerEmail},
	}, idempotencyKey)
	if err != nil {
		return nil, err
	}

	data := pay.PointOfInteraction.TransactionData
	if pay.ID == "" || data.QRCode == "" {
		return nil, ierr.NewError("pix payment response has no qr code").
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}
	if pay.DateOfExpiration != nil {
		expiresAt = pay.DateOfExpiration.UTC()
	}

	p.logger.Infow("mercadopago pix payment created",
		"tenant_id", req.TenantID,
		"payment_id", pay.ID.String())

	return &payment.CheckoutResult{
		Provider:          types.BillingProviderMercadoPago,
		ProviderPaymentID: pay.ID.String(),
		PixQRCode:         data.QRCode,
		PixQRCodeBase64:   data.QRCodeBase64,
		PixCopyPaste:      data.QRCode,
		ExpiresAt:         &expiresAt,
	}, nil
}

func (p *Provider) HandleWebhook(ctx context.Context, req *payment.WebhookRequest) (*payment.ProviderEvent, error) {
	dataID, err := verifySignature(p.webhookSecret, req.Headers, req.Query)
	if err != nil {
		return nil, err
	}

	var notification WebhookNotification
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &notification); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Invalid webhook").
				Mark(ierr.ErrValidation)
		}
	}

	topic := strings.ToLower(strings.TrimSpace(lo.CoalesceOrEmpty(
		req.Query.Get("type"), req.Query.Get("topic"), notification.Type, notification.Topic,
	)))
	if body := notification.Data.ID.String(); body != "" && !strings.EqualFold(body, dataID) {
		p.logger.Warnw("mercadopago body data.id differs from signed id, using signed id")
	}
	if topic == "" {
		return nil, ierr.NewError("notification has no topic").
			WithHint("Invalid webhook").
			Mark(ierr.ErrValidation)
	}

	switch topic {
	case topicPreapproval, topicSubscriptionPreapproval:
		return p.preapprovalEvent(ctx, topic, dataID)
	case topicAuthorizedPayment, topicSubscriptionAuthorizedPayment:
		return p.authorizedPaymentEvent(ctx, topic, dataID)
	case topicPayment:
		return p.paymentEvent(ctx, topic, dataID)
	}

	p.logger.Infow("mercadopago topic not handled", "topic", topic)
	return &payment.ProviderEvent{
		Provider:   types.BillingProviderMercadoPago,
		EventType:  "mercadopago_" + topic,
		ExternalID: dataID,
		Payload:    map[string]interface{}{"topic": topic},
	}, nil
}

func (p *Provider) preapprovalEvent(ctx context.Context, topic, dataID string) (*payment.ProviderEvent, error) {
	pre, err := p.client.GetPreapproval(ctx, dataID)
	if err != nil {
		return nil, lookupError(err, topic)
	}

	status := strings.ToLower(strings.TrimSpace(pre.Status))
	id := lo.CoalesceOrEmpty(pre.ID.String(), dataID)

	var eventType string
	switch status {
	case "authorized", "active":
		eventType = types.EventTypePaymentSucceeded
	case "cancelled", "canceled":
		eventType = types.EventTypeSubscriptionCanceled
	default:
		eventType = "subscription_" + lo.Ternary(status != "", status, "updated")
	}

	event := &payment.ProviderEvent{
		Provider:               types.BillingProviderMercadoPago,
		EventType:              eventType,
		ExternalID:             id,
		PaymentStatus:          status,
		ProviderSubscriptionID: id,
		Payload: map[string]interface{}{
			"topic":              topic,
			"preapproval_id":     id,
			"status":             status,
			"external_reference": pre.ExternalReference,
		},
	}
	if err := applyReference(event, pre.ExternalReference, types.PlanCodePlusMonthly); err != nil {
		return nil, err
	}
	return event, nil
}

func (p *Provider) authorizedPaymentEvent(ctx context.Context, topic, dataID string) (*payment.ProviderEvent, error) {
	auth, err := p.client.GetAuthorizedPayment(ctx, dataID)
	if err != nil {
		return nil, lookupError(err, topic)
	}

	status := strings.ToLower(strings.TrimSpace(auth.Status))
	id := lo.CoalesceOrEmpty(auth.ID.String(), dataID)
	reference := auth.ExternalReference
	if auth.PreapprovalID != "" {
		pre, err := p.client.GetPreapproval(ctx, auth.PreapprovalID)
		if err != nil {
			return nil, lookupError(err, topicPreapproval)
		}
		reference = lo.CoalesceOrEmpty(pre.ExternalReference, reference)
	}

	event := &payment.ProviderEvent{
		Provider:               types.BillingProviderMercadoPago,
		EventType:              payment.NormalizeStatus(topicAuthorizedPayment, status),
		ExternalID:             id,
		PaymentStatus:          status,
		ProviderSubscriptionID: auth.PreapprovalID,
		ProviderPaymentID:      id,
		Payload: map[string]interface{}{
			"topic":                 topic,
			"authorized_payment_id": id,
			"preapproval_id":        auth.PreapprovalID,
			"status":                status,
			"external_reference":    reference,
		},
	}
	if err := applyReference(event, reference, types.PlanCodePlusMonthly); err != nil {
		return nil, err
	}
	return event, nil
}

func (p *Provider) paymentEvent(ctx context.Context, topic, dataID string) (*payment.ProviderEvent, error) {
	pay, err := p.client.GetPayment(ctx, dataID)
	if err != nil {
		return nil, lookupError(err, topic)
	}

	status := strings.ToLower(strings.TrimSpace(pay.Status))
	id := lo.CoalesceOrEmpty(pay.ID.String(), dataID)
	event := &payment.ProviderEvent{
		Provider:          types.BillingProviderMercadoPago,
		EventType:         payment.NormalizeStatus(topicPayment, status),
		ExternalID:        id,
		PaymentStatus:     status,
		ProviderPaymentID: id,
		Payload: map[string]interface{}{
			"topic":              topic,
			"payment_id":         id,
			"status":             status,
			"external_reference": pay.ExternalReference,
			"transaction_amount": pay.TransactionAmount,
			"currency_id":        pay.CurrencyID,
		},
	}
	if err := applyReference(event, pay.ExternalReference, ""); err != nil {
		return nil, err
	}
	return event, nil
}

// applyReference fills tenant and plan from the external reference. A
// reference without a tenant leaves the event uncorrelated for the engine to
// resolve by provider id.
func applyReference(event *payment.ProviderEvent, reference string, defaultPlan types.PlanCode) error {
	event.PlanCode = defaultPlan
	if strings.TrimSpace(reference) == "" {
		return nil
	}
	tenantID, planCode, err := payment.ParseExternalReference(reference)
	if err != nil {
		if ierr.IsUncorrelatedEvent(err) {
			return nil
		}
		return err
	}
	event.TenantID = tenantID
	if planCode != "" {
		event.PlanCode = planCode
	}
	return nil
}

// lookupError turns a missing resource into an uncorrelated event.
func lookupError(err error, topic string) error {
	if ierr.IsNotFound(err) {
		return ierr.WithError(err).
			WithMessage(fmt.Sprintf("mercadopago %s not found", topic)).
			WithHint("Webhook could not be correlated to a tenant").
			Mark(ierr.ErrUncorrelatedEvent)
	}
	return err
}

func (p *Provider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return ierr.NewError("provider subscription id is required").
			Mark(ierr.ErrValidation)
	}
	if _, err := p.client.CancelPreapproval(ctx, id); err != nil {
		return err
	}
	p.logger.Infow("mercadopago preapproval cancelled", "preapproval_id", id)
	return nil
}

var _ payment.Provider = (*Provider)(nil)
