package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/suite"
)

const testWebhookSecret = "whsec_test_secret"

type ProviderSuite struct {
	suite.Suite
	server   *httptest.Server
	provider *Provider

	mu         sync.Mutex
	lastPath   string
	lastForm   url.Values
	lastHeader http.Header
	status     int
	response   string
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.status = http.StatusOK
	s.response = `{}`
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.mu.Lock()
		s.lastPath = r.URL.Path
		s.lastForm = r.PostForm
		s.lastHeader = r.Header.Clone()
		status, body := s.status, s.response
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(s.server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.NewNopLogger(),
	})
	s.provider = newProvider(backend, "sk_test_123", testWebhookSecret, map[string]string{
		"plus_monthly": "price_monthly_1",
	}, logger.NewNopLogger())
}

func (s *ProviderSuite) TearDownTest() {
	s.server.Close()
}

func (s *ProviderSuite) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.response = status, body
}

func planByCode(code types.PlanCode) *plan.Plan {
	p, _ := lo.Find(plan.DefaultCatalog(), func(p *plan.Plan) bool { return p.Code == code })
	return p
}

func signed(body string) *payment.WebhookRequest {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	headers := http.Header{}
	headers.Set(types.HeaderStripeSignature, sp.Header)
	return &payment.WebhookRequest{Headers: headers, Body: sp.Payload}
}

func (s *ProviderSuite) TestCreateCheckoutMonthly() {
	s.respond(http.StatusOK, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`)

	res, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID:       "tenant_1",
		Plan:           planByCode(types.PlanCodePlusMonthly),
		PayerEmail:     "admin@firm.test",
		SuccessURL:     "https://app.test/ok",
		CancelURL:      "https://app.test/cancel",
		IdempotencyKey: "checkout-idem-1",
	})
	s.Require().NoError(err)
	s.Equal("https://checkout.stripe.test/cs_test_1", res.CheckoutURL)
	s.Equal("cs_test_1", res.ProviderSubscriptionID)

	s.Equal("/v1/checkout/sessions", s.lastPath)
	s.Equal("subscription", s.lastForm.Get("mode"))
	s.Equal("tenant_1", s.lastForm.Get("client_reference_id"))
	s.Equal("price_monthly_1", s.lastForm.Get("line_items[0][price]"))
	s.Equal("tenant_1", s.lastForm.Get("subscription_data[metadata][tenant_id]"))
	s.Equal("PLUS_MONTHLY", s.lastForm.Get("metadata[plan_code]"))
	s.Equal("checkout-idem-1", s.lastHeader.Get("Idempotency-Key"))
}

func (s *ProviderSuite) TestCreateCheckoutAnnualUsesInlinePrice() {
	s.respond(http.StatusOK, `{"id":"cs_test_2","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_2"}`)

	res, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID:   "tenant_1",
		Plan:       planByCode(types.PlanCodePlusAnnual),
		SuccessURL: "https://app.test/ok",
	})
	s.Require().NoError(err)
	s.Equal("cs_test_2", res.ProviderPaymentID)
	s.Equal("payment", s.lastForm.Get("mode"))
	s.Equal("49900", s.lastForm.Get("line_items[0][price_data][unit_amount]"))
	s.Equal("brl", s.lastForm.Get("line_items[0][price_data][currency]"))
	s.Equal("PLUS_ANNUAL", s.lastForm.Get("payment_intent_data[metadata][plan_code]"))
}

func (s *ProviderSuite) TestCreateCheckoutErrors() {
	_, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{Plan: planByCode(types.PlanCodeFree)})
	s.True(ierr.IsInvalidPlan(err))

	s.respond(http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`)
	_, err = s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID: "tenant_1", Plan: planByCode(types.PlanCodePlusMonthly), SuccessURL: "https://app.test/ok",
	})
	s.True(ierr.IsProviderUnavailable(err))
}

func (s *ProviderSuite) TestCancelSubscription() {
	s.respond(http.StatusOK, `{"id":"sub_1","object":"subscription","cancel_at_period_end":true}`)
	s.Require().NoError(s.provider.CancelSubscription(context.Background(), "sub_1"))
	s.Equal("/v1/subscriptions/sub_1", s.lastPath)
	s.Equal("true", s.lastForm.Get("cancel_at_period_end"))

	s.respond(http.StatusNotFound, `{"error":{"type":"invalid_request_error","message":"No such subscription"}}`)
	s.True(ierr.IsNotFound(s.provider.CancelSubscription(context.Background(), "sub_missing")))
}

func (s *ProviderSuite) TestWebhookSignature() {
	req := signed(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)
	req.Headers.Set(types.HeaderStripeSignature, "t=1,v1=bad")
	_, err := s.provider.HandleWebhook(context.Background(), req)
	s.True(ierr.IsInvalidSignature(err))

	s.provider.webhookSecret = ""
	_, err = s.provider.HandleWebhook(context.Background(), signed(`{"id":"evt_1","object":"event","type":"invoice.paid"}`))
	s.True(ierr.IsInvalidSignature(err))
}

func (s *ProviderSuite) TestWebhookInvoicePaid() {
	body := `{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{
		"id":"in_1","object":"invoice","status":"paid","customer":"cus_1",
		"parent":{"subscription_details":{"subscription":"sub_1","metadata":{"tenant_id":"tenant_1","plan_code":"PLUS_MONTHLY"}}}
	}}}`
	event, err := s.provider.HandleWebhook(context.Background(), signed(body))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentSucceeded, event.EventType)
	s.Equal("tenant_1", event.TenantID)
	s.Equal(types.PlanCodePlusMonthly, event.PlanCode)
	s.Equal("sub_1", event.ProviderSubscriptionID)
	s.Equal("cus_1", event.ProviderCustomerID)
	s.Equal("in_1", event.ExternalID)
}

func (s *ProviderSuite) TestWebhookInvoicePaymentFailedLegacyShape() {
	body := `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{
		"id":"in_2","object":"invoice","status":"open","subscription":"sub_1",
		"subscription_details":{"metadata":{"tenant_id":"tenant_1","plan_code":"PLUS_MONTHLY"}}
	}}}`
	event, err := s.provider.HandleWebhook(context.Background(), signed(body))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentFailed, event.EventType)
	s.Equal("tenant_1", event.TenantID)
	s.Equal("sub_1", event.ProviderSubscriptionID)
}

func (s *ProviderSuite) TestWebhookCheckoutCompleted() {
	paid := `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","object":"checkout.session","mode":"payment","payment_status":"paid",
		"client_reference_id":"tenant_9","metadata":{"plan_code":"PLUS_ANNUAL"}
	}}}`
	event, err := s.provider.HandleWebhook(context.Background(), signed(paid))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentSucceeded, event.EventType)
	s.Equal("tenant_9", event.TenantID)
	s.Equal(types.PlanCodePlusAnnual, event.PlanCode)
	s.Equal("cs_1", event.ProviderPaymentID)
	s.Equal("evt_4", event.ExternalID)

	sub := `{"id":"evt_5","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_2","object":"checkout.session","mode":"subscription","payment_status":"paid",
		"subscription":"sub_2","metadata":{"tenant_id":"tenant_9","plan_code":"PLUS_MONTHLY"}
	}}}`
	event, err = s.provider.HandleWebhook(context.Background(), signed(sub))
	s.Require().NoError(err)
	s.Equal("stripe_checkout_session_completed", event.EventType)
	s.False(event.IsActionable())
	s.Equal("sub_2", event.ProviderSubscriptionID)
}

func (s *ProviderSuite) TestWebhookCheckoutAsyncPayment() {
	pending := `{"id":"evt_10","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_10","object":"checkout.session","mode":"payment","payment_status":"unpaid",
		"client_reference_id":"tenant_9","metadata":{"plan_code":"PLUS_ANNUAL"}
	}}}`
	event, err := s.provider.HandleWebhook(context.Background(), signed(pending))
	s.Require().NoError(err)
	s.Equal("stripe_checkout_session_completed", event.EventType)
	s.False(event.IsActionable())

	settled := `{"id":"evt_11","object":"event","type":"checkout.session.async_payment_succeeded","data":{"object":{
		"id":"cs_10","object":"checkout.session","mode":"payment","payment_status":"paid",
		"client_reference_id":"tenant_9","metadata":{"plan_code":"PLUS_ANNUAL"}
	}}}`
	event, err = s.provider.HandleWebhook(context.Background(), signed(settled))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentSucceeded, event.EventType)
	s.Equal("tenant_9", event.TenantID)
	s.Equal(types.PlanCodePlusAnnual, event.PlanCode)
	s.Equal("cs_10", event.ProviderPaymentID)
	s.Equal("evt_11", event.ExternalID)

	failed := `{"id":"evt_12","object":"event","type":"checkout.session.async_payment_failed","data":{"object":{
		"id":"cs_10","object":"checkout.session","mode":"payment","payment_status":"unpaid",
		"client_reference_id":"tenant_9","metadata":{"plan_code":"PLUS_ANNUAL"}
	}}}`
	event, err = s.provider.HandleWebhook(context.Background(), signed(failed))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentFailed, event.EventType)
	s.Equal("tenant_9", event.TenantID)
}

func (s *ProviderSuite) TestWebhookSubscriptionDeleted() {
	body := `{"id":"evt_6","object":"event","type":"customer.subscription.deleted","data":{"object":{
		"id":"sub_3","object":"subscription","status":"canceled","customer":"cus_3",
		"metadata":{"tenant_id":"tenant_3","plan_code":"PLUS_MONTHLY"}
	}}}`
	event, err := s.provider.HandleWebhook(context.Background(), signed(body))
	s.Require().NoError(err)
	s.Equal(types.EventTypeSubscriptionCanceled, event.EventType)
	s.Equal("tenant_3", event.TenantID)
	s.Equal("sub_3", event.ProviderSubscriptionID)
}

func (s *ProviderSuite) TestWebhookOtherType() {
	event, err := s.provider.HandleWebhook(context.Background(), signed(`{"id":"evt_7","object":"event","type":"customer.updated","data":{"object":{}}}`))
	s.Require().NoError(err)
	s.Equal("stripe_customer_updated", event.EventType)
	s.Equal("evt_7", event.ExternalID)
	s.Empty(event.TenantID)
}
