package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

const testSecret = "mp-webhook-secret"

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

type ProviderSuite struct {
	suite.Suite
	server   *httptest.Server
	provider *Provider
	mu       sync.Mutex
	requests []recordedRequest
	// routes maps "METHOD path" to a status and JSON body.
	routes map[string]func() (int, interface{})
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.requests = nil
	s.routes = map[string]func() (int, interface{}){}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		route, ok := s.routes[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found","error":"not_found","status":404}`))
			return
		}
		status, out := route()
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	}))

	cfg := config.GetDefaultConfig()
	cfg.MercadoPago = config.MercadoPagoConfig{
		BaseURL:       s.server.URL,
		AccessToken:   "generic-token",
		CardToken:     "card-token",
		PixToken:      "pix-token",
		WebhookSecret: testSecret,
		RetryMax:      0,
	}
	cfg.Billing.PublicAPIURL = "https://api.example.com/"
	cfg.Billing.ProviderTimeout = 2 * time.Second

	s.provider = NewProvider(cfg, logger.NewNopLogger())
	s.provider.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
}

func (s *ProviderSuite) TearDownTest() {
	s.server.Close()
}

func (s *ProviderSuite) route(method, path string, status int, body interface{}) {
	s.routes[method+" "+path] = func() (int, interface{}) { return status, body }
}

func (s *ProviderSuite) lastRequest() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.requests)
	return s.requests[len(s.requests)-1]
}

func planByCode(code types.PlanCode) *plan.Plan {
	p, _ := lo.Find(plan.DefaultCatalog(), func(p *plan.Plan) bool { return p.Code == code })
	return p
}

// signedWebhook builds a webhook request signed the way MercadoPago signs it.
func signedWebhook(topic, dataID, requestID string) *payment.WebhookRequest {
	ts := "1767225600"
	manifest := signatureManifest(dataID, requestID, ts)
	headers := http.Header{}
	headers.Set(types.HeaderMercadoPagoSig, "ts="+ts+",v1="+sign(testSecret, manifest))
	headers.Set(types.HeaderMercadoPagoReqID, requestID)
	query := url.Values{}
	query.Set("type", topic)
	query.Set("data.id", dataID)
	return &payment.WebhookRequest{
		Headers: headers,
		Query:   query,
		Body:    []byte(`{"type":"` + topic + `","data":{"id":"` + dataID + `"}}`),
	}
}

func (s *ProviderSuite) TestCreateCheckoutMonthly() {
	s.route(http.MethodPost, "/preapproval", http.StatusCreated, map[string]interface{}{
		"id":         "pre_123",
		"init_point": "https://mp.example/checkout/pre_123",
		"status":     "pending",
	})

	res, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID:       "tenant_1",
		Plan:           planByCode(types.PlanCodePlusMonthly),
		PayerEmail:     "admin@firm.test",
		SuccessURL:     "https://app.example.com/billing/success",
		IdempotencyKey: "idem-1",
	})
	s.Require().NoError(err)
	s.Equal("https://mp.example/checkout/pre_123", res.CheckoutURL)
	s.Equal("pre_123", res.ProviderSubscriptionID)

	req := s.lastRequest()
	s.Equal("Bearer card-token", req.Header.Get("Authorization"))
	s.Equal("idem-1", req.Header.Get(types.HeaderIdempotency))
	s.Equal("tenant_id=tenant_1;plan_code=PLUS_MONTHLY", req.Body["external_reference"])
	s.Equal("https://api.example.com/v1/billing/webhook/mercadopago", req.Body["notification_url"])
	recurring := req.Body["auto_recurring"].(map[string]interface{})
	s.Equal(47.0, recurring["transaction_amount"])
	s.Equal("months", recurring["frequency_type"])
}

func (s *ProviderSuite) TestCreateCheckoutAnnualPix() {
	s.route(http.MethodPost, "/v1/payments", http.StatusCreated, map[string]interface{}{
		"id":     987654321,
		"status": "pending",
		"point_of_interaction": map[string]interface{}{
			"transaction_data": map[string]interface{}{
				"qr_code":        "00020126PIXCODE",
				"qr_code_base64": "aGVsbG8=",
			},
		},
	})

	res, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID:   "tenant_1",
		Plan:       planByCode(types.PlanCodePlusAnnual),
		PayerEmail: "admin@firm.test",
	})
	s.Require().NoError(err)
	s.Equal("987654321", res.ProviderPaymentID)
	s.Equal("00020126PIXCODE", res.PixCopyPaste)
	s.Equal("aGVsbG8=", res.PixQRCodeBase64)
	s.Require().NotNil(res.ExpiresAt)
	s.Equal(s.provider.now().Add(30*time.Minute), *res.ExpiresAt)

	req := s.lastRequest()
	s.Equal("Bearer pix-token", req.Header.Get("Authorization"))
	s.Equal("pix", req.Body["payment_method_id"])
	s.Equal(499.0, req.Body["transaction_amount"])
	s.NotEmpty(req.Header.Get(types.HeaderIdempotency))
}

func (s *ProviderSuite) TestCreateCheckoutValidation() {
	_, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID: "tenant_1", Plan: planByCode(types.PlanCodeFree), PayerEmail: "a@b.test",
	})
	s.True(ierr.IsInvalidPlan(err))

	_, err = s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID: "tenant_1", Plan: planByCode(types.PlanCodePlusMonthly),
	})
	s.True(ierr.IsValidation(err))
}

func (s *ProviderSuite) TestCreateCheckoutProviderDown() {
	s.route(http.MethodPost, "/preapproval", http.StatusBadGateway, map[string]interface{}{"message": "bad gateway"})

	_, err := s.provider.CreateCheckout(context.Background(), &payment.CheckoutRequest{
		TenantID: "tenant_1", Plan: planByCode(types.PlanCodePlusMonthly), PayerEmail: "a@b.test",
	})
	s.True(ierr.IsProviderUnavailable(err))
}

func (s *ProviderSuite) TestWebhookRejectsBadSignature() {
	req := signedWebhook("payment", "123", "req-1")
	req.Headers.Set(types.HeaderMercadoPagoSig, "ts=1767225600,v1=deadbeef")

	_, err := s.provider.HandleWebhook(context.Background(), req)
	s.True(ierr.IsInvalidSignature(err))
	s.Empty(s.requests, "no lookup happens before verification")

	req.Headers.Del(types.HeaderMercadoPagoSig)
	_, err = s.provider.HandleWebhook(context.Background(), req)
	s.True(ierr.IsInvalidSignature(err))

	req.Headers.Set(types.HeaderMercadoPagoSig, "v1=abc")
	_, err = s.provider.HandleWebhook(context.Background(), req)
	s.True(ierr.IsInvalidSignature(err))
}

func (s *ProviderSuite) TestWebhookRejectsWhenSecretUnset() {
	s.provider.webhookSecret = ""
	_, err := s.provider.HandleWebhook(context.Background(), signedWebhook("payment", "123", "req-1"))
	s.True(ierr.IsInvalidSignature(err))
}

func (s *ProviderSuite) TestWebhookRejectsBodyOnlyDataID() {
	ts := "1767225600"
	headers := http.Header{}
	headers.Set(types.HeaderMercadoPagoSig, "ts="+ts+",v1="+sign(testSecret, signatureManifest("", "req-1", ts)))
	headers.Set(types.HeaderMercadoPagoReqID, "req-1")
	req := &payment.WebhookRequest{
		Headers: headers,
		Query:   url.Values{"type": []string{"preapproval"}},
		Body:    []byte(`{"type":"preapproval","data":{"id":"pre_other_tenant"}}`),
	}

	_, err := s.provider.HandleWebhook(context.Background(), req)
	s.True(ierr.IsInvalidSignature(err))
	s.Empty(s.requests)
}

func (s *ProviderSuite) TestWebhookLooksUpSignedDataIDOnly() {
	s.route(http.MethodGet, "/preapproval/pre_signed", http.StatusOK, map[string]interface{}{
		"id": "pre_signed", "status": "authorized", "external_reference": "tenant_id=t1;plan_code=PLUS_MONTHLY",
	})
	req := signedWebhook("preapproval", "pre_signed", "req-2")
	req.Body = []byte(`{"type":"preapproval","data":{"id":"pre_other_tenant"}}`)

	event, err := s.provider.HandleWebhook(context.Background(), req)
	s.Require().NoError(err)
	s.Equal("pre_signed", event.ExternalID)
	s.Len(s.requests, 1)
	s.Equal("/preapproval/pre_signed", s.lastRequest().Path)
}

func (s *ProviderSuite) TestWebhookSignatureLowercasesDataID() {
	s.route(http.MethodGet, "/preapproval/ABC123", http.StatusOK, map[string]interface{}{
		"id": "ABC123", "status": "authorized", "external_reference": "tenant_id=t1;plan_code=PLUS_MONTHLY",
	})
	req := signedWebhook("preapproval", "ABC123", "req-9")
	s.Contains(signatureManifest("ABC123", "req-9", "1"), "id:abc123;")

	event, err := s.provider.HandleWebhook(context.Background(), req)
	s.Require().NoError(err)
	s.Equal("t1", event.TenantID)
}

func (s *ProviderSuite) TestWebhookPreapproval() {
	cases := []struct {
		status    string
		eventType string
	}{
		{"authorized", types.EventTypePaymentSucceeded},
		{"cancelled", types.EventTypeSubscriptionCanceled},
		{"paused", "subscription_paused"},
	}
	for _, tc := range cases {
		s.Run(tc.status, func() {
			s.route(http.MethodGet, "/preapproval/pre_1", http.StatusOK, map[string]interface{}{
				"id": "pre_1", "status": tc.status, "external_reference": "tenant_id=t1;plan_code=PLUS_MONTHLY",
			})
			event, err := s.provider.HandleWebhook(context.Background(), signedWebhook("subscription_preapproval", "pre_1", "req-1"))
			s.Require().NoError(err)
			s.Equal(tc.eventType, event.EventType)
			s.Equal("t1", event.TenantID)
			s.Equal(types.PlanCodePlusMonthly, event.PlanCode)
			s.Equal("pre_1", event.ExternalID)
			s.Equal("pre_1", event.ProviderSubscriptionID)
			s.Equal("Bearer card-token", s.lastRequest().Header.Get("Authorization"))
		})
	}
}

func (s *ProviderSuite) TestWebhookAuthorizedPaymentUsesPreapprovalReference() {
	s.route(http.MethodGet, "/authorized_payments/7001", http.StatusOK, map[string]interface{}{
		"id": 7001, "status": "rejected", "preapproval_id": "pre_1",
	})
	s.route(http.MethodGet, "/preapproval/pre_1", http.StatusOK, map[string]interface{}{
		"id": "pre_1", "status": "authorized", "external_reference": "tenant_id=t1;plan_code=plus_monthly_card",
	})

	event, err := s.provider.HandleWebhook(context.Background(), signedWebhook("subscription_authorized_payment", "7001", "req-2"))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentFailed, event.EventType)
	s.Equal("t1", event.TenantID)
	s.Equal("7001", event.ExternalID)
	s.Equal("pre_1", event.ProviderSubscriptionID)
	s.Equal("rejected", event.PaymentStatus)
}

func (s *ProviderSuite) TestWebhookPaymentUsesPixToken() {
	s.route(http.MethodGet, "/v1/payments/555", http.StatusOK, map[string]interface{}{
		"id": 555, "status": "approved", "external_reference": "tenant_id=t2;plan_code=PLUS_ANNUAL",
		"transaction_amount": 499.0, "currency_id": "BRL",
	})

	event, err := s.provider.HandleWebhook(context.Background(), signedWebhook("payment", "555", "req-3"))
	s.Require().NoError(err)
	s.Equal(types.EventTypePaymentSucceeded, event.EventType)
	s.Equal("t2", event.TenantID)
	s.Equal(types.PlanCodePlusAnnual, event.PlanCode)
	s.Equal("555", event.ProviderPaymentID)
	s.Equal("Bearer pix-token", s.lastRequest().Header.Get("Authorization"))
}

func (s *ProviderSuite) TestWebhookPaymentWithoutReferenceIsUncorrelated() {
	s.route(http.MethodGet, "/v1/payments/556", http.StatusOK, map[string]interface{}{"id": 556, "status": "approved"})

	event, err := s.provider.HandleWebhook(context.Background(), signedWebhook("payment", "556", "req-4"))
	s.Require().NoError(err)
	s.Empty(event.TenantID)
	s.Equal("556", event.CorrelationRef())
}

func (s *ProviderSuite) TestWebhookLookupNotFound() {
	_, err := s.provider.HandleWebhook(context.Background(), signedWebhook("payment", "404404", "req-5"))
	s.True(ierr.IsUncorrelatedEvent(err))
}

func (s *ProviderSuite) TestWebhookUnknownTopic() {
	event, err := s.provider.HandleWebhook(context.Background(), signedWebhook("merchant_order", "77", "req-6"))
	s.Require().NoError(err)
	s.Equal("mercadopago_merchant_order", event.EventType)
	s.False(event.IsActionable())
	s.Empty(s.requests)
}

func (s *ProviderSuite) TestCancelSubscription() {
	s.route(http.MethodPut, "/preapproval/pre_1", http.StatusOK, map[string]interface{}{"id": "pre_1", "status": "cancelled"})

	s.Require().NoError(s.provider.CancelSubscription(context.Background(), "pre_1"))
	req := s.lastRequest()
	s.Equal(http.MethodPut, req.Method)
	s.Equal("cancelled", req.Body["status"])

	s.True(ierr.IsValidation(s.provider.CancelSubscription(context.Background(), " ")))
}

func (s *ProviderSuite) TestTokenFallback() {
	c := NewClient(config.MercadoPagoConfig{AccessToken: "generic"}, time.Second, logger.NewNopLogger())
	card, err := c.token(credentialCard)
	s.Require().NoError(err)
	s.Equal("generic", card)

	c = NewClient(config.MercadoPagoConfig{CardToken: "card"}, time.Second, logger.NewNopLogger())
	_, err = c.token(credentialPix)
	s.Error(err)
}

func TestParseSignatureHeader(t *testing.T) {
	ts, v1, err := parseSignatureHeader(" ts=1704908010 , v1=ABCDEF ")
	if err != nil || ts != "1704908010" || v1 != "ABCDEF" {
		t.Fatalf("unexpected parse: %q %q %v", ts, v1, err)
	}
	if _, _, err := parseSignatureHeader("ts=1"); !ierr.IsInvalidSignature(err) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestSignatureManifestOmitsAbsentParts(t *testing.T) {
	cases := map[string][3]string{
		"id:abc;request-id:r1;ts:10;": {"ABC", "r1", "10"},
		"request-id:r1;ts:10;":        {"", "r1", "10"},
		"id:abc;ts:10;":               {"abc", "", "10"},
	}
	for want, in := range cases {
		if got := signatureManifest(in[0], in[1], in[2]); got != want {
			t.Errorf("manifest(%v) = %q, want %q", in, got, want)
		}
	}
}
