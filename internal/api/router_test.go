package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/api/cron"
	v1 "github.com/elementojuris/billing/internal/api/v1"
	"github.com/elementojuris/billing/internal/auth"
	"github.com/elementojuris/billing/internal/service"
	"github.com/elementojuris/billing/internal/testutil"
	"github.com/elementojuris/billing/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

const routerTenantID = "tenant_router"

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router    *gin.Engine
	validator *auth.TokenValidator
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetStores().TenantRepo.AddTenant(routerTenantID, "admin@firm.test")

	billing := service.NewBillingService(service.ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		PlanRepo:         s.GetStores().PlanRepo,
		SubRepo:          s.GetStores().SubscriptionRepo,
		BillingEventRepo: s.GetStores().BillingEventRepo,
		TenantDirectory:  s.GetStores().TenantRepo,
		UsageCounter:     s.GetStores().TenantRepo,
		Providers:        s.GetProviders(),
		EmailSender:      s.GetEmailSender(),
		Metrics:          s.GetMetrics(),
		ExportRequester:  s.GetExportRequester(),
		Clock:            s.Clock(),
	})

	s.validator = auth.NewTokenValidator(s.GetConfig())
	s.router = NewRouter(RouterParams{
		Handlers: Handlers{
			Billing:     v1.NewBillingHandler(billing, s.GetConfig(), s.GetLogger()),
			Webhook:     v1.NewWebhookHandler(billing, s.GetProviders(), s.GetMetrics(), s.GetConfig(), s.GetLogger()),
			Maintenance: cron.NewMaintenanceCronHandler(billing, s.GetLogger()),
		},
		Config:    s.GetConfig(),
		Logger:    s.GetLogger(),
		Validator: s.validator,
		Metrics:   s.GetMetrics(),
		DB:        s.GetDB(),
	})
}

func (s *RouterSuite) token(role types.UserRole) string {
	token, err := s.validator.GenerateToken(auth.Claims{UserID: "user_1", TenantID: routerTenantID, Role: role}, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *RouterSuite) do(method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *RouterSuite) bearer(role types.UserRole) map[string]string {
	return map[string]string{types.HeaderAuthorization: "Bearer " + s.token(role)}
}

func (s *RouterSuite) TestHealth() {
	w, body := s.do(http.MethodGet, "/health", nil, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("ok", body["status"])
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))
}

func (s *RouterSuite) TestStatusRequiresToken() {
	w, body := s.do(http.MethodGet, "/v1/billing/status", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(body, "error")

	w, _ = s.do(http.MethodGet, "/v1/billing/status", nil, map[string]string{types.HeaderAuthorization: "Bearer nope"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterSuite) TestStatus() {
	w, body := s.do(http.MethodGet, "/v1/billing/status", nil, s.bearer(types.UserRoleStaff))
	s.Equal(http.StatusOK, w.Code)
	s.Equal(string(types.PlanCodeFree), body["plan_code"])
	s.Equal(false, body["is_plus_effective"])
	limits, ok := body["limits"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal(float64(3), limits["max_clients"])
}

func (s *RouterSuite) TestCheckoutRequiresAdmin() {
	w, _ := s.do(http.MethodPost, "/v1/billing/checkout", map[string]string{"plan": "plus"}, s.bearer(types.UserRoleLawyer))
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RouterSuite) TestCheckoutSanitizesNext() {
	w, body := s.do(http.MethodPost, "/v1/billing/checkout",
		map[string]string{"plan": "PLUS_MONTHLY", "next": "//evil.example"},
		s.bearer(types.UserRoleAdmin))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(types.BillingProviderFake), body["provider"])

	checkoutURL, ok := body["checkout_url"].(string)
	s.Require().True(ok)
	parsed, err := url.Parse(checkoutURL)
	s.Require().NoError(err)
	s.Equal("http://localhost:5173/dashboard", parsed.Query().Get("next"))
	s.NotContains(checkoutURL, "evil.example")
}

func (s *RouterSuite) TestCheckoutValidation() {
	w, body := s.do(http.MethodPost, "/v1/billing/checkout", map[string]string{"plan": "FREE"}, s.bearer(types.UserRoleAdmin))
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(body, "error")

	w, _ = s.do(http.MethodPost, "/v1/billing/checkout", map[string]string{}, s.bearer(types.UserRoleAdmin))
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/billing/checkout", map[string]string{"plan": "plus", "payer_email": "not-an-email"}, s.bearer(types.UserRoleAdmin))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestFakeWebhook() {
	payload := map[string]string{
		"event_type":  types.EventTypePaymentSucceeded,
		"tenant_id":   routerTenantID,
		"plan_code":   "PLUS_MONTHLY",
		"external_id": "evt_1",
	}

	w, body := s.do(http.MethodPost, "/v1/billing/webhook/fake", payload, nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(map[string]interface{}{"message": "invalid webhook"}, body["error"])

	secret := map[string]string{types.HeaderFakeWebhookSecret: s.GetConfig().Billing.WebhookSecret}
	w, body = s.do(http.MethodPost, "/v1/billing/webhook/fake", payload, secret)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, body["ok"])

	// replay is acknowledged
	w, _ = s.do(http.MethodPost, "/v1/billing/webhook/fake", payload, secret)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(1, s.GetStores().BillingEventRepo.CountByType(routerTenantID, types.EventTypePaymentSucceeded))

	_, body = s.do(http.MethodGet, "/v1/billing/status", nil, s.bearer(types.UserRoleStaff))
	s.Equal(string(types.SubscriptionStatusActive), body["status"])
	s.Equal(true, body["is_plus_effective"])
}

func (s *RouterSuite) TestWebhookErrorsAreUniform() {
	secret := map[string]string{types.HeaderFakeWebhookSecret: s.GetConfig().Billing.WebhookSecret}

	w, body := s.do(http.MethodPost, "/v1/billing/webhook/paypal", map[string]string{}, nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(map[string]interface{}{"message": "invalid webhook"}, body["error"])

	w, body = s.do(http.MethodPost, "/v1/billing/webhook/fake", map[string]string{
		"event_type":  types.EventTypePaymentSucceeded,
		"tenant_id":   "tenant_unknown",
		"external_id": "evt_2",
	}, secret)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(map[string]interface{}{"message": "invalid webhook"}, body["error"])

	w, _ = s.do(http.MethodPost, "/v1/billing/webhook/internal", map[string]string{}, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestFakeConfirmAndCancel() {
	w, body := s.do(http.MethodPost, "/v1/billing/cancel", nil, s.bearer(types.UserRoleAdmin))
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(body, "error")

	w, body = s.do(http.MethodPost, "/v1/billing/fake/confirm?plan=plus&result=succeeded", nil, s.bearer(types.UserRoleAdmin))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("applied", body["outcome"])

	w, body = s.do(http.MethodPost, "/v1/billing/cancel", map[string]bool{"generate_export_now": true}, s.bearer(types.UserRoleAdmin))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(true, body["cancel_at_period_end"])
	s.Equal(string(types.RefundStatusRequested), body["refund_status"])
	s.Equal(true, body["export_requested"])
	s.Equal("Assinatura marcada para cancelamento ao fim do período", body["message"])
}

func (s *RouterSuite) TestMaintenanceRequiresPlatformKey() {
	w, _ := s.do(http.MethodPost, "/v1/platform/billing/maintenance", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/platform/billing/maintenance", nil, map[string]string{types.HeaderPlatformKey: "wrong"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w, body := s.do(http.MethodPost, "/v1/platform/billing/maintenance", nil,
		map[string]string{types.HeaderPlatformKey: s.GetConfig().Platform.APIKey})
	s.Equal(http.StatusOK, w.Code)
	s.Equal(float64(0), body["expired"])
	s.Equal(float64(0), body["canceled"])
	s.Equal(float64(0), body["emails_sent"])
}

func (s *RouterSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/health", nil, nil)
	w, _ := s.do(http.MethodGet, "/metrics", nil, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "billing_http_requests_total")
}
