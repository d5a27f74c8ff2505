package fake

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planByCode(code types.PlanCode) *plan.Plan {
	p, _ := lo.Find(plan.DefaultCatalog(), func(p *plan.Plan) bool { return p.Code == code })
	return p
}

func newProvider() *Provider {
	p := NewProvider("s3cret", "http://app.local/", logger.NewNopLogger())
	p.now = func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestCreateCheckout(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	t.Run("free is rejected", func(t *testing.T) {
		_, err := p.CreateCheckout(ctx, &payment.CheckoutRequest{TenantID: "t1", Plan: planByCode(types.PlanCodeFree)})
		assert.True(t, ierr.IsInvalidPlan(err))
	})

	t.Run("card flow", func(t *testing.T) {
		res, err := p.CreateCheckout(ctx, &payment.CheckoutRequest{
			TenantID:   "t1",
			Plan:       planByCode(types.PlanCodePlusMonthly),
			SuccessURL: "/settings/billing",
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.ProviderSubscriptionID, "fake_sub_"))
		assert.Equal(t, res.ProviderSubscriptionID, res.CorrelationID())

		u, err := url.Parse(res.CheckoutURL)
		require.NoError(t, err)
		assert.Equal(t, "/billing/fake/confirm", u.Path)
		assert.Equal(t, "card", u.Query().Get("flow"))
		assert.Equal(t, res.ProviderSubscriptionID, u.Query().Get("sub"))
		assert.Equal(t, "/settings/billing", u.Query().Get("next"))
		assert.Empty(t, res.PixCopyPaste)
	})

	t.Run("pix flow", func(t *testing.T) {
		res, err := p.CreateCheckout(ctx, &payment.CheckoutRequest{TenantID: "t1", Plan: planByCode(types.PlanCodePlusAnnual)})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.ProviderPaymentID, "fake_pix_"))
		assert.Equal(t, "FAKE-PIX:"+res.ProviderPaymentID+":t1", res.PixCopyPaste)
		assert.Equal(t, "[FAKE QR] "+res.ProviderPaymentID, res.PixQRCode)
		require.NotNil(t, res.ExpiresAt)
		assert.Equal(t, p.now().Add(30*time.Minute), *res.ExpiresAt)
		assert.Empty(t, res.CheckoutURL)
	})
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()
	p := newProvider()
	headers := func(secret string) http.Header {
		h := http.Header{}
		h.Set(types.HeaderFakeWebhookSecret, secret)
		return h
	}

	t.Run("wrong secret", func(t *testing.T) {
		_, err := p.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers("nope"), Body: []byte(`{}`)})
		assert.True(t, ierr.IsInvalidSignature(err))
	})

	t.Run("missing secret configuration rejects everything", func(t *testing.T) {
		open := NewProvider("", "http://app.local", logger.NewNopLogger())
		_, err := open.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers(""), Body: []byte(`{}`)})
		assert.True(t, ierr.IsInvalidSignature(err))
	})

	t.Run("malformed body after valid secret", func(t *testing.T) {
		_, err := p.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers("s3cret"), Body: []byte(`{`)})
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("external reference wins", func(t *testing.T) {
		body := `{"event_type":"payment_succeeded","external_reference":"tenant_id=t1;plan_code=PLUS_MONTHLY","tenant_id":"other","external_id":"evt_1","payment_status":"approved"}`
		ev, err := p.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers("s3cret"), Body: []byte(body)})
		require.NoError(t, err)
		assert.Equal(t, "t1", ev.TenantID)
		assert.Equal(t, types.PlanCodePlusMonthly, ev.PlanCode)
		assert.Equal(t, types.EventTypePaymentSucceeded, ev.EventType)
		assert.Equal(t, "evt_1", ev.ExternalID)
		assert.Equal(t, "approved", ev.PaymentStatus)
	})

	t.Run("plain tenant and plan fields", func(t *testing.T) {
		body := `{"event_type":"payment_failed","tenant_id":"t2","plan_code":"plus_monthly_card","external_id":"evt_2"}`
		ev, err := p.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers("s3cret"), Body: []byte(body)})
		require.NoError(t, err)
		assert.Equal(t, "t2", ev.TenantID)
		assert.Equal(t, types.PlanCodePlusMonthly, ev.PlanCode)
		assert.True(t, ev.IsActionable())
	})

	t.Run("unknown event type is prefixed", func(t *testing.T) {
		body := `{"event_type":"Dispute_Opened","tenant_id":"t2","external_id":"evt_3"}`
		ev, err := p.HandleWebhook(ctx, &payment.WebhookRequest{Headers: headers("s3cret"), Body: []byte(body)})
		require.NoError(t, err)
		assert.Equal(t, "fake_dispute_opened", ev.EventType)
		assert.False(t, ev.IsActionable())
	})
}

func TestConfirmResultEventType(t *testing.T) {
	for _, r := range []string{"succeeded", "success", "OK"} {
		assert.Equal(t, types.EventTypePaymentSucceeded, ConfirmResultEventType(r))
	}
	for _, r := range []string{"failed", "", "declined"} {
		assert.Equal(t, types.EventTypePaymentFailed, ConfirmResultEventType(r))
	}
}
