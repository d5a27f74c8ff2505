package subscription

import (
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func catalog(t *testing.T, code types.PlanCode) *plan.Plan {
	t.Helper()
	p, ok := lo.Find(plan.DefaultCatalog(), func(p *plan.Plan) bool { return p.Code == code })
	require.True(t, ok)
	return p
}

func TestIsPlusEffective(t *testing.T) {
	tests := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{"nil", nil, false},
		{"free row", &Subscription{PlanCode: types.PlanCodeFree, Status: types.SubscriptionStatusFree}, false},
		{"active free plan", &Subscription{PlanCode: types.PlanCodeFree, Status: types.SubscriptionStatusActive}, false},
		{"active open ended", &Subscription{PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusActive}, true},
		{"active within period", &Subscription{
			PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusActive,
			CurrentPeriodEnd: lo.ToPtr(now.Add(time.Hour)),
		}, true},
		{"active at period end", &Subscription{
			PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusActive,
			CurrentPeriodEnd: lo.ToPtr(now),
		}, true},
		{"active past period end", &Subscription{
			PlanCode: types.PlanCodePlusAnnual, Status: types.SubscriptionStatusActive,
			CurrentPeriodEnd: lo.ToPtr(now.Add(-time.Second)),
		}, false},
		{"past due in grace", &Subscription{
			PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusPastDue,
			GracePeriodEnd: lo.ToPtr(now.Add(24 * time.Hour)),
		}, true},
		{"past due without grace", &Subscription{
			PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusPastDue,
		}, false},
		{"past due after grace", &Subscription{
			PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusPastDue,
			GracePeriodEnd: lo.ToPtr(now.Add(-time.Minute)),
		}, false},
		{"canceled", &Subscription{PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusCanceled}, false},
		{"expired", &Subscription{PlanCode: types.PlanCodePlusAnnual, Status: types.SubscriptionStatusExpired}, false},
		{"legacy trialing", &Subscription{PlanCode: types.PlanCodePlusMonthly, Status: types.SubscriptionStatusTrialing}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPlusEffective(tt.sub, now))
			if tt.want {
				assert.Equal(t, tt.sub.PlanCode, EffectivePlanCode(tt.sub, now))
			} else {
				assert.Equal(t, types.PlanCodeFree, EffectivePlanCode(tt.sub, now))
			}
		})
	}
}

func TestIsPlusEffectiveIsPure(t *testing.T) {
	sub := &Subscription{
		PlanCode:         types.PlanCodePlusMonthly,
		Status:           types.SubscriptionStatusActive,
		CurrentPeriodEnd: lo.ToPtr(now.Add(time.Hour)),
	}
	before := sub.Copy()

	for i := 0; i < 3; i++ {
		assert.True(t, IsPlusEffective(sub, now))
	}
	assert.False(t, IsPlusEffective(sub, now.Add(2*time.Hour)))
	assert.Equal(t, before, sub)
}

func TestApplyPaymentSucceededReassertsPeriod(t *testing.T) {
	monthly := catalog(t, types.PlanCodePlusMonthly)
	annual := catalog(t, types.PlanCodePlusAnnual)

	sub := NewFree("tenant-1", types.BillingProviderFake, now.Add(-time.Hour))
	sub.Status = types.SubscriptionStatusPastDue
	sub.GracePeriodEnd = lo.ToPtr(now.Add(time.Hour))
	sub.CancelAtPeriodEnd = true

	sub.ApplyPaymentSucceeded(monthly, PaymentDetails{ProviderSubscriptionID: "pre_1"}, now)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, types.PlanCodePlusMonthly, sub.PlanCode)
	assert.Equal(t, now, *sub.CurrentPeriodStart)
	assert.Equal(t, now.Add(30*24*time.Hour), *sub.CurrentPeriodEnd)
	assert.Nil(t, sub.GracePeriodEnd)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "pre_1", sub.ProviderSubscriptionID)
	assert.Equal(t, types.EventTypePaymentSucceeded, sub.LastPaymentStatus)

	later := now.Add(48 * time.Hour)
	sub.ApplyPaymentSucceeded(annual, PaymentDetails{PaymentStatus: "approved"}, later)
	assert.Equal(t, types.PlanCodePlusAnnual, sub.PlanCode)
	assert.Equal(t, later.Add(365*24*time.Hour), *sub.CurrentPeriodEnd)
	assert.Equal(t, "approved", sub.LastPaymentStatus)
	assert.Equal(t, "pre_1", sub.ProviderSubscriptionID)
}

func TestApplyPaymentFailed(t *testing.T) {
	monthly := catalog(t, types.PlanCodePlusMonthly)
	annual := catalog(t, types.PlanCodePlusAnnual)

	t.Run("active monthly goes past due", func(t *testing.T) {
		sub := NewFree("t", types.BillingProviderFake, now)
		sub.ApplyPaymentSucceeded(monthly, PaymentDetails{}, now.Add(-30*24*time.Hour))

		assert.True(t, sub.ApplyPaymentFailed(monthly, PaymentDetails{}, now))
		assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)
		assert.Equal(t, now.Add(7*24*time.Hour), *sub.GracePeriodEnd)
		assert.True(t, IsPlusEffective(sub, now.Add(6*24*time.Hour)))
	})

	t.Run("repeated failure keeps grace", func(t *testing.T) {
		sub := NewFree("t", types.BillingProviderFake, now)
		sub.ApplyPaymentSucceeded(monthly, PaymentDetails{}, now)
		require.True(t, sub.ApplyPaymentFailed(monthly, PaymentDetails{}, now))

		assert.False(t, sub.ApplyPaymentFailed(monthly, PaymentDetails{}, now.Add(3*24*time.Hour)))
		assert.Equal(t, now.Add(7*24*time.Hour), *sub.GracePeriodEnd)
	})

	t.Run("yearly and free rows are untouched", func(t *testing.T) {
		sub := NewFree("t", types.BillingProviderFake, now)
		sub.ApplyPaymentSucceeded(annual, PaymentDetails{}, now)
		assert.False(t, sub.ApplyPaymentFailed(annual, PaymentDetails{}, now))
		assert.Equal(t, types.SubscriptionStatusActive, sub.Status)

		free := NewFree("t", types.BillingProviderFake, now)
		assert.False(t, free.ApplyPaymentFailed(catalog(t, types.PlanCodeFree), PaymentDetails{}, now))
		assert.Equal(t, types.SubscriptionStatusFree, free.Status)
		assert.Nil(t, free.GracePeriodEnd)
	})
}

func TestApplySubscriptionCanceled(t *testing.T) {
	monthly := catalog(t, types.PlanCodePlusMonthly)
	sub := NewFree("t", types.BillingProviderFake, now)
	assert.False(t, sub.ApplySubscriptionCanceled(now))

	sub.ApplyPaymentSucceeded(monthly, PaymentDetails{}, now)
	assert.True(t, sub.ApplySubscriptionCanceled(now))
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.True(t, IsPlusEffective(sub, now.Add(29*24*time.Hour)))
}

func TestRequestCancellationRefundWindow(t *testing.T) {
	annual := catalog(t, types.PlanCodePlusAnnual)

	sub := NewFree("t", types.BillingProviderFake, now)
	sub.ApplyPaymentSucceeded(annual, PaymentDetails{}, now)
	assert.Equal(t, types.RefundStatusRequested, sub.RequestCancellation(now.Add(3*24*time.Hour)))
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.NotNil(t, sub.CancellationRequestedAt)

	late := NewFree("t", types.BillingProviderFake, now)
	late.ApplyPaymentSucceeded(annual, PaymentDetails{}, now)
	assert.Equal(t, types.RefundStatusNone, late.RequestCancellation(now.Add(8*24*time.Hour)))
}

func TestDueMaintenance(t *testing.T) {
	monthly := catalog(t, types.PlanCodePlusMonthly)
	annual := catalog(t, types.PlanCodePlusAnnual)

	yearly := NewFree("t", types.BillingProviderFake, now)
	yearly.ApplyPaymentSucceeded(annual, PaymentDetails{}, now)
	assert.Equal(t, MaintenanceNone, yearly.DueMaintenance(annual, now.Add(364*24*time.Hour)))
	assert.Equal(t, MaintenanceExpire, yearly.DueMaintenance(annual, now.Add(366*24*time.Hour)))

	card := NewFree("t", types.BillingProviderFake, now)
	card.ApplyPaymentSucceeded(monthly, PaymentDetails{}, now)
	assert.Equal(t, MaintenanceNone, card.DueMaintenance(monthly, now.Add(31*24*time.Hour)))
	card.ApplySubscriptionCanceled(now)
	assert.Equal(t, MaintenanceCancelPeriodEnd, card.DueMaintenance(monthly, now.Add(31*24*time.Hour)))

	require.True(t, card.ApplyPaymentFailed(monthly, PaymentDetails{}, now))
	assert.Equal(t, MaintenanceNone, card.DueMaintenance(monthly, now.Add(6*24*time.Hour)))
	assert.Equal(t, MaintenanceCancelGraceEnd, card.DueMaintenance(monthly, now.Add(8*24*time.Hour)))

	card.Downgrade(types.SubscriptionStatusCanceled, now)
	assert.Equal(t, types.PlanCodeFree, card.PlanCode)
	assert.Nil(t, card.GracePeriodEnd)
	assert.False(t, card.CancelAtPeriodEnd)
	assert.Equal(t, MaintenanceNone, card.DueMaintenance(monthly, now.Add(8*24*time.Hour)))
}

func TestDaysUntil(t *testing.T) {
	end := time.Date(2026, 3, 17, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, 7, DaysUntil(now, end))
	assert.Equal(t, 0, DaysUntil(now, now.Add(time.Hour)))
	assert.Equal(t, -1, DaysUntil(now, now.Add(-24*time.Hour)))
	assert.Equal(t, "2026-03-17", DateKey(end))
}

func TestRecordCheckout(t *testing.T) {
	monthly := catalog(t, types.PlanCodePlusMonthly)
	annual := catalog(t, types.PlanCodePlusAnnual)

	sub := NewFree("tenant-1", types.BillingProviderFake, now)
	sub.RecordCheckout(types.BillingProviderStripe, "cus_1", "cs_1", "", now)
	assert.Equal(t, types.BillingProviderStripe, sub.Provider)
	assert.Equal(t, "cs_1", sub.ProviderSubscriptionID)
	assert.False(t, sub.HasPendingCheckout())

	sub.ApplyPaymentSucceeded(monthly, PaymentDetails{Provider: types.BillingProviderStripe, ProviderSubscriptionID: "sub_1"}, now)
	sub.RecordCheckout(types.BillingProviderMercadoPago, "", "", "pay_9", now.Add(time.Hour))
	assert.Equal(t, types.BillingProviderStripe, sub.Provider)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
	assert.Empty(t, sub.ProviderPaymentID)
	assert.True(t, sub.HasPendingCheckout())
	assert.True(t, sub.MatchesRef(types.BillingProviderMercadoPago, "pay_9"))
	assert.True(t, sub.MatchesRef(types.BillingProviderStripe, "sub_1"))
	assert.False(t, sub.MatchesRef(types.BillingProviderStripe, "pay_9"))

	// a renewal of the live subscription leaves the staged checkout alone
	sub.ApplyPaymentSucceeded(monthly, PaymentDetails{Provider: types.BillingProviderStripe, ProviderSubscriptionID: "sub_1"}, now.Add(2*time.Hour))
	assert.True(t, sub.HasPendingCheckout())

	sub.ApplyPaymentSucceeded(annual, PaymentDetails{Provider: types.BillingProviderMercadoPago, ProviderPaymentID: "pay_9"}, now.Add(3*time.Hour))
	assert.Equal(t, types.BillingProviderMercadoPago, sub.Provider)
	assert.Equal(t, "pay_9", sub.ProviderPaymentID)
	assert.Empty(t, sub.ProviderSubscriptionID, "the live subscription's id does not carry over")
	assert.Empty(t, sub.ProviderCustomerID)
	assert.Equal(t, types.PlanCodePlusAnnual, sub.PlanCode)
	assert.False(t, sub.HasPendingCheckout())
}
