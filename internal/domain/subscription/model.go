package subscription

import (
	"time"

	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// Subscription is the reconciled billing state of one tenant.
type Subscription struct {
	ID                      string                   `json:"id"`
	TenantID                string                   `json:"tenant_id"`
	PlanCode                types.PlanCode           `json:"plan_code"`
	Status                  types.SubscriptionStatus `json:"status"`
	Provider                types.BillingProvider    `json:"provider"`
	CurrentPeriodStart      *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time               `json:"current_period_end,omitempty"`
	GracePeriodEnd          *time.Time               `json:"grace_period_end,omitempty"`
	CancelAtPeriodEnd       bool                     `json:"cancel_at_period_end"`
	CancellationRequestedAt *time.Time               `json:"cancellation_requested_at,omitempty"`
	RefundStatus            types.RefundStatus       `json:"refund_status"`
	LastPaymentAt           *time.Time               `json:"last_payment_at,omitempty"`
	LastPaymentStatus       string                   `json:"last_payment_status,omitempty"`
	ProviderCustomerID      string                   `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID  string                   `json:"provider_subscription_id,omitempty"`
	ProviderPaymentID       string                   `json:"provider_payment_id,omitempty"`
	MaxClientsOverride      *int64                   `json:"max_clients_override,omitempty"`
	MaxStorageMBOverride    *int64                   `json:"max_storage_mb_override,omitempty"`
	CreatedAt               time.Time                `json:"created_at"`
	UpdatedAt               time.Time                `json:"updated_at"`

	// Pending refs belong to a checkout started while a paid plan was live.
	// They replace the confirmed refs only once that checkout is paid.
	PendingProvider               types.BillingProvider `json:"pending_provider,omitempty"`
	PendingProviderSubscriptionID string                `json:"pending_provider_subscription_id,omitempty"`
	PendingProviderPaymentID      string                `json:"pending_provider_payment_id,omitempty"`
}

// NewFree returns the row lazily created for a tenant that never checked out.
func NewFree(tenantID string, provider types.BillingProvider, now time.Time) *Subscription {
	return &Subscription{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:     tenantID,
		PlanCode:     types.PlanCodeFree,
		Status:       types.SubscriptionStatusFree,
		Provider:     provider,
		RefundStatus: types.RefundStatusNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Copy returns a deep copy.
func (s *Subscription) Copy() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = copyTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = copyTime(s.CurrentPeriodEnd)
	c.GracePeriodEnd = copyTime(s.GracePeriodEnd)
	c.CancellationRequestedAt = copyTime(s.CancellationRequestedAt)
	c.LastPaymentAt = copyTime(s.LastPaymentAt)
	if s.MaxClientsOverride != nil {
		c.MaxClientsOverride = lo.ToPtr(*s.MaxClientsOverride)
	}
	if s.MaxStorageMBOverride != nil {
		c.MaxStorageMBOverride = lo.ToPtr(*s.MaxStorageMBOverride)
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return lo.ToPtr(*t)
}

// IsPlusEffective reports whether the tenant currently enjoys a paid plan.
// It is a pure function of the row and the clock and must never be cached.
func IsPlusEffective(sub *Subscription, now time.Time) bool {
	if sub == nil || sub.PlanCode.IsFree() {
		return false
	}
	switch sub.Status {
	case types.SubscriptionStatusActive:
		return sub.CurrentPeriodEnd == nil || !now.After(*sub.CurrentPeriodEnd)
	case types.SubscriptionStatusPastDue:
		return sub.GracePeriodEnd != nil && !now.After(*sub.GracePeriodEnd)
	default:
		return false
	}
}

// EffectivePlanCode is the plan whose limits apply right now.
func EffectivePlanCode(sub *Subscription, now time.Time) types.PlanCode {
	if IsPlusEffective(sub, now) {
		return sub.PlanCode
	}
	return types.PlanCodeFree
}

// DaysUntil counts calendar days between the UTC dates of now and t.
// Negative once t's date has passed.
func DaysUntil(now, t time.Time) int {
	a := truncateDay(now)
	b := truncateDay(t)
	return int(b.Sub(a).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats t as the YYYY-MM-DD fragment used in notification keys.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
