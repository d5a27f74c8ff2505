package types

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/samber/lo"
)

// PlanCode identifies a catalog entry.
type PlanCode string

const (
	PlanCodeFree        PlanCode = "FREE"
	PlanCodePlusMonthly PlanCode = "PLUS_MONTHLY"
	PlanCodePlusAnnual  PlanCode = "PLUS_ANNUAL"
)

var planCodeAliases = map[string]PlanCode{
	"free":              PlanCodeFree,
	"plus":              PlanCodePlusMonthly,
	"plus_monthly":      PlanCodePlusMonthly,
	"plus_monthly_card": PlanCodePlusMonthly,
	"monthly":           PlanCodePlusMonthly,
	"plus_annual":       PlanCodePlusAnnual,
	"plus_annual_pix":   PlanCodePlusAnnual,
	"annual":            PlanCodePlusAnnual,
}

// ParsePlanCode accepts the canonical codes and the aliases used by older
// checkout links and provider references.
func ParsePlanCode(raw string) (PlanCode, error) {
	code, ok := planCodeAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", ierr.NewErrorf("unknown plan %q", raw).
			WithHint("Plan must be one of FREE, PLUS_MONTHLY, PLUS_ANNUAL").
			WithReportableDetails(map[string]any{"plan": raw}).
			Mark(ierr.ErrInvalidPlan)
	}
	return code, nil
}

func (p PlanCode) String() string {
	return string(p)
}

func (p PlanCode) IsFree() bool {
	return p == PlanCodeFree
}

// BillingPeriod of a plan.
type BillingPeriod string

const (
	BillingPeriodNone    BillingPeriod = "NONE"
	BillingPeriodMonthly BillingPeriod = "MONTHLY"
	BillingPeriodYearly  BillingPeriod = "YEARLY"
)

const (
	MonthlyPeriodLength = 30 * 24 * time.Hour
	YearlyPeriodLength  = 365 * 24 * time.Hour
	PastDueGraceLength  = 7 * 24 * time.Hour
	PixCheckoutLifetime = 30 * time.Minute
	// RefundWindow is the consumer withdrawal window counted from period start.
	RefundWindow = 7 * 24 * time.Hour
)

// PeriodEnd returns start plus the period length, or nil when the period never
// expires.
func (b BillingPeriod) PeriodEnd(start time.Time) *time.Time {
	switch b {
	case BillingPeriodMonthly:
		return lo.ToPtr(start.Add(MonthlyPeriodLength))
	case BillingPeriodYearly:
		return lo.ToPtr(start.Add(YearlyPeriodLength))
	default:
		return nil
	}
}

// SubscriptionStatus of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusFree     SubscriptionStatus = "free"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	// SubscriptionStatusTrialing only exists on legacy rows.
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

// BillingProvider names a payment provider adapter.
type BillingProvider string

const (
	BillingProviderFake        BillingProvider = "fake"
	BillingProviderMercadoPago BillingProvider = "mercadopago"
	BillingProviderStripe      BillingProvider = "stripe"
	// BillingProviderInternal tags events the engine writes on its own behalf.
	BillingProviderInternal BillingProvider = "internal"
)

var adapterProviders = []BillingProvider{
	BillingProviderFake,
	BillingProviderMercadoPago,
	BillingProviderStripe,
}

func (p BillingProvider) String() string {
	return string(p)
}

// Validate accepts only providers that have an adapter.
func (p BillingProvider) Validate() error {
	if lo.Contains(adapterProviders, p) {
		return nil
	}
	return ierr.NewErrorf("unknown billing provider %q", p).
		WithHint(fmt.Sprintf("Billing provider must be one of: %s", strings.Join(lo.Map(adapterProviders, func(p BillingProvider, _ int) string { return string(p) }), ", "))).
		Mark(ierr.ErrValidation)
}

// RefundStatus of a cancellation.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "NONE"
	RefundStatusRequested RefundStatus = "REQUESTED"
)

// Normalized event types produced by adapters and written by the engine.
const (
	EventTypePaymentSucceeded     = "payment_succeeded"
	EventTypePaymentFailed        = "payment_failed"
	EventTypeSubscriptionCanceled = "subscription_canceled"
	EventTypeCheckoutCreated      = "checkout_created"
	EventTypeCancelRequested      = "subscription_cancel_requested"
	EventTypeRemoteCancelFailed   = "remote_cancel_failed"
	EventTypeSubscriptionExpired  = "subscription_expired"
	EventTypeCanceledGraceEnd     = "subscription_canceled_grace_end"
	EventTypeCanceledPeriodEnd    = "subscription_canceled_period_end"
	EventTypeEmailSent            = "email_sent"
	EventTypeTransitionFailed     = "transition_failed"
	EventTypeTransitionRecovered  = "transition_recovered"
)

// LastPaymentStatusCheckout is stored when a checkout is started.
const LastPaymentStatusCheckout = "checkout_created"
