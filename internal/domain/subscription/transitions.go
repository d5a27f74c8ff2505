package subscription

import (
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// PaymentDetails carries the provider side of a payment event.
type PaymentDetails struct {
	Provider               types.BillingProvider
	PaymentStatus          string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderPaymentID      string
}

// ApplyPaymentSucceeded fully reasserts the period from now, whatever the
// current state. A late or replayed success therefore never leaves a stale
// boundary behind.
func (s *Subscription) ApplyPaymentSucceeded(p *plan.Plan, details PaymentDetails, now time.Time) {
	if s.matchesPending(details) {
		if s.Provider != s.PendingProvider {
			s.ProviderCustomerID = ""
		}
		s.Provider = s.PendingProvider
		s.ProviderSubscriptionID = s.PendingProviderSubscriptionID
		s.ProviderPaymentID = s.PendingProviderPaymentID
		s.clearPending()
	}
	s.PlanCode = p.Code
	s.Status = types.SubscriptionStatusActive
	s.CurrentPeriodStart = lo.ToPtr(now)
	s.CurrentPeriodEnd = p.BillingPeriod.PeriodEnd(now)
	s.GracePeriodEnd = nil
	s.CancelAtPeriodEnd = false
	s.CancellationRequestedAt = nil
	s.RefundStatus = types.RefundStatusNone
	s.LastPaymentAt = lo.ToPtr(now)
	s.LastPaymentStatus = lo.CoalesceOrEmpty(details.PaymentStatus, types.EventTypePaymentSucceeded)
	s.applyProviderRefs(details)
	s.UpdatedAt = now
}

// ApplyPaymentFailed moves an active monthly subscription into its grace
// window. It returns false when the row is not in a state the failure applies
// to; a repeated failure while past_due keeps the original grace deadline.
// A failure of the pending checkout only discards it.
func (s *Subscription) ApplyPaymentFailed(current *plan.Plan, details PaymentDetails, now time.Time) bool {
	if s.matchesPending(details) {
		s.clearPending()
		s.UpdatedAt = now
		return false
	}
	s.LastPaymentStatus = lo.CoalesceOrEmpty(details.PaymentStatus, types.EventTypePaymentFailed)
	s.applyProviderRefs(details)
	s.UpdatedAt = now

	if s.Status != types.SubscriptionStatusActive || current == nil || !current.IsMonthly() {
		return false
	}
	s.Status = types.SubscriptionStatusPastDue
	s.GracePeriodEnd = lo.ToPtr(now.Add(types.PastDueGraceLength))
	return true
}

// ApplySubscriptionCanceled flags the row to lapse at period end. Access is
// kept until then.
func (s *Subscription) ApplySubscriptionCanceled(now time.Time) bool {
	if s.Status != types.SubscriptionStatusActive && s.Status != types.SubscriptionStatusPastDue {
		return false
	}
	s.CancelAtPeriodEnd = true
	s.UpdatedAt = now
	return true
}

// RecordCheckout links a started checkout to the row. While a paid plan is
// live the refs are staged as pending so the confirmed ones keep driving
// renewals and remote cancellation.
func (s *Subscription) RecordCheckout(provider types.BillingProvider, customerID, subscriptionID, paymentID string, now time.Time) {
	s.LastPaymentStatus = types.LastPaymentStatusCheckout
	s.UpdatedAt = now

	if IsPlusEffective(s, now) {
		s.PendingProvider = provider
		s.PendingProviderSubscriptionID = subscriptionID
		s.PendingProviderPaymentID = paymentID
		return
	}
	s.clearPending()
	s.applyProviderRefs(PaymentDetails{
		Provider:               provider,
		ProviderCustomerID:     customerID,
		ProviderSubscriptionID: subscriptionID,
		ProviderPaymentID:      paymentID,
	})
}

// HasPendingCheckout reports whether a checkout awaits its payment.
func (s *Subscription) HasPendingCheckout() bool {
	return s.PendingProviderSubscriptionID != "" || s.PendingProviderPaymentID != ""
}

// MatchesRef reports whether ref is one of the row's confirmed or pending
// provider ids for provider.
func (s *Subscription) MatchesRef(provider types.BillingProvider, ref string) bool {
	if ref == "" {
		return false
	}
	if s.Provider == provider && (s.ProviderSubscriptionID == ref || s.ProviderPaymentID == ref) {
		return true
	}
	return s.PendingProvider == provider && (s.PendingProviderSubscriptionID == ref || s.PendingProviderPaymentID == ref)
}

func (s *Subscription) matchesPending(details PaymentDetails) bool {
	if !s.HasPendingCheckout() || details.Provider != s.PendingProvider {
		return false
	}
	return (details.ProviderSubscriptionID != "" && details.ProviderSubscriptionID == s.PendingProviderSubscriptionID) ||
		(details.ProviderPaymentID != "" && details.ProviderPaymentID == s.PendingProviderPaymentID)
}

func (s *Subscription) clearPending() {
	s.PendingProvider = ""
	s.PendingProviderSubscriptionID = ""
	s.PendingProviderPaymentID = ""
}

// RequestCancellation records a tenant initiated cancellation. Returns the
// resulting refund status.
func (s *Subscription) RequestCancellation(now time.Time) types.RefundStatus {
	s.CancelAtPeriodEnd = true
	s.CancellationRequestedAt = lo.ToPtr(now)
	if s.CurrentPeriodStart != nil && !now.After(s.CurrentPeriodStart.Add(types.RefundWindow)) {
		s.RefundStatus = types.RefundStatusRequested
	}
	if s.RefundStatus == "" {
		s.RefundStatus = types.RefundStatusNone
	}
	s.UpdatedAt = now
	return s.RefundStatus
}

// Downgrade ends the paid plan: the row falls back to FREE with the given
// terminal status and no pending flags.
func (s *Subscription) Downgrade(status types.SubscriptionStatus, now time.Time) {
	s.Status = status
	s.PlanCode = types.PlanCodeFree
	s.CancelAtPeriodEnd = false
	s.GracePeriodEnd = nil
	s.UpdatedAt = now
}

// MaintenanceAction is what a sweep must do with a row.
type MaintenanceAction int

const (
	MaintenanceNone MaintenanceAction = iota
	MaintenanceExpire
	MaintenanceCancelGraceEnd
	MaintenanceCancelPeriodEnd
)

// DueMaintenance decides the downgrade, if any, owed by the row at now.
func (s *Subscription) DueMaintenance(p *plan.Plan, now time.Time) MaintenanceAction {
	switch s.Status {
	case types.SubscriptionStatusActive:
		if s.CurrentPeriodEnd == nil || !now.After(*s.CurrentPeriodEnd) {
			return MaintenanceNone
		}
		if p != nil && p.IsYearly() {
			return MaintenanceExpire
		}
		if s.CancelAtPeriodEnd {
			return MaintenanceCancelPeriodEnd
		}
	case types.SubscriptionStatusPastDue:
		if s.GracePeriodEnd != nil && now.After(*s.GracePeriodEnd) {
			return MaintenanceCancelGraceEnd
		}
	}
	return MaintenanceNone
}

func (s *Subscription) applyProviderRefs(details PaymentDetails) {
	if details.Provider != "" {
		s.Provider = details.Provider
	}
	if details.ProviderCustomerID != "" {
		s.ProviderCustomerID = details.ProviderCustomerID
	}
	if details.ProviderSubscriptionID != "" {
		s.ProviderSubscriptionID = details.ProviderSubscriptionID
	}
	if details.ProviderPaymentID != "" {
		s.ProviderPaymentID = details.ProviderPaymentID
	}
}
