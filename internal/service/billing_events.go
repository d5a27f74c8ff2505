package service

import (
	"context"
	"fmt"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/types"
)

// ProcessProviderEvent records the event and applies its transition.
//
// The event row is written first, in its own statement, so the audit trail
// survives a failed transition. A replay of an already stored event is a
// no-op unless its earlier transition failed and has not been recovered.
func (s *billingService) ProcessProviderEvent(ctx context.Context, event *payment.ProviderEvent) (*dto.ProcessEventResult, error) {
	if event == nil {
		return nil, ierr.NewError("provider event is required").
			WithHint("Invalid webhook").
			Mark(ierr.ErrValidation)
	}
	provider := string(event.Provider)
	log := s.Logger.WithContext(ctx)

	tenantID, err := s.resolveTenant(ctx, event)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		if event.IsActionable() {
			s.Metrics.Webhook(provider, observability.OutcomeUncorrelated)
			return nil, ierr.NewError("provider event does not match any tenant").
				WithHint("Invalid webhook").
				WithReportableDetails(map[string]any{"event_type": event.EventType}).
				Mark(ierr.ErrUncorrelatedEvent)
		}
		log.Infow("ignoring uncorrelated provider event",
			"provider", provider,
			"event_type", event.EventType)
		s.Metrics.Webhook(provider, observability.OutcomeIgnored)
		return &dto.ProcessEventResult{Outcome: observability.OutcomeIgnored}, nil
	}
	log = log.WithTenant(tenantID)

	created, err := s.BillingEventRepo.Append(ctx, billingevent.New(tenantID, event.Provider, event.EventType, event.ExternalID, event.Payload))
	if err != nil {
		return nil, err
	}

	if !event.IsActionable() {
		log.Infow("provider event recorded without transition",
			"provider", provider,
			"event_type", event.EventType,
			"duplicate", !created)
		s.Metrics.Webhook(provider, observability.OutcomeIgnored)
		return &dto.ProcessEventResult{Outcome: observability.OutcomeIgnored, TenantID: tenantID}, nil
	}

	outcome := observability.OutcomeApplied
	if !created {
		pending, err := s.hasPendingFailure(ctx, tenantID, event)
		if err != nil {
			return nil, err
		}
		if !pending {
			log.Infow("duplicate provider event ignored",
				"provider", provider,
				"event_type", event.EventType,
				"external_id", event.ExternalID)
			s.Metrics.Webhook(provider, observability.OutcomeDuplicate)
			return &dto.ProcessEventResult{Outcome: observability.OutcomeDuplicate, TenantID: tenantID}, nil
		}
		outcome = observability.OutcomeRecovered
	}

	applied, err := s.applyProviderEvent(ctx, tenantID, event)
	if err != nil {
		log.Errorw("provider event transition failed",
			"provider", provider,
			"event_type", event.EventType,
			"external_id", event.ExternalID,
			"error", err)
		s.recordMarker(ctx, tenantID, event, types.EventTypeTransitionFailed, map[string]interface{}{
			"status_code": ierr.HTTPStatusFromErr(err),
		})
		s.Metrics.Webhook(provider, observability.OutcomeFailed)
		return nil, err
	}

	if outcome == observability.OutcomeRecovered {
		s.recordMarker(ctx, tenantID, event, types.EventTypeTransitionRecovered, nil)
	}
	if !applied {
		outcome = observability.OutcomeNotApplied
	}
	log.Infow("provider event processed",
		"provider", provider,
		"event_type", event.EventType,
		"outcome", outcome)
	s.Metrics.Webhook(provider, outcome)
	return &dto.ProcessEventResult{Outcome: outcome, TenantID: tenantID}, nil
}

// resolveTenant trusts only the provider's correlation: the reference carried
// in the payload, else the provider id stored at checkout. An empty id with a
// nil error means the event matches no tenant.
func (s *billingService) resolveTenant(ctx context.Context, event *payment.ProviderEvent) (string, error) {
	tenantID := event.TenantID
	if tenantID == "" {
		ref := event.CorrelationRef()
		if ref == "" {
			return "", nil
		}
		sub, err := s.SubRepo.GetByProviderRef(ctx, event.Provider, ref)
		if err != nil {
			if ierr.IsNotFound(err) {
				return "", nil
			}
			return "", err
		}
		tenantID = sub.TenantID
	}

	exists, err := s.TenantDirectory.Exists(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	return tenantID, nil
}

// markerKey ties a failure or recovery marker to the original event.
func markerKey(event *payment.ProviderEvent) string {
	if event.ExternalID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", event.Provider, event.EventType, event.ExternalID)
}

func (s *billingService) hasPendingFailure(ctx context.Context, tenantID string, event *payment.ProviderEvent) (bool, error) {
	key := markerKey(event)
	if key == "" {
		return false, nil
	}
	failed, err := s.BillingEventRepo.Exists(ctx, billingevent.DedupKey{
		TenantID:   tenantID,
		Provider:   types.BillingProviderInternal,
		EventType:  types.EventTypeTransitionFailed,
		ExternalID: key,
	})
	if err != nil || !failed {
		return false, err
	}
	recovered, err := s.BillingEventRepo.Exists(ctx, billingevent.DedupKey{
		TenantID:   tenantID,
		Provider:   types.BillingProviderInternal,
		EventType:  types.EventTypeTransitionRecovered,
		ExternalID: key,
	})
	if err != nil {
		return false, err
	}
	return !recovered, nil
}

func (s *billingService) recordMarker(ctx context.Context, tenantID string, event *payment.ProviderEvent, markerType string, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"provider":    string(event.Provider),
		"event_type":  event.EventType,
		"external_id": event.ExternalID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := s.BillingEventRepo.Append(ctx, billingevent.New(tenantID, types.BillingProviderInternal, markerType, markerKey(event), payload)); err != nil {
		s.Logger.WithContext(ctx).Errorw("failed to record transition marker",
			"tenant_id", tenantID,
			"marker", markerType,
			"error", err)
	}
}

// applyProviderEvent runs the event's transition in one read-modify-write
// transaction and sends the notification it triggers after commit. It
// reports false when the row's state is outside the event's scope, such as
// a failure on a row that is not active monthly.
func (s *billingService) applyProviderEvent(ctx context.Context, tenantID string, event *payment.ProviderEvent) (bool, error) {
	if _, err := s.getOrCreateSubscription(ctx, tenantID); err != nil {
		return false, err
	}

	now := s.now()
	details := subscription.PaymentDetails{
		Provider:               event.Provider,
		PaymentStatus:          event.PaymentStatus,
		ProviderCustomerID:     event.ProviderCustomerID,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		ProviderPaymentID:      event.ProviderPaymentID,
	}

	var (
		from, to     types.SubscriptionStatus
		enteredGrace *subscription.Subscription
	)
	applied := true
	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		sub, err := s.SubRepo.GetByTenantIDForUpdate(txCtx, tenantID)
		if err != nil {
			return err
		}
		from = sub.Status

		switch event.EventType {
		case types.EventTypePaymentSucceeded:
			p, err := s.paidPlanFor(txCtx, event.PlanCode, sub)
			if err != nil {
				return err
			}
			sub.ApplyPaymentSucceeded(p, details, now)

		case types.EventTypePaymentFailed:
			var current *plan.Plan
			if !sub.PlanCode.IsFree() {
				current, err = s.PlanRepo.GetByCode(txCtx, sub.PlanCode)
				if err != nil {
					return err
				}
			}
			applied = sub.ApplyPaymentFailed(current, details, now)
			if applied {
				enteredGrace = sub.Copy()
			}

		case types.EventTypeSubscriptionCanceled:
			applied = sub.ApplySubscriptionCanceled(now)
			if !applied {
				to = sub.Status
				return nil
			}
		}

		to = sub.Status
		return s.SubRepo.Update(txCtx, sub)
	})
	if err != nil {
		return false, err
	}

	s.Metrics.Transition(string(from), string(to))
	if !applied {
		s.Logger.WithContext(ctx).Infow("provider event does not apply to subscription state",
			"tenant_id", tenantID,
			"event_type", event.EventType,
			"status", string(from))
	}
	if enteredGrace != nil {
		s.notifyPastDueCreated(ctx, enteredGrace)
	}
	return applied, nil
}

// paidPlanFor resolves the plan a payment pays for. Events without a plan
// renew the tenant's current paid plan.
func (s *billingService) paidPlanFor(ctx context.Context, code types.PlanCode, sub *subscription.Subscription) (*plan.Plan, error) {
	if code == "" {
		code = sub.PlanCode
	}
	if code == "" || code.IsFree() {
		return nil, ierr.NewError("payment event carries no paid plan").
			WithHint("Invalid webhook").
			WithReportableDetails(map[string]any{"tenant_id": sub.TenantID}).
			Mark(ierr.ErrInvalidPlan)
	}
	p, err := s.PlanRepo.GetByCode(ctx, code)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHint("Invalid webhook").
				Mark(ierr.ErrInvalidPlan)
		}
		return nil, err
	}
	return p, nil
}
