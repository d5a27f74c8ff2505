package service

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// RunScheduledMaintenance sends expiry and past-due reminders and downgrades
// rows whose paid access has ended. Each downgrade re-reads its row inside
// its own transaction, so overlapping sweeps converge. A failing row is
// logged and skipped.
func (s *billingService) RunScheduledMaintenance(ctx context.Context, now time.Time) (*dto.MaintenanceResponse, error) {
	start := time.Now()
	defer func() { s.Metrics.ObserveMaintenance(time.Since(start)) }()

	now = now.UTC()
	log := s.Logger.WithContext(ctx)
	out := &dto.MaintenanceResponse{}

	plans, err := s.planIndex(ctx)
	if err != nil {
		return nil, err
	}

	active, err := s.SubRepo.List(ctx, &subscription.Filter{
		Statuses: []types.SubscriptionStatus{types.SubscriptionStatusActive},
	})
	if err != nil {
		return nil, err
	}
	for _, sub := range active {
		p := plans[sub.PlanCode]
		if p == nil || sub.CurrentPeriodEnd == nil {
			continue
		}
		if p.IsYearly() {
			out.Add(s.sweepAnnual(ctx, sub, p, now))
			continue
		}
		if sub.CancelAtPeriodEnd && now.After(*sub.CurrentPeriodEnd) {
			out.Add(s.sweepDowngrade(ctx, sub, p, subscription.MaintenanceCancelPeriodEnd, now))
		}
	}

	pastDue, err := s.SubRepo.List(ctx, &subscription.Filter{
		Statuses: []types.SubscriptionStatus{types.SubscriptionStatusPastDue},
	})
	if err != nil {
		return nil, err
	}
	for _, sub := range pastDue {
		if sub.GracePeriodEnd == nil {
			continue
		}
		if now.After(*sub.GracePeriodEnd) {
			out.Add(s.sweepDowngrade(ctx, sub, plans[sub.PlanCode], subscription.MaintenanceCancelGraceEnd, now))
			continue
		}
		days := subscription.DaysUntil(now, *sub.GracePeriodEnd)
		if lo.Contains(pastDueReminderDays, days) && s.notifyPastDueReminder(ctx, sub, days) {
			out.EmailsSent++
		}
	}

	log.Infow("billing maintenance finished",
		"expired", out.Expired,
		"canceled", out.Canceled,
		"emails_sent", out.EmailsSent,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (s *billingService) sweepAnnual(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, now time.Time) dto.MaintenanceResponse {
	if now.After(*sub.CurrentPeriodEnd) {
		return s.sweepDowngrade(ctx, sub, p, subscription.MaintenanceExpire, now)
	}
	days := subscription.DaysUntil(now, *sub.CurrentPeriodEnd)
	if lo.Contains(annualReminderDays, days) && s.notifyAnnualExpiring(ctx, sub, days) {
		return dto.MaintenanceResponse{EmailsSent: 1}
	}
	return dto.MaintenanceResponse{}
}

// sweepDowngrade applies the maintenance action if the freshly locked row
// still owes it, then sends the matching notification.
func (s *billingService) sweepDowngrade(ctx context.Context, listed *subscription.Subscription, p *plan.Plan, action subscription.MaintenanceAction, now time.Time) dto.MaintenanceResponse {
	var (
		out       dto.MaintenanceResponse
		before    *subscription.Subscription
		from      types.SubscriptionStatus
		to        types.SubscriptionStatus
		eventType string
	)
	switch action {
	case subscription.MaintenanceExpire:
		to, eventType = types.SubscriptionStatusExpired, types.EventTypeSubscriptionExpired
	case subscription.MaintenanceCancelGraceEnd:
		to, eventType = types.SubscriptionStatusCanceled, types.EventTypeCanceledGraceEnd
	case subscription.MaintenanceCancelPeriodEnd:
		to, eventType = types.SubscriptionStatusCanceled, types.EventTypeCanceledPeriodEnd
	default:
		return out
	}

	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		sub, err := s.SubRepo.GetByTenantIDForUpdate(txCtx, listed.TenantID)
		if err != nil {
			return err
		}
		if sub.PlanCode != listed.PlanCode || sub.DueMaintenance(p, now) != action {
			return nil
		}

		before = sub.Copy()
		from = sub.Status
		sub.Downgrade(to, now)
		if err := s.SubRepo.Update(txCtx, sub); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"from_status": string(before.Status),
			"plan_code":   string(before.PlanCode),
		}
		boundary := lo.FromPtr(before.CurrentPeriodEnd)
		if action == subscription.MaintenanceCancelGraceEnd {
			boundary = lo.FromPtr(before.GracePeriodEnd)
		}
		if !boundary.IsZero() {
			payload["boundary"] = boundary.UTC().Format(time.RFC3339)
		}
		_, err = s.BillingEventRepo.Append(txCtx, billingevent.New(sub.TenantID, types.BillingProviderInternal, eventType,
			sub.ID+":"+subscription.DateKey(lo.Ternary(boundary.IsZero(), now, boundary)), payload))
		return err
	})
	if err != nil {
		s.Logger.WithContext(ctx).Errorw("maintenance downgrade failed",
			"tenant_id", listed.TenantID,
			"event_type", eventType,
			"error", err)
		return out
	}
	if before == nil {
		return out
	}

	s.Metrics.Transition(string(from), string(to))
	s.Logger.WithContext(ctx).Infow("subscription downgraded",
		"tenant_id", before.TenantID,
		"from", string(from),
		"to", string(to),
		"event_type", eventType)

	switch action {
	case subscription.MaintenanceExpire:
		out.Expired++
		if s.notifyAnnualExpired(ctx, before.TenantID, *before.CurrentPeriodEnd) {
			out.EmailsSent++
		}
	case subscription.MaintenanceCancelGraceEnd:
		out.Canceled++
		if s.notifyCanceled(ctx, before.TenantID, *before.GracePeriodEnd) {
			out.EmailsSent++
		}
	case subscription.MaintenanceCancelPeriodEnd:
		out.Canceled++
	}
	return out
}

func (s *billingService) planIndex(ctx context.Context) (map[types.PlanCode]*plan.Plan, error) {
	plans, err := s.PlanRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(plans, func(p *plan.Plan) types.PlanCode { return p.Code }), nil
}
