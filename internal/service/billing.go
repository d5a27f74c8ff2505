package service

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/integration/payment/fake"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// BillingService reconciles provider events with tenant subscriptions.
type BillingService interface {
	GetStatus(ctx context.Context, tenantID string) (*dto.BillingStatusResponse, error)
	StartCheckout(ctx context.Context, tenantID string, req CheckoutParams) (*dto.CheckoutResponse, error)
	ProcessProviderEvent(ctx context.Context, event *payment.ProviderEvent) (*dto.ProcessEventResult, error)
	CancelSubscription(ctx context.Context, tenantID string, generateExportNow bool) (*dto.CancelSubscriptionResponse, error)
	// RunScheduledMaintenance sweeps every subscription as of now.
	RunScheduledMaintenance(ctx context.Context, now time.Time) (*dto.MaintenanceResponse, error)
	FakeConfirm(ctx context.Context, tenantID string, req FakeConfirmParams) (*dto.ProcessEventResult, error)
}

// CheckoutParams describes a checkout started by a tenant admin.
type CheckoutParams struct {
	PlanCode types.PlanCode
	// PayerEmail falls back to the first tenant admin email.
	PayerEmail string
	SuccessURL string
	CancelURL  string
	// IdempotencyKey is forwarded to providers that support it. A fresh key
	// is generated when empty.
	IdempotencyKey string
}

// FakeConfirmParams is what the fake provider's confirm page posts.
type FakeConfirmParams struct {
	PlanCode   types.PlanCode
	Result     string
	ExternalID string
}

const cancelRequestedMessage = "Assinatura marcada para cancelamento ao fim do período"

type billingService struct {
	ServiceParams
}

func NewBillingService(params ServiceParams) BillingService {
	return &billingService{
		ServiceParams: params,
	}
}

func (s *billingService) GetStatus(ctx context.Context, tenantID string) (*dto.BillingStatusResponse, error) {
	now := s.now()
	sub, err := s.getOrCreateSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	limits, err := effectiveLimits(ctx, s.PlanRepo, sub, now)
	if err != nil {
		return nil, err
	}

	return &dto.BillingStatusResponse{
		TenantID:         tenantID,
		PlanCode:         limits.PlanCode,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		GracePeriodEnd:   sub.GracePeriodEnd,
		IsPlusEffective:  subscription.IsPlusEffective(sub, now),
		Limits:           limits.BillingLimits,
		Message:          statusMessage(sub, limits.PlanCode, now),
	}, nil
}

func (s *billingService) StartCheckout(ctx context.Context, tenantID string, req CheckoutParams) (*dto.CheckoutResponse, error) {
	if req.PlanCode == "" || req.PlanCode.IsFree() {
		return nil, ierr.NewError("plan cannot be checked out").
			WithHint("Choose a paid plan").
			WithReportableDetails(map[string]any{"plan": req.PlanCode}).
			Mark(ierr.ErrInvalidPlan)
	}

	p, err := s.PlanRepo.GetByCode(ctx, req.PlanCode)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHintf("Plan %s is not available", req.PlanCode).
				Mark(ierr.ErrInvalidPlan)
		}
		return nil, err
	}

	if _, err := s.getOrCreateSubscription(ctx, tenantID); err != nil {
		return nil, err
	}

	payerEmail := req.PayerEmail
	if payerEmail == "" {
		emails, err := s.TenantDirectory.AdminEmails(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		payerEmail = lo.FirstOrEmpty(emails)
	}

	provider := s.Providers.Active()
	result, err := provider.CreateCheckout(ctx, &payment.CheckoutRequest{
		TenantID:       tenantID,
		Plan:           p,
		PayerEmail:     payerEmail,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: lo.CoalesceOrEmpty(req.IdempotencyKey, types.GenerateUUID()),
	})
	if err != nil {
		s.Logger.WithContext(ctx).Errorw("failed to create checkout",
			"tenant_id", tenantID,
			"provider", string(provider.Name()),
			"plan_code", string(p.Code),
			"error", err)
		return nil, err
	}

	err = s.DB.WithTx(ctx, func(txCtx context.Context) error {
		sub, err := s.SubRepo.GetByTenantIDForUpdate(txCtx, tenantID)
		if err != nil {
			return err
		}
		sub.RecordCheckout(provider.Name(), result.ProviderCustomerID, result.ProviderSubscriptionID, result.ProviderPaymentID, s.now())
		if err := s.SubRepo.Update(txCtx, sub); err != nil {
			return err
		}

		_, err = s.BillingEventRepo.Append(txCtx, billingevent.New(tenantID, provider.Name(), types.EventTypeCheckoutCreated, result.CorrelationID(), map[string]interface{}{
			"plan_code": string(p.Code),
		}))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithContext(ctx).Infow("checkout created",
		"tenant_id", tenantID,
		"provider", string(provider.Name()),
		"plan_code", string(p.Code))

	if result.Provider == "" {
		result.Provider = provider.Name()
	}
	return &dto.CheckoutResponse{CheckoutResult: result}, nil
}

func (s *billingService) CancelSubscription(ctx context.Context, tenantID string, generateExportNow bool) (*dto.CancelSubscriptionResponse, error) {
	now := s.now()
	if _, err := s.getOrCreateSubscription(ctx, tenantID); err != nil {
		return nil, err
	}

	var canceled *subscription.Subscription
	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		sub, err := s.SubRepo.GetByTenantIDForUpdate(txCtx, tenantID)
		if err != nil {
			return err
		}
		if !subscription.IsPlusEffective(sub, now) {
			return ierr.NewError("no active paid subscription").
				WithHint("There is no active Plus subscription to cancel").
				WithReportableDetails(map[string]any{"status": sub.Status}).
				Mark(ierr.ErrInvalidOperation)
		}

		refund := sub.RequestCancellation(now)
		if err := s.SubRepo.Update(txCtx, sub); err != nil {
			return err
		}
		_, err = s.BillingEventRepo.Append(txCtx, billingevent.New(tenantID, sub.Provider, types.EventTypeCancelRequested, "", map[string]interface{}{
			"plan_code":     string(sub.PlanCode),
			"status":        string(sub.Status),
			"refund_status": string(refund),
		}))
		if err != nil {
			return err
		}
		canceled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cancelRemote(ctx, canceled)

	exportRequested := false
	if generateExportNow && s.ExportRequester != nil {
		if err := s.ExportRequester.RequestExport(ctx, tenantID); err != nil {
			s.Logger.WithContext(ctx).Warnw("failed to request tenant export on cancellation",
				"tenant_id", tenantID,
				"error", err)
		} else {
			exportRequested = true
		}
	}

	accessUntil := canceled.CurrentPeriodEnd
	if canceled.Status == types.SubscriptionStatusPastDue {
		accessUntil = canceled.GracePeriodEnd
	}

	return &dto.CancelSubscriptionResponse{
		CancelAtPeriodEnd: canceled.CancelAtPeriodEnd,
		AccessUntil:       accessUntil,
		RefundStatus:      canceled.RefundStatus,
		ExportRequested:   exportRequested,
		Message:           cancelRequestedMessage,
	}, nil
}

// cancelRemote asks the provider to stop renewing. Failures are recorded and
// never surface to the caller.
func (s *billingService) cancelRemote(ctx context.Context, sub *subscription.Subscription) {
	if sub.ProviderSubscriptionID == "" {
		return
	}
	log := s.Logger.WithContext(ctx)

	provider, err := s.Providers.Get(string(sub.Provider))
	if err == nil {
		err = provider.CancelSubscription(ctx, sub.ProviderSubscriptionID)
	}
	if err == nil {
		return
	}

	log.Warnw("remote subscription cancel failed",
		"tenant_id", sub.TenantID,
		"provider", string(sub.Provider),
		"provider_subscription_id", sub.ProviderSubscriptionID,
		"error", err)
	if _, appendErr := s.BillingEventRepo.Append(ctx, billingevent.New(sub.TenantID, sub.Provider, types.EventTypeRemoteCancelFailed, "", map[string]interface{}{
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"status_code":              ierr.HTTPStatusFromErr(err),
	})); appendErr != nil {
		log.Errorw("failed to record remote cancel failure", "tenant_id", sub.TenantID, "error", appendErr)
	}
}

func (s *billingService) FakeConfirm(ctx context.Context, tenantID string, req FakeConfirmParams) (*dto.ProcessEventResult, error) {
	if s.Providers.ActiveName() != types.BillingProviderFake {
		return nil, ierr.NewError("fake confirm is disabled").
			WithHint("Fake confirmation is only available with the fake billing provider").
			Mark(ierr.ErrInvalidOperation)
	}
	if req.PlanCode == "" || req.PlanCode.IsFree() {
		return nil, ierr.NewError("plan cannot be confirmed").
			WithHint("Choose a paid plan").
			Mark(ierr.ErrInvalidPlan)
	}

	event := &payment.ProviderEvent{
		Provider:      types.BillingProviderFake,
		EventType:     fake.ConfirmResultEventType(req.Result),
		ExternalID:    req.ExternalID,
		TenantID:      tenantID,
		PlanCode:      req.PlanCode,
		PaymentStatus: req.Result,
		Payload: map[string]interface{}{
			"source":      "fake_confirm",
			"result":      req.Result,
			"plan_code":   string(req.PlanCode),
			"external_id": req.ExternalID,
		},
	}
	return s.ProcessProviderEvent(ctx, event)
}

// getOrCreateSubscription returns the tenant's row, creating the FREE row on
// first access. Creation is serialized per tenant by an advisory lock.
func (s *billingService) getOrCreateSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	if tenantID == "" {
		return nil, ierr.NewError("tenant id is required").
			WithHint("Tenant is required").
			Mark(ierr.ErrValidation)
	}

	sub, err := s.SubRepo.GetByTenantID(ctx, tenantID)
	if err == nil {
		return sub, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	err = s.DB.WithTx(ctx, func(txCtx context.Context) error {
		lockKey := types.GenerateLockKey(txCtx, types.LockScopeSubscription, map[string]interface{}{"tenant_id": tenantID})
		if err := s.DB.LockKey(txCtx, types.LockRequest{Key: lockKey}); err != nil {
			return err
		}

		existing, err := s.SubRepo.GetByTenantID(txCtx, tenantID)
		if err == nil {
			sub = existing
			return nil
		}
		if !ierr.IsNotFound(err) {
			return err
		}

		sub = subscription.NewFree(tenantID, s.Providers.ActiveName(), s.now())
		return s.SubRepo.Create(txCtx, sub)
	})
	if ierr.IsAlreadyExists(err) {
		return s.SubRepo.GetByTenantID(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
