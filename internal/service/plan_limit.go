package service

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/api/dto"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/samber/lo"
)

const bytesPerMB = 1024 * 1024

// Limited resources.
const (
	ResourceUsers   = "users"
	ResourceClients = "clients"
	ResourceStorage = "storage"
)

// PlanLimitService enforces the quotas of the tenant's effective plan.
type PlanLimitService interface {
	GetEffectiveLimits(ctx context.Context, tenantID string) (*dto.EffectiveLimits, error)
	EnforceUserLimit(ctx context.Context, tenantID string) error
	EnforceClientLimit(ctx context.Context, tenantID string) error
	EnforceStorageLimit(ctx context.Context, tenantID string, newFileSizeBytes int64) error
	// Guard runs check and then fn in one transaction. It narrows, but does
	// not close, the window in which concurrent creations can overshoot.
	Guard(ctx context.Context, check func(ctx context.Context) error, fn func(ctx context.Context) error) error
}

type planLimitService struct {
	ServiceParams
}

func NewPlanLimitService(params ServiceParams) PlanLimitService {
	return &planLimitService{
		ServiceParams: params,
	}
}

// effectiveLimits returns the limits of the plan sub is entitled to at now,
// with per-tenant overrides applied. A nil sub is a FREE tenant.
func effectiveLimits(ctx context.Context, plans plan.Repository, sub *subscription.Subscription, now time.Time) (*dto.EffectiveLimits, error) {
	code := subscription.EffectivePlanCode(sub, now)
	p, err := plans.GetByCode(ctx, code)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Plan %s is not seeded", code).
			Mark(ierr.ErrSystem)
	}

	limits := &dto.EffectiveLimits{
		PlanCode: code,
		BillingLimits: dto.BillingLimits{
			MaxUsers:     p.MaxUsers,
			MaxClients:   p.MaxClients,
			MaxStorageMB: p.MaxStorageMB,
		},
	}
	if sub != nil {
		if sub.MaxClientsOverride != nil {
			limits.MaxClients = lo.ToPtr(*sub.MaxClientsOverride)
		}
		if sub.MaxStorageMBOverride != nil {
			limits.MaxStorageMB = *sub.MaxStorageMBOverride
		}
	}
	return limits, nil
}

func (s *planLimitService) GetEffectiveLimits(ctx context.Context, tenantID string) (*dto.EffectiveLimits, error) {
	sub, err := s.SubRepo.GetByTenantID(ctx, tenantID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		sub = nil
	}
	return effectiveLimits(ctx, s.PlanRepo, sub, s.now())
}

func (s *planLimitService) EnforceUserLimit(ctx context.Context, tenantID string) error {
	limits, err := s.GetEffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	current, err := s.UsageCounter.CountActiveUsers(ctx, tenantID)
	if err != nil {
		return err
	}
	if current >= limits.MaxUsers {
		return s.reject(ctx, tenantID, ResourceUsers, limits.MaxUsers)
	}
	return nil
}

func (s *planLimitService) EnforceClientLimit(ctx context.Context, tenantID string) error {
	limits, err := s.GetEffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	if limits.MaxClients == nil {
		return nil
	}
	current, err := s.UsageCounter.CountActiveClients(ctx, tenantID)
	if err != nil {
		return err
	}
	if current >= *limits.MaxClients {
		return s.reject(ctx, tenantID, ResourceClients, *limits.MaxClients)
	}
	return nil
}

func (s *planLimitService) EnforceStorageLimit(ctx context.Context, tenantID string, newFileSizeBytes int64) error {
	if newFileSizeBytes < 0 {
		return ierr.NewError("file size cannot be negative").
			WithHint("Invalid file size").
			Mark(ierr.ErrValidation)
	}
	limits, err := s.GetEffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	used, err := s.UsageCounter.StorageUsedBytes(ctx, tenantID)
	if err != nil {
		return err
	}
	if used+newFileSizeBytes > limits.MaxStorageMB*bytesPerMB {
		return s.reject(ctx, tenantID, ResourceStorage, limits.MaxStorageMB)
	}
	return nil
}

func (s *planLimitService) Guard(ctx context.Context, check func(ctx context.Context) error, fn func(ctx context.Context) error) error {
	return s.DB.WithTx(ctx, func(txCtx context.Context) error {
		if err := check(txCtx); err != nil {
			return err
		}
		return fn(txCtx)
	})
}

func (s *planLimitService) reject(ctx context.Context, tenantID, resource string, limit int64) error {
	s.Metrics.PlanLimitRejection(resource)
	s.Logger.WithContext(ctx).Infow("plan limit reached",
		"tenant_id", tenantID,
		"resource", resource,
		"limit", limit)
	return ierr.NewPlanLimitExceeded(resource, limit)
}
