package subscription

import (
	"context"

	"github.com/elementojuris/billing/internal/types"
)

// Repository persists tenant subscriptions. Every method joins the
// transaction carried by ctx, if any.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	// GetByTenantID returns an ErrNotFound-marked error when the tenant has no row.
	GetByTenantID(ctx context.Context, tenantID string) (*Subscription, error)
	// GetByTenantIDForUpdate locks the row until the surrounding transaction ends.
	GetByTenantIDForUpdate(ctx context.Context, tenantID string) (*Subscription, error)
	// GetByProviderRef finds the row by provider subscription or payment id.
	GetByProviderRef(ctx context.Context, provider types.BillingProvider, ref string) (*Subscription, error)
	List(ctx context.Context, filter *Filter) ([]*Subscription, error)
}

// Filter selects rows for maintenance sweeps.
type Filter struct {
	Statuses  []types.SubscriptionStatus
	PlanCodes []types.PlanCode
	// CancelAtPeriodEnd, when set, matches the flag exactly.
	CancelAtPeriodEnd *bool
	Limit             int
	Offset            int
}

// GetLimit returns the page size, zero meaning unbounded.
func (f *Filter) GetLimit() int {
	if f == nil || f.Limit < 0 {
		return 0
	}
	return f.Limit
}
