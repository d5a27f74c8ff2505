package testutil

import (
	"context"
	"sync"

	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository. Rows are
// keyed by tenant since a tenant has at most one subscription.
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]

	mu sync.Mutex
	// updateErr, when set, fails every Update.
	updateErr error
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

// FailUpdates makes Update return err until called again with nil.
func (s *InMemorySubscriptionStore) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").Mark(ierr.ErrValidation)
	}
	if err := s.InMemoryStore.Create(ctx, sub.TenantID, sub.Copy()); err != nil {
		return ierr.WithError(err).
			WithHint("A subscription already exists for this tenant").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	failErr := s.updateErr
	s.mu.Unlock()
	if failErr != nil {
		return ierr.WithError(failErr).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	if err := s.InMemoryStore.Update(ctx, sub.TenantID, sub.Copy()); err != nil {
		return ierr.WithError(err).
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (s *InMemorySubscriptionStore) GetByTenantID(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, tenantID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Subscription not found").
			WithReportableDetails(map[string]any{"tenant_id": tenantID}).
			Mark(ierr.ErrNotFound)
	}
	return sub.Copy(), nil
}

func (s *InMemorySubscriptionStore) GetByTenantIDForUpdate(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return s.GetByTenantID(ctx, tenantID)
}

func (s *InMemorySubscriptionStore) GetByProviderRef(ctx context.Context, provider types.BillingProvider, ref string) (*subscription.Subscription, error) {
	if ref != "" {
		subs, _ := s.InMemoryStore.List(ctx, nil, func(_ context.Context, sub *subscription.Subscription, _ interface{}) bool {
			return sub.MatchesRef(provider, ref)
		}, nil)
		if len(subs) > 0 {
			return subs[0].Copy(), nil
		}
	}
	return nil, ierr.NewError("subscription not found").
		WithHint("No subscription matches the provider reference").
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *subscription.Filter) ([]*subscription.Subscription, error) {
	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, func(i, j *subscription.Subscription) bool {
		return i.CreatedAt.Before(j.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	if filter != nil && filter.Offset > 0 {
		subs = lo.Drop(subs, filter.Offset)
	}
	if limit := filter.GetLimit(); limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return lo.Map(subs, func(sub *subscription.Subscription, _ int) *subscription.Subscription { return sub.Copy() }), nil
}

func subscriptionFilterFn(_ context.Context, sub *subscription.Subscription, filter interface{}) bool {
	f, ok := filter.(*subscription.Filter)
	if !ok || f == nil {
		return true
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, sub.Status) {
		return false
	}
	if len(f.PlanCodes) > 0 && !lo.Contains(f.PlanCodes, sub.PlanCode) {
		return false
	}
	if f.CancelAtPeriodEnd != nil && sub.CancelAtPeriodEnd != *f.CancelAtPeriodEnd {
		return false
	}
	return true
}
