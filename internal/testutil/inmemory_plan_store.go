package testutil

import (
	"context"

	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryPlanStore implements plan.Repository
type InMemoryPlanStore struct {
	*InMemoryStore[*plan.Plan]
}

// NewInMemoryPlanStore creates a store seeded with the default catalog
func NewInMemoryPlanStore() *InMemoryPlanStore {
	s := &InMemoryPlanStore{
		InMemoryStore: NewInMemoryStore[*plan.Plan](),
	}
	for _, p := range plan.DefaultCatalog() {
		_ = s.InMemoryStore.Create(context.Background(), string(p.Code), p)
	}
	return s
}

func copyPlan(p *plan.Plan) *plan.Plan {
	if p == nil {
		return nil
	}
	c := *p
	if p.MaxClients != nil {
		c.MaxClients = lo.ToPtr(*p.MaxClients)
	}
	return &c
}

func (s *InMemoryPlanStore) GetByCode(ctx context.Context, code types.PlanCode) (*plan.Plan, error) {
	p, err := s.InMemoryStore.Get(ctx, string(code))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Plan %s not found", code).
			Mark(ierr.ErrNotFound)
	}
	return copyPlan(p), nil
}

func (s *InMemoryPlanStore) List(ctx context.Context) ([]*plan.Plan, error) {
	plans, err := s.InMemoryStore.List(ctx, nil, nil, func(i, j *plan.Plan) bool {
		return i.Price.LessThan(j.Price)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(plans, func(p *plan.Plan, _ int) *plan.Plan { return copyPlan(p) }), nil
}

// Put replaces a catalog entry, for tests that need custom limits.
func (s *InMemoryPlanStore) Put(p *plan.Plan) {
	ctx := context.Background()
	if err := s.InMemoryStore.Update(ctx, string(p.Code), copyPlan(p)); err != nil {
		_ = s.InMemoryStore.Create(ctx, string(p.Code), copyPlan(p))
	}
}
