package gormrepo

import (
	"context"

	"github.com/elementojuris/billing/internal/cache"
	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

type planRepository struct {
	client postgres.IClient
	logger *logger.Logger
	cache  cache.Cache
}

// NewPlanRepository reads the catalog. Plans are immutable so lookups are
// served from cache once loaded.
func NewPlanRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) plan.Repository {
	return &planRepository{client: client, logger: logger, cache: cache}
}

func (r *planRepository) GetByCode(ctx context.Context, code types.PlanCode) (*plan.Plan, error) {
	cacheKey := cache.GenerateKey(cache.PrefixPlan, string(code))
	if value, found := r.cache.Get(ctx, cacheKey); found {
		if p, ok := cache.UnmarshalCacheValue[plan.Plan](value); ok {
			return p, nil
		}
	}

	var row PlanRow
	err := r.client.Querier(ctx).Where("code = ?", string(code)).First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ierr.WithError(err).
				WithHintf("Plan %s not found", code).
				WithReportableDetails(map[string]any{"plan_code": code}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get plan").
			Mark(ierr.ErrDatabase)
	}

	p := row.toDomain()
	r.cache.Set(ctx, cacheKey, p, cache.ExpiryDefaultInMemory)
	return p, nil
}

func (r *planRepository) List(ctx context.Context) ([]*plan.Plan, error) {
	var rows []PlanRow
	if err := r.client.Querier(ctx).Order("price ASC").Find(&rows).Error; err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list plans").
			Mark(ierr.ErrDatabase)
	}
	return lo.Map(rows, func(row PlanRow, _ int) *plan.Plan { return row.toDomain() }), nil
}
