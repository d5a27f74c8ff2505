package gormrepo

import (
	"context"

	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").Mark(ierr.ErrValidation)
	}

	row := subscriptionRowFrom(sub)
	if err := r.client.Querier(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A subscription already exists for this tenant").
				WithReportableDetails(map[string]any{"tenant_id": sub.TenantID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	row := subscriptionRowFrom(sub)
	result := r.client.Querier(ctx).
		Model(&SubscriptionRow{}).
		Where("id = ?", sub.ID).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(row)
	if result.Error != nil {
		return ierr.WithError(result.Error).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if result.RowsAffected == 0 {
		return ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) GetByTenantID(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return r.getByTenant(ctx, r.client.Querier(ctx), tenantID)
}

func (r *subscriptionRepository) GetByTenantIDForUpdate(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	q := r.client.Querier(ctx)
	// sqlite has no row locks; its single writer connection serializes the transaction
	if r.client.Dialect() == types.DBDialectPostgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.getByTenant(ctx, q, tenantID)
}

func (r *subscriptionRepository) getByTenant(_ context.Context, q *gorm.DB, tenantID string) (*subscription.Subscription, error) {
	var row SubscriptionRow
	if err := q.Where("tenant_id = ?", tenantID).First(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, ierr.WithError(err).
				WithHint("Subscription not found").
				WithReportableDetails(map[string]any{"tenant_id": tenantID}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *subscriptionRepository) GetByProviderRef(ctx context.Context, provider types.BillingProvider, ref string) (*subscription.Subscription, error) {
	var row SubscriptionRow
	err := r.client.Querier(ctx).
		Where("(provider = ? AND (provider_subscription_id = ? OR provider_payment_id = ?)) OR "+
			"(pending_provider = ? AND (pending_provider_subscription_id = ? OR pending_provider_payment_id = ?))",
			string(provider), ref, ref, string(provider), ref, ref).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ierr.WithError(err).
				WithHint("No subscription matches the provider reference").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *subscription.Filter) ([]*subscription.Subscription, error) {
	q := r.client.Querier(ctx).Model(&SubscriptionRow{})
	if filter != nil {
		if len(filter.Statuses) > 0 {
			q = q.Where("status IN ?", lo.Map(filter.Statuses, func(s types.SubscriptionStatus, _ int) string { return string(s) }))
		}
		if len(filter.PlanCodes) > 0 {
			q = q.Where("plan_code IN ?", lo.Map(filter.PlanCodes, func(c types.PlanCode, _ int) string { return string(c) }))
		}
		if filter.CancelAtPeriodEnd != nil {
			q = q.Where("cancel_at_period_end = ?", *filter.CancelAtPeriodEnd)
		}
		if limit := filter.GetLimit(); limit > 0 {
			q = q.Limit(limit).Offset(filter.Offset)
		}
	}

	var rows []SubscriptionRow
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return lo.Map(rows, func(row SubscriptionRow, _ int) *subscription.Subscription { return row.toDomain() }), nil
}
