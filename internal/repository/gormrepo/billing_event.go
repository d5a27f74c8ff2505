package gormrepo

import (
	"context"

	"github.com/elementojuris/billing/internal/domain/billingevent"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

type billingEventRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewBillingEventRepository(client postgres.IClient, logger *logger.Logger) billingevent.Repository {
	return &billingEventRepository{client: client, logger: logger}
}

// Append relies on the partial unique index: ON CONFLICT DO NOTHING turns a
// replay into RowsAffected == 0 without aborting a surrounding transaction.
func (r *billingEventRepository) Append(ctx context.Context, event *billingevent.BillingEvent) (bool, error) {
	if event == nil {
		return false, ierr.NewError("billing event cannot be nil").Mark(ierr.ErrValidation)
	}

	row := billingEventRowFrom(event)
	result := r.client.Querier(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, ierr.WithError(result.Error).
			WithHint("Failed to record billing event").
			WithReportableDetails(map[string]any{
				"tenant_id":  event.TenantID,
				"event_type": event.EventType,
			}).
			Mark(ierr.ErrDatabase)
	}
	return result.RowsAffected > 0, nil
}

func (r *billingEventRepository) Exists(ctx context.Context, key billingevent.DedupKey) (bool, error) {
	var count int64
	err := r.client.Querier(ctx).
		Model(&BillingEventRow{}).
		Where("tenant_id = ? AND provider = ? AND event_type = ? AND external_id = ?",
			key.TenantID, string(key.Provider), key.EventType, key.ExternalID).
		Count(&count).Error
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to look up billing event").
			Mark(ierr.ErrDatabase)
	}
	return count > 0, nil
}

func (r *billingEventRepository) List(ctx context.Context, filter *billingevent.Filter) ([]*billingevent.BillingEvent, error) {
	q := r.client.Querier(ctx).Model(&BillingEventRow{})
	if filter != nil {
		if filter.TenantID != "" {
			q = q.Where("tenant_id = ?", filter.TenantID)
		}
		if len(filter.EventTypes) > 0 {
			q = q.Where("event_type IN ?", filter.EventTypes)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
	}

	var rows []BillingEventRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list billing events").
			Mark(ierr.ErrDatabase)
	}
	return lo.Map(rows, func(row BillingEventRow, _ int) *billingevent.BillingEvent { return row.toDomain() }), nil
}
