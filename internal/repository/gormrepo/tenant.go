package gormrepo

import (
	"context"
	"strings"

	"github.com/elementojuris/billing/internal/domain/tenant"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// TenantRepository reads tables owned by the tenant, user, client and
// document subsystems.
type TenantRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewTenantRepository returns a repository implementing both
// tenant.Directory and tenant.UsageCounter.
func NewTenantRepository(client postgres.IClient, logger *logger.Logger) *TenantRepository {
	return &TenantRepository{client: client, logger: logger}
}

var (
	_ tenant.Directory    = (*TenantRepository)(nil)
	_ tenant.UsageCounter = (*TenantRepository)(nil)
)

func (r *TenantRepository) Exists(ctx context.Context, tenantID string) (bool, error) {
	var count int64
	if err := r.client.Querier(ctx).Model(&TenantRow{}).Where("id = ?", tenantID).Count(&count).Error; err != nil {
		return false, ierr.WithError(err).WithHint("Failed to look up tenant").Mark(ierr.ErrDatabase)
	}
	return count > 0, nil
}

func (r *TenantRepository) AdminEmails(ctx context.Context, tenantID string) ([]string, error) {
	var emails []string
	err := r.client.Querier(ctx).
		Model(&UserRow{}).
		Where("tenant_id = ? AND role = ? AND is_active = ?", tenantID, string(types.UserRoleAdmin), true).
		Order("email ASC").
		Pluck("email", &emails).Error
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list tenant admins").Mark(ierr.ErrDatabase)
	}

	emails = lo.FilterMap(emails, func(e string, _ int) (string, bool) {
		e = strings.ToLower(strings.TrimSpace(e))
		return e, e != ""
	})
	return lo.Uniq(emails), nil
}

func (r *TenantRepository) CountActiveUsers(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.client.Querier(ctx).Model(&UserRow{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Count(&count).Error
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to count users").Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (r *TenantRepository) CountActiveClients(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	// gorm.DeletedAt filters soft-deleted rows
	err := r.client.Querier(ctx).Model(&ClientRow{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to count clients").Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (r *TenantRepository) StorageUsedBytes(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := r.client.Querier(ctx).Model(&DocumentRow{}).
		Where("tenant_id = ?", tenantID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to sum document storage").Mark(ierr.ErrDatabase)
	}
	return total, nil
}
