package tenant

import "context"

// Directory answers the questions billing asks about tenants it does not own.
type Directory interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
	// AdminEmails returns unique active admin emails in a stable order.
	AdminEmails(ctx context.Context, tenantID string) ([]string, error)
}

// UsageCounter reports the consumption plan limits are checked against.
type UsageCounter interface {
	CountActiveUsers(ctx context.Context, tenantID string) (int64, error)
	// CountActiveClients excludes soft-deleted clients.
	CountActiveClients(ctx context.Context, tenantID string) (int64, error)
	StorageUsedBytes(ctx context.Context, tenantID string) (int64, error)
}
