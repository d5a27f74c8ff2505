package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LockScope represents the scope of a database advisory lock
type LockScope string

const (
	// LockScopeSubscription serializes lazy creation of a tenant's subscription row
	LockScopeSubscription LockScope = "subscription"
)

// DefaultLockTimeout is applied when a LockRequest carries no timeout.
const DefaultLockTimeout = 10 * time.Second

// LockRequest describes an advisory lock acquisition.
type LockRequest struct {
	Key string
	// Timeout nil means DefaultLockTimeout; zero or negative fails fast.
	Timeout *time.Duration
}

// GetTimeout returns the effective timeout of the request.
func (r LockRequest) GetTimeout() time.Duration {
	if r.Timeout == nil {
		return DefaultLockTimeout
	}
	return *r.Timeout
}

// GenerateLockKey builds a deterministic key of the form scope:k1=v1:k2=v2.
// The tenant id from ctx is included unless params override it.
func GenerateLockKey(ctx context.Context, scope LockScope, params map[string]interface{}) string {
	merged := make(map[string]interface{}, len(params)+1)
	if tenantID := GetTenantID(ctx); tenantID != "" {
		merged["tenant_id"] = tenantID
	}
	for k, v := range params {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, merged[k]))
	}
	return b.String()
}

// TableName represents a database table name
type TableName string

const (
	TableNamePlans         TableName = "plans"
	TableNameSubscriptions TableName = "subscriptions"
	TableNameBillingEvents TableName = "billing_events"
	TableNameUsers         TableName = "users"
	TableNameClients       TableName = "clients"
	TableNameDocuments     TableName = "documents"
	TableNameTenants       TableName = "tenants"
)

// DBDialect names the gorm dialect in use.
type DBDialect string

const (
	DBDialectPostgres DBDialect = "postgres"
	DBDialectSQLite   DBDialect = "sqlite"
)
