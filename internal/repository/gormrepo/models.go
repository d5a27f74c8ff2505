package gormrepo

import (
	"time"

	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/plan"
	"github.com/elementojuris/billing/internal/domain/subscription"
	"github.com/elementojuris/billing/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlanRow is the plans table.
type PlanRow struct {
	ID            string          `gorm:"primaryKey;size:64"`
	Code          string          `gorm:"size:32;uniqueIndex;not null"`
	Name          string          `gorm:"size:128;not null"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency      string          `gorm:"size:3;not null"`
	BillingPeriod string          `gorm:"size:16;not null"`
	MaxUsers      int64           `gorm:"not null"`
	MaxClients    *int64
	MaxStorageMB  int64 `gorm:"column:max_storage_mb;not null"`
	CreatedAt     time.Time
}

func (PlanRow) TableName() string { return string(types.TableNamePlans) }

func (r *PlanRow) toDomain() *plan.Plan {
	return &plan.Plan{
		ID:            r.ID,
		Code:          types.PlanCode(r.Code),
		Name:          r.Name,
		Price:         r.Price,
		Currency:      r.Currency,
		BillingPeriod: types.BillingPeriod(r.BillingPeriod),
		MaxUsers:      r.MaxUsers,
		MaxClients:    r.MaxClients,
		MaxStorageMB:  r.MaxStorageMB,
		CreatedAt:     r.CreatedAt,
	}
}

func planRowFrom(p *plan.Plan) *PlanRow {
	return &PlanRow{
		ID:            p.ID,
		Code:          string(p.Code),
		Name:          p.Name,
		Price:         p.Price,
		Currency:      p.Currency,
		BillingPeriod: string(p.BillingPeriod),
		MaxUsers:      p.MaxUsers,
		MaxClients:    p.MaxClients,
		MaxStorageMB:  p.MaxStorageMB,
		CreatedAt:     p.CreatedAt,
	}
}

// SubscriptionRow is the subscriptions table.
type SubscriptionRow struct {
	ID                      string `gorm:"primaryKey;size:64"`
	TenantID                string `gorm:"size:64;uniqueIndex;not null"`
	PlanCode                string `gorm:"size:32;index;not null"`
	Status                  string `gorm:"size:16;index;not null"`
	Provider                string `gorm:"size:32;not null"`
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	GracePeriodEnd          *time.Time
	CancelAtPeriodEnd       bool   `gorm:"not null;default:false"`
	CancellationRequestedAt *time.Time
	RefundStatus            string `gorm:"size:16;not null;default:NONE"`
	LastPaymentAt           *time.Time
	LastPaymentStatus       string `gorm:"size:64"`
	ProviderCustomerID      string `gorm:"size:128"`
	ProviderSubscriptionID  string `gorm:"size:128;index"`
	ProviderPaymentID       string `gorm:"size:128;index"`
	PendingProvider         string `gorm:"size:32"`
	PendingSubscriptionID   string `gorm:"column:pending_provider_subscription_id;size:128;index"`
	PendingPaymentID        string `gorm:"column:pending_provider_payment_id;size:128;index"`
	MaxClientsOverride      *int64
	MaxStorageMBOverride    *int64 `gorm:"column:max_storage_mb_override"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (SubscriptionRow) TableName() string { return string(types.TableNameSubscriptions) }

func (r *SubscriptionRow) toDomain() *subscription.Subscription {
	return &subscription.Subscription{
		ID:                      r.ID,
		TenantID:                r.TenantID,
		PlanCode:                types.PlanCode(r.PlanCode),
		Status:                  types.SubscriptionStatus(r.Status),
		Provider:                types.BillingProvider(r.Provider),
		CurrentPeriodStart:      utc(r.CurrentPeriodStart),
		CurrentPeriodEnd:        utc(r.CurrentPeriodEnd),
		GracePeriodEnd:          utc(r.GracePeriodEnd),
		CancelAtPeriodEnd:       r.CancelAtPeriodEnd,
		CancellationRequestedAt: utc(r.CancellationRequestedAt),
		RefundStatus:            types.RefundStatus(r.RefundStatus),
		LastPaymentAt:           utc(r.LastPaymentAt),
		LastPaymentStatus:       r.LastPaymentStatus,
		ProviderCustomerID:      r.ProviderCustomerID,
		ProviderSubscriptionID:  r.ProviderSubscriptionID,
		ProviderPaymentID:       r.ProviderPaymentID,
		MaxClientsOverride:      r.MaxClientsOverride,
		MaxStorageMBOverride:    r.MaxStorageMBOverride,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),

		PendingProvider:               types.BillingProvider(r.PendingProvider),
		PendingProviderSubscriptionID: r.PendingSubscriptionID,
		PendingProviderPaymentID:      r.PendingPaymentID,
	}
}

func subscriptionRowFrom(s *subscription.Subscription) *SubscriptionRow {
	return &SubscriptionRow{
		ID:                      s.ID,
		TenantID:                s.TenantID,
		PlanCode:                string(s.PlanCode),
		Status:                  string(s.Status),
		Provider:                string(s.Provider),
		CurrentPeriodStart:      s.CurrentPeriodStart,
		CurrentPeriodEnd:        s.CurrentPeriodEnd,
		GracePeriodEnd:          s.GracePeriodEnd,
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		CancellationRequestedAt: s.CancellationRequestedAt,
		RefundStatus:            string(s.RefundStatus),
		LastPaymentAt:           s.LastPaymentAt,
		LastPaymentStatus:       s.LastPaymentStatus,
		ProviderCustomerID:      s.ProviderCustomerID,
		ProviderSubscriptionID:  s.ProviderSubscriptionID,
		ProviderPaymentID:       s.ProviderPaymentID,
		PendingProvider:         string(s.PendingProvider),
		PendingSubscriptionID:   s.PendingProviderSubscriptionID,
		PendingPaymentID:        s.PendingProviderPaymentID,
		MaxClientsOverride:      s.MaxClientsOverride,
		MaxStorageMBOverride:    s.MaxStorageMBOverride,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// BillingEventRow is the billing_events table. The dedup index is created in
// Migrate because it is partial.
type BillingEventRow struct {
	ID         string            `gorm:"primaryKey;size:64"`
	TenantID   string            `gorm:"size:64;index;not null"`
	Provider   string            `gorm:"size:32;not null"`
	EventType  string            `gorm:"size:64;index;not null"`
	ExternalID *string           `gorm:"size:255"`
	Payload    datatypes.JSONMap `gorm:"type:json"`
	CreatedAt  time.Time         `gorm:"index"`
}

func (BillingEventRow) TableName() string { return string(types.TableNameBillingEvents) }

func (r *BillingEventRow) toDomain() *billingevent.BillingEvent {
	return &billingevent.BillingEvent{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Provider:   types.BillingProvider(r.Provider),
		EventType:  r.EventType,
		ExternalID: r.ExternalID,
		Payload:    map[string]interface{}(r.Payload),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func billingEventRowFrom(e *billingevent.BillingEvent) *BillingEventRow {
	return &BillingEventRow{
		ID:         e.ID,
		TenantID:   e.TenantID,
		Provider:   string(e.Provider),
		EventType:  e.EventType,
		ExternalID: e.ExternalID,
		Payload:    datatypes.JSONMap(e.Payload),
		CreatedAt:  e.CreatedAt,
	}
}

// The rows below belong to the tenant, user, client and document subsystems.
// Billing only reads them.

type TenantRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	CreatedAt time.Time
}

func (TenantRow) TableName() string { return string(types.TableNameTenants) }

type UserRow struct {
	ID       string `gorm:"primaryKey;size:64"`
	TenantID string `gorm:"size:64;index;not null"`
	Email    string `gorm:"size:255;not null"`
	Role     string `gorm:"size:32;not null"`
	IsActive bool   `gorm:"not null"`
}

func (UserRow) TableName() string { return string(types.TableNameUsers) }

type ClientRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	TenantID  string `gorm:"size:64;index;not null"`
	Name      string `gorm:"size:255"`
	DeletedAt gorm.DeletedAt
}

func (ClientRow) TableName() string { return string(types.TableNameClients) }

type DocumentRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	TenantID  string `gorm:"size:64;index;not null"`
	SizeBytes int64  `gorm:"not null"`
	DeletedAt gorm.DeletedAt
}

func (DocumentRow) TableName() string { return string(types.TableNameDocuments) }
