package gormrepo

import (
	"time"

	"github.com/elementojuris/billing/internal/domain/plan"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dedupIndexSQL is valid on both postgres and sqlite.
const dedupIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS uq_billing_events_dedup
	ON billing_events (tenant_id, provider, event_type, external_id)
	WHERE external_id IS NOT NULL`

// MigrateOptions controls Migrate.
type MigrateOptions struct {
	// ExternalTables also creates the tenant, user, client and document tables.
	// Only for local databases and tests; in deployments they belong to other
	// services.
	ExternalTables bool
}

// Migrate creates the billing schema and seeds the plan catalog.
func Migrate(db *gorm.DB, log *logger.Logger, opts MigrateOptions) error {
	models := []interface{}{&PlanRow{}, &SubscriptionRow{}, &BillingEventRow{}}
	if opts.ExternalTables {
		models = append(models, &TenantRow{}, &UserRow{}, &ClientRow{}, &DocumentRow{})
	}

	if err := db.AutoMigrate(models...); err != nil {
		return ierr.WithError(err).WithHint("Failed to migrate billing schema").Mark(ierr.ErrDatabase)
	}
	if err := db.Exec(dedupIndexSQL).Error; err != nil {
		return ierr.WithError(err).WithHint("Failed to create billing event dedup index").Mark(ierr.ErrDatabase)
	}
	if err := SeedPlans(db); err != nil {
		return err
	}

	log.Infow("billing schema migrated", "external_tables", opts.ExternalTables)
	return nil
}

// SeedPlans inserts the default catalog, leaving existing codes untouched.
func SeedPlans(db *gorm.DB) error {
	now := time.Now().UTC()
	for _, p := range plan.DefaultCatalog() {
		row := planRowFrom(p)
		row.CreatedAt = now
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(row).Error
		if err != nil {
			return ierr.WithError(err).
				WithHintf("Failed to seed plan %s", p.Code).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}
