package gormrepo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/elementojuris/billing/internal/cache"
	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/elementojuris/billing/internal/domain/subscription"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/types"
	"github.com/glebarez/sqlite"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type RepositorySuite struct {
	suite.Suite
	ctx    context.Context
	db     *gorm.DB
	client postgres.IClient
	plans  *planRepository
	subs   *subscriptionRepository
	events *billingEventRepository
	tenant *TenantRepository
}

func TestRepositories(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(s.T().Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)

	log := logger.NewNopLogger()
	s.Require().NoError(Migrate(db, log, MigrateOptions{ExternalTables: true}))

	s.db = db
	s.client = postgres.NewClient(db, log)
	s.plans = NewPlanRepository(s.client, log, cache.NewInMemoryCache()).(*planRepository)
	s.subs = NewSubscriptionRepository(s.client, log).(*subscriptionRepository)
	s.events = NewBillingEventRepository(s.client, log).(*billingEventRepository)
	s.tenant = NewTenantRepository(s.client, log)
}

func (s *RepositorySuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	s.Require().NoError(sqlDB.Close())
}

func (s *RepositorySuite) TestSeededCatalog() {
	plans, err := s.plans.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(plans, 3)
	s.Equal(types.PlanCodeFree, plans[0].Code)

	free, err := s.plans.GetByCode(s.ctx, types.PlanCodeFree)
	s.Require().NoError(err)
	s.Equal(int64(3), free.MaxUsers)
	s.Equal(int64(3), *free.MaxClients)
	s.Equal(int64(100), free.MaxStorageMB)

	monthly, err := s.plans.GetByCode(s.ctx, types.PlanCodePlusMonthly)
	s.Require().NoError(err)
	s.Nil(monthly.MaxClients)
	s.Equal(int64(4700), monthly.PriceInCents())
	s.Equal(types.BillingPeriodMonthly, monthly.BillingPeriod)

	// seeding twice keeps one row per code
	s.Require().NoError(SeedPlans(s.db))
	plans, err = s.plans.List(s.ctx)
	s.Require().NoError(err)
	s.Len(plans, 3)

	_, err = s.plans.GetByCode(s.ctx, "GOLD")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestSubscriptionLifecycle() {
	now := time.Now().UTC().Truncate(time.Second)
	sub := subscription.NewFree("tenant-1", types.BillingProviderFake, now)
	s.Require().NoError(s.subs.Create(s.ctx, sub))

	err := s.subs.Create(s.ctx, subscription.NewFree("tenant-1", types.BillingProviderFake, now))
	s.True(ierr.IsAlreadyExists(err))

	got, err := s.subs.GetByTenantID(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusFree, got.Status)
	s.Equal(types.RefundStatusNone, got.RefundStatus)

	got.Status = types.SubscriptionStatusActive
	got.PlanCode = types.PlanCodePlusMonthly
	got.CurrentPeriodStart = lo.ToPtr(now)
	got.CurrentPeriodEnd = lo.ToPtr(now.Add(30 * 24 * time.Hour))
	got.ProviderSubscriptionID = "pre_123"
	s.Require().NoError(s.subs.Update(s.ctx, got))

	err = s.client.WithTx(s.ctx, func(ctx context.Context) error {
		locked, err := s.subs.GetByTenantIDForUpdate(ctx, "tenant-1")
		if err != nil {
			return err
		}
		locked.CancelAtPeriodEnd = true
		return s.subs.Update(ctx, locked)
	})
	s.Require().NoError(err)

	byRef, err := s.subs.GetByProviderRef(s.ctx, types.BillingProviderFake, "pre_123")
	s.Require().NoError(err)
	s.Equal("tenant-1", byRef.TenantID)
	s.True(byRef.CancelAtPeriodEnd)
	s.True(byRef.CurrentPeriodEnd.Equal(now.Add(30 * 24 * time.Hour)))

	// clearing a pointer column must persist
	byRef.CurrentPeriodEnd = nil
	s.Require().NoError(s.subs.Update(s.ctx, byRef))
	again, err := s.subs.GetByTenantID(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Nil(again.CurrentPeriodEnd)

	_, err = s.subs.GetByTenantID(s.ctx, "missing")
	s.True(ierr.IsNotFound(err))
	_, err = s.subs.GetByProviderRef(s.ctx, types.BillingProviderStripe, "pre_123")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestSubscriptionPendingRefs() {
	now := time.Now().UTC().Truncate(time.Second)
	sub := subscription.NewFree("tenant-2", types.BillingProviderMercadoPago, now)
	sub.Status = types.SubscriptionStatusActive
	sub.PlanCode = types.PlanCodePlusMonthly
	sub.ProviderSubscriptionID = "pre_live"
	sub.PendingProvider = types.BillingProviderStripe
	sub.PendingProviderPaymentID = "cs_next"
	s.Require().NoError(s.subs.Create(s.ctx, sub))

	byPending, err := s.subs.GetByProviderRef(s.ctx, types.BillingProviderStripe, "cs_next")
	s.Require().NoError(err)
	s.Equal("tenant-2", byPending.TenantID)
	s.Equal("pre_live", byPending.ProviderSubscriptionID)
	s.Equal(types.BillingProviderStripe, byPending.PendingProvider)

	_, err = s.subs.GetByProviderRef(s.ctx, types.BillingProviderMercadoPago, "cs_next")
	s.True(ierr.IsNotFound(err))

	byPending.PendingProvider = ""
	byPending.PendingProviderPaymentID = ""
	s.Require().NoError(s.subs.Update(s.ctx, byPending))
	_, err = s.subs.GetByProviderRef(s.ctx, types.BillingProviderStripe, "cs_next")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestSubscriptionListFilter() {
	now := time.Now().UTC()
	for i, status := range []types.SubscriptionStatus{
		types.SubscriptionStatusActive,
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusFree,
	} {
		sub := subscription.NewFree(fmt.Sprintf("tenant-%d", i), types.BillingProviderFake, now.Add(time.Duration(i)*time.Second))
		sub.Status = status
		if i == 0 {
			sub.PlanCode = types.PlanCodePlusAnnual
		}
		if i == 1 {
			sub.PlanCode = types.PlanCodePlusMonthly
			sub.CancelAtPeriodEnd = true
		}
		s.Require().NoError(s.subs.Create(s.ctx, sub))
	}

	active, err := s.subs.List(s.ctx, &subscription.Filter{Statuses: []types.SubscriptionStatus{types.SubscriptionStatusActive}})
	s.Require().NoError(err)
	s.Len(active, 2)

	annual, err := s.subs.List(s.ctx, &subscription.Filter{
		Statuses:  []types.SubscriptionStatus{types.SubscriptionStatusActive},
		PlanCodes: []types.PlanCode{types.PlanCodePlusAnnual},
	})
	s.Require().NoError(err)
	s.Require().Len(annual, 1)
	s.Equal("tenant-0", annual[0].TenantID)

	flagged, err := s.subs.List(s.ctx, &subscription.Filter{CancelAtPeriodEnd: lo.ToPtr(true)})
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal("tenant-1", flagged[0].TenantID)

	page, err := s.subs.List(s.ctx, &subscription.Filter{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Len(page, 2)
}

func (s *RepositorySuite) TestBillingEventDedup() {
	first := billingevent.New("tenant-1", types.BillingProviderFake, types.EventTypePaymentSucceeded, "evt_1", map[string]interface{}{"plan_code": "PLUS_MONTHLY"})
	created, err := s.events.Append(s.ctx, first)
	s.Require().NoError(err)
	s.True(created)

	replay := billingevent.New("tenant-1", types.BillingProviderFake, types.EventTypePaymentSucceeded, "evt_1", nil)
	created, err = s.events.Append(s.ctx, replay)
	s.Require().NoError(err)
	s.False(created)

	// same external id under another type or tenant is a different event
	created, err = s.events.Append(s.ctx, billingevent.New("tenant-1", types.BillingProviderFake, types.EventTypePaymentFailed, "evt_1", nil))
	s.Require().NoError(err)
	s.True(created)
	created, err = s.events.Append(s.ctx, billingevent.New("tenant-2", types.BillingProviderFake, types.EventTypePaymentSucceeded, "evt_1", nil))
	s.Require().NoError(err)
	s.True(created)

	// events without an external id are never deduplicated
	for i := 0; i < 2; i++ {
		created, err = s.events.Append(s.ctx, billingevent.New("tenant-1", types.BillingProviderInternal, types.EventTypeSubscriptionExpired, "", nil))
		s.Require().NoError(err)
		s.True(created)
	}

	key, ok := first.Key()
	s.Require().True(ok)
	exists, err := s.events.Exists(s.ctx, key)
	s.Require().NoError(err)
	s.True(exists)

	key.ExternalID = "evt_2"
	exists, err = s.events.Exists(s.ctx, key)
	s.Require().NoError(err)
	s.False(exists)

	events, err := s.events.List(s.ctx, &billingevent.Filter{TenantID: "tenant-1"})
	s.Require().NoError(err)
	s.Len(events, 4)

	succeeded, err := s.events.List(s.ctx, &billingevent.Filter{TenantID: "tenant-1", EventTypes: []string{types.EventTypePaymentSucceeded}})
	s.Require().NoError(err)
	s.Require().Len(succeeded, 1)
	s.Equal("PLUS_MONTHLY", succeeded[0].Payload["plan_code"])
}

func (s *RepositorySuite) TestAppendInsideRolledBackTx() {
	e := billingevent.New("tenant-1", types.BillingProviderFake, types.EventTypePaymentSucceeded, "evt_rb", nil)
	err := s.client.WithTx(s.ctx, func(ctx context.Context) error {
		created, err := s.events.Append(ctx, e)
		s.Require().NoError(err)
		s.True(created)
		return ierr.NewError("boom").Mark(ierr.ErrInternal)
	})
	s.Error(err)

	key, _ := e.Key()
	exists, err := s.events.Exists(s.ctx, key)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *RepositorySuite) TestTenantCounters() {
	s.Require().NoError(s.db.Create(&TenantRow{ID: "tenant-1", Name: "Silva Advogados"}).Error)
	s.Require().NoError(s.db.Create(&[]UserRow{
		{ID: "u1", TenantID: "tenant-1", Email: "Ana@Silva.adv.br", Role: "admin", IsActive: true},
		{ID: "u2", TenantID: "tenant-1", Email: "ana@silva.adv.br", Role: "admin", IsActive: true},
		{ID: "u3", TenantID: "tenant-1", Email: "bruno@silva.adv.br", Role: "admin", IsActive: true},
		{ID: "u4", TenantID: "tenant-1", Email: "carla@silva.adv.br", Role: "lawyer", IsActive: true},
		{ID: "u5", TenantID: "tenant-1", Email: "old@silva.adv.br", Role: "admin", IsActive: false},
		{ID: "u6", TenantID: "tenant-2", Email: "x@other.adv.br", Role: "admin", IsActive: true},
	}).Error)
	s.Require().NoError(s.db.Create(&[]ClientRow{
		{ID: "c1", TenantID: "tenant-1"},
		{ID: "c2", TenantID: "tenant-1"},
		{ID: "c3", TenantID: "tenant-1"},
	}).Error)
	s.Require().NoError(s.db.Delete(&ClientRow{}, "id = ?", "c3").Error)
	s.Require().NoError(s.db.Create(&[]DocumentRow{
		{ID: "d1", TenantID: "tenant-1", SizeBytes: 1024},
		{ID: "d2", TenantID: "tenant-1", SizeBytes: 2048},
	}).Error)

	exists, err := s.tenant.Exists(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.True(exists)
	exists, err = s.tenant.Exists(s.ctx, "tenant-9")
	s.Require().NoError(err)
	s.False(exists)

	emails, err := s.tenant.AdminEmails(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Equal([]string{"ana@silva.adv.br", "bruno@silva.adv.br"}, emails)

	users, err := s.tenant.CountActiveUsers(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Equal(int64(4), users)

	clients, err := s.tenant.CountActiveClients(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Equal(int64(2), clients)

	used, err := s.tenant.StorageUsedBytes(s.ctx, "tenant-1")
	s.Require().NoError(err)
	s.Equal(int64(3072), used)

	used, err = s.tenant.StorageUsedBytes(s.ctx, "tenant-2")
	s.Require().NoError(err)
	s.Equal(int64(0), used)
}
