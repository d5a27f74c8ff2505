package testutil

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/integration"
	"github.com/elementojuris/billing/internal/integration/payment/fake"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/observability"
	"github.com/elementojuris/billing/internal/postgres"
	"github.com/elementojuris/billing/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds all in-memory repositories handed to services under test.
type Stores struct {
	PlanRepo         *InMemoryPlanStore
	SubscriptionRepo *InMemorySubscriptionStore
	BillingEventRepo *InMemoryBillingEventStore
	TenantRepo       *InMemoryTenantStore
}

// BaseServiceTestSuite wires in-memory stores, a fake provider and a
// controllable clock. Service suites embed it and build ServiceParams from
// its getters.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	db        *InMemoryDB
	logger    *logger.Logger
	config    *config.Configuration
	providers *integration.ProviderRegistry
	fake      *fake.Provider
	email     *RecordingEmailSender
	exports   *RecordingExportRequester
	metrics   *observability.Metrics
	now       time.Time
}

// SetupTest resets every store and the clock before each test.
func (s *BaseServiceTestSuite) SetupTest() {
	s.config = config.GetDefaultConfig()
	s.logger = logger.NewNopLogger()
	s.ctx = types.SetRequestID(context.Background(), types.GenerateUUID())
	s.db = NewInMemoryDB()
	s.stores = Stores{
		PlanRepo:         NewInMemoryPlanStore(),
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		BillingEventRepo: NewInMemoryBillingEventStore(),
		TenantRepo:       NewInMemoryTenantStore(),
	}
	s.fake = fake.NewProvider(s.config.Billing.WebhookSecret, s.config.Billing.PublicAppURL, s.logger)
	s.providers = integration.NewStaticRegistry(s.fake)
	s.email = NewRecordingEmailSender()
	s.exports = &RecordingExportRequester{}
	s.metrics = observability.NewMetrics(observability.NewRegistry())
	s.now = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
}

// TearDownTest clears the stores.
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.PlanRepo.Clear()
	s.stores.SubscriptionRepo.Clear()
	s.stores.BillingEventRepo.Clear()
	s.email.Reset()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

func (s *BaseServiceTestSuite) GetInMemoryDB() *InMemoryDB {
	return s.db
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetProviders returns a registry whose active provider is the fake one.
func (s *BaseServiceTestSuite) GetProviders() *integration.ProviderRegistry {
	return s.providers
}

// SetProviders replaces the registry, for tests that script a provider.
func (s *BaseServiceTestSuite) SetProviders(r *integration.ProviderRegistry) {
	s.providers = r
}

func (s *BaseServiceTestSuite) GetFakeProvider() *fake.Provider {
	return s.fake
}

func (s *BaseServiceTestSuite) GetEmailSender() *RecordingEmailSender {
	return s.email
}

func (s *BaseServiceTestSuite) GetExportRequester() *RecordingExportRequester {
	return s.exports
}

func (s *BaseServiceTestSuite) GetMetrics() *observability.Metrics {
	return s.metrics
}

// Now is the suite clock.
func (s *BaseServiceTestSuite) Now() time.Time {
	return s.now
}

// Clock returns a function reading the suite clock, for injection.
func (s *BaseServiceTestSuite) Clock() func() time.Time {
	return func() time.Time { return s.now }
}

// Advance moves the suite clock forward.
func (s *BaseServiceTestSuite) Advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// SetNow pins the suite clock.
func (s *BaseServiceTestSuite) SetNow(t time.Time) {
	s.now = t.UTC()
}
