package testutil

import (
	"context"
	"sync"

	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/types"
	"gorm.io/gorm"
)

// InMemoryDB satisfies postgres.IClient for services backed by in-memory
// stores. Transactions only propagate the context; there is no rollback.
type InMemoryDB struct {
	mu      sync.Mutex
	txCount int
	locks   []string
}

func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{}
}

func (d *InMemoryDB) Querier(context.Context) *gorm.DB { return nil }

func (d *InMemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(types.CtxDBTx) != nil {
		return fn(ctx)
	}
	d.mu.Lock()
	d.txCount++
	d.mu.Unlock()
	return fn(context.WithValue(ctx, types.CtxDBTx, true))
}

func (d *InMemoryDB) Dialect() types.DBDialect { return types.DBDialectSQLite }

func (d *InMemoryDB) LockKey(_ context.Context, req types.LockRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locks = append(d.locks, req.Key)
	return nil
}

func (d *InMemoryDB) Ping(context.Context) error { return nil }

// TxCount is the number of outermost transactions opened.
func (d *InMemoryDB) TxCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txCount
}

// SentEmail is one captured notification.
type SentEmail struct {
	To      []string
	Subject string
	Body    string
}

// RecordingEmailSender captures notifications instead of delivering them.
type RecordingEmailSender struct {
	mu   sync.Mutex
	sent []SentEmail
	Err  error
}

func NewRecordingEmailSender() *RecordingEmailSender {
	return &RecordingEmailSender{}
}

func (r *RecordingEmailSender) SendGenericEmail(_ context.Context, to []string, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentEmail{To: append([]string(nil), to...), Subject: subject, Body: body})
	return r.Err
}

// Sent returns a snapshot of captured emails.
func (r *RecordingEmailSender) Sent() []SentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentEmail(nil), r.sent...)
}

func (r *RecordingEmailSender) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// RecordingExportRequester captures export requests.
type RecordingExportRequester struct {
	mu       sync.Mutex
	requests []string
	Err      error
}

func (r *RecordingExportRequester) RequestExport(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.requests = append(r.requests, tenantID)
	return nil
}

func (r *RecordingExportRequester) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

// StubProvider is a scriptable payment.Provider.
type StubProvider struct {
	ProviderName   types.BillingProvider
	CheckoutResult *payment.CheckoutResult
	CheckoutErr    error
	Event          *payment.ProviderEvent
	WebhookErr     error
	CancelErr      error

	mu        sync.Mutex
	checkouts []*payment.CheckoutRequest
	cancels   []string
}

func (p *StubProvider) Name() types.BillingProvider { return p.ProviderName }

func (p *StubProvider) CreateCheckout(_ context.Context, req *payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	if p.CheckoutErr != nil {
		return nil, p.CheckoutErr
	}
	return p.CheckoutResult, nil
}

func (p *StubProvider) HandleWebhook(context.Context, *payment.WebhookRequest) (*payment.ProviderEvent, error) {
	if p.WebhookErr != nil {
		return nil, p.WebhookErr
	}
	return p.Event, nil
}

func (p *StubProvider) CancelSubscription(_ context.Context, providerSubscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, providerSubscriptionID)
	return p.CancelErr
}

func (p *StubProvider) Checkouts() []*payment.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*payment.CheckoutRequest(nil), p.checkouts...)
}

func (p *StubProvider) Cancels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancels...)
}
