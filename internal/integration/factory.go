// Package integration builds the payment provider adapters enabled by
// configuration.
package integration

import (
	"sort"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/integration/payment"
	"github.com/elementojuris/billing/internal/integration/payment/fake"
	"github.com/elementojuris/billing/internal/integration/payment/mercadopago"
	"github.com/elementojuris/billing/internal/integration/payment/stripe"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

// ProviderRegistry holds every adapter that can receive webhooks. Only the
// active one starts checkouts. It is read-only after construction.
type ProviderRegistry struct {
	active    types.BillingProvider
	providers map[types.BillingProvider]payment.Provider
}

// NewProviderRegistry registers the active provider plus any other provider
// with credentials, so webhooks for older subscriptions keep working after a
// provider switch. The fake provider is never registered in production.
func NewProviderRegistry(cfg *config.Configuration, log *logger.Logger) (*ProviderRegistry, error) {
	if err := cfg.Billing.Provider.Validate(); err != nil {
		return nil, err
	}

	r := &ProviderRegistry{
		active:    cfg.Billing.Provider,
		providers: make(map[types.BillingProvider]payment.Provider),
	}
	active := cfg.Billing.Provider

	if active == types.BillingProviderFake || (!cfg.IsProduction() && cfg.Billing.WebhookSecret != "") {
		r.Register(fake.NewProvider(cfg.Billing.WebhookSecret, cfg.Billing.PublicAppURL, log))
	}
	mp := cfg.MercadoPago
	if active == types.BillingProviderMercadoPago || mp.AccessToken != "" || mp.CardToken != "" || mp.PixToken != "" {
		r.Register(mercadopago.NewProvider(cfg, log))
	}
	if active == types.BillingProviderStripe || cfg.Stripe.SecretKey != "" {
		r.Register(stripe.NewProvider(cfg, log))
	}

	log.Infow("payment providers registered",
		"active", string(active),
		"registered", r.Names())
	return r, nil
}

// NewStaticRegistry wraps already built providers. The first one is active.
func NewStaticRegistry(providers ...payment.Provider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[types.BillingProvider]payment.Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	if len(providers) > 0 {
		r.active = providers[0].Name()
	}
	return r
}

// Register adds or replaces a provider. Not safe once requests are served.
func (r *ProviderRegistry) Register(p payment.Provider) {
	r.providers[p.Name()] = p
}

// Active is the provider new checkouts go to.
func (r *ProviderRegistry) Active() payment.Provider {
	return r.providers[r.active]
}

// ActiveName is the configured provider name.
func (r *ProviderRegistry) ActiveName() types.BillingProvider {
	return r.active
}

// Get returns a registered provider by path name.
func (r *ProviderRegistry) Get(name string) (payment.Provider, error) {
	provider := types.BillingProvider(name)
	if provider == types.BillingProviderInternal {
		return nil, unknownProvider(name)
	}
	p, ok := r.providers[provider]
	if !ok {
		return nil, unknownProvider(name)
	}
	return p, nil
}

// Names lists registered providers in a stable order.
func (r *ProviderRegistry) Names() []string {
	names := lo.Map(lo.Keys(r.providers), func(p types.BillingProvider, _ int) string { return string(p) })
	sort.Strings(names)
	return names
}

func unknownProvider(name string) error {
	return ierr.NewErrorf("payment provider %q is not enabled", name).
		WithHint("Unknown payment provider").
		WithReportableDetails(map[string]any{"provider": name}).
		Mark(ierr.ErrNotFound)
}
