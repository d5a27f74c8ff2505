package plan

import (
	"time"

	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Plan is an immutable catalog entry.
type Plan struct {
	ID            string              `json:"id"`
	Code          types.PlanCode      `json:"code"`
	Name          string              `json:"name"`
	Price         decimal.Decimal     `json:"price"`
	Currency      string              `json:"currency"`
	BillingPeriod types.BillingPeriod `json:"billing_period"`
	MaxUsers      int64               `json:"max_users"`
	// MaxClients nil means unlimited.
	MaxClients   *int64    `json:"max_clients"`
	MaxStorageMB int64     `json:"max_storage_mb"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsMonthly plans renew through a provider-side recurring charge.
func (p *Plan) IsMonthly() bool {
	return p.BillingPeriod == types.BillingPeriodMonthly
}

// IsYearly plans are paid once and expire at period end.
func (p *Plan) IsYearly() bool {
	return p.BillingPeriod == types.BillingPeriodYearly
}

// PriceInCents returns the price in the currency's minor unit.
func (p *Plan) PriceInCents() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

const CurrencyBRL = "BRL"

// DefaultCatalog is the seeded plan set.
func DefaultCatalog() []*Plan {
	return []*Plan{
		{
			ID:            types.UUID_PREFIX_PLAN + "_free",
			Code:          types.PlanCodeFree,
			Name:          "Free",
			Price:         decimal.Zero,
			Currency:      CurrencyBRL,
			BillingPeriod: types.BillingPeriodNone,
			MaxUsers:      3,
			MaxClients:    lo.ToPtr[int64](3),
			MaxStorageMB:  100,
		},
		{
			ID:            types.UUID_PREFIX_PLAN + "_plus_monthly",
			Code:          types.PlanCodePlusMonthly,
			Name:          "Plus Mensal (Cartão)",
			Price:         decimal.RequireFromString("47.00"),
			Currency:      CurrencyBRL,
			BillingPeriod: types.BillingPeriodMonthly,
			MaxUsers:      20,
			MaxStorageMB:  5000,
		},
		{
			ID:            types.UUID_PREFIX_PLAN + "_plus_annual",
			Code:          types.PlanCodePlusAnnual,
			Name:          "Plus Anual (Pix)",
			Price:         decimal.RequireFromString("499.00"),
			Currency:      CurrencyBRL,
			BillingPeriod: types.BillingPeriodYearly,
			MaxUsers:      30,
			MaxStorageMB:  8000,
		},
	}
}
