package billingevent

import (
	"time"

	"github.com/elementojuris/billing/internal/types"
)

// BillingEvent is one append-only record of something that happened to a
// tenant's billing: a provider webhook, a checkout, a sweep downgrade, a sent
// email. Rows with an ExternalID are unique per (tenant, provider, type, id).
type BillingEvent struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Provider   types.BillingProvider  `json:"provider"`
	EventType  string                 `json:"event_type"`
	ExternalID *string                `json:"external_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// New builds an event with a fresh id. An empty externalID is stored as null
// and is never deduplicated.
func New(tenantID string, provider types.BillingProvider, eventType, externalID string, payload map[string]interface{}) *BillingEvent {
	e := &BillingEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_EVENT),
		TenantID:  tenantID,
		Provider:  provider,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if externalID != "" {
		e.ExternalID = &externalID
	}
	return e
}

// DedupKey identifies the row for replay detection.
type DedupKey struct {
	TenantID   string
	Provider   types.BillingProvider
	EventType  string
	ExternalID string
}

// Key returns the dedup key, ok=false for events without an external id.
func (e *BillingEvent) Key() (DedupKey, bool) {
	if e.ExternalID == nil {
		return DedupKey{}, false
	}
	return DedupKey{
		TenantID:   e.TenantID,
		Provider:   e.Provider,
		EventType:  e.EventType,
		ExternalID: *e.ExternalID,
	}, true
}
