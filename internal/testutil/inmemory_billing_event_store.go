package testutil

import (
	"context"
	"sync"

	"github.com/elementojuris/billing/internal/domain/billingevent"
	"github.com/samber/lo"
)

// InMemoryBillingEventStore implements billingevent.Repository with the same
// dedup semantics as the unique index.
type InMemoryBillingEventStore struct {
	*InMemoryStore[*billingevent.BillingEvent]

	mu   sync.Mutex
	keys map[billingevent.DedupKey]struct{}
}

// NewInMemoryBillingEventStore creates a new in-memory billing event store
func NewInMemoryBillingEventStore() *InMemoryBillingEventStore {
	return &InMemoryBillingEventStore{
		InMemoryStore: NewInMemoryStore[*billingevent.BillingEvent](),
		keys:          make(map[billingevent.DedupKey]struct{}),
	}
}

func copyBillingEvent(e *billingevent.BillingEvent) *billingevent.BillingEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.ExternalID != nil {
		c.ExternalID = lo.ToPtr(*e.ExternalID)
	}
	c.Payload = lo.Assign(map[string]interface{}{}, e.Payload)
	return &c
}

func (s *InMemoryBillingEventStore) Append(ctx context.Context, event *billingevent.BillingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, keyed := event.Key()
	if keyed {
		if _, dup := s.keys[key]; dup {
			return false, nil
		}
	}
	if err := s.InMemoryStore.Create(ctx, event.ID, copyBillingEvent(event)); err != nil {
		return false, err
	}
	if keyed {
		s.keys[key] = struct{}{}
	}
	return true, nil
}

func (s *InMemoryBillingEventStore) Exists(_ context.Context, key billingevent.DedupKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *InMemoryBillingEventStore) List(ctx context.Context, filter *billingevent.Filter) ([]*billingevent.BillingEvent, error) {
	events, err := s.InMemoryStore.List(ctx, filter, billingEventFilterFn, func(i, j *billingevent.BillingEvent) bool {
		return i.CreatedAt.After(j.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	if filter != nil && filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return lo.Map(events, func(e *billingevent.BillingEvent, _ int) *billingevent.BillingEvent { return copyBillingEvent(e) }), nil
}

// CountByType counts a tenant's events of one type.
func (s *InMemoryBillingEventStore) CountByType(tenantID, eventType string) int {
	events, _ := s.List(context.Background(), &billingevent.Filter{TenantID: tenantID, EventTypes: []string{eventType}})
	return len(events)
}

func billingEventFilterFn(_ context.Context, e *billingevent.BillingEvent, filter interface{}) bool {
	f, ok := filter.(*billingevent.Filter)
	if !ok || f == nil {
		return true
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if len(f.EventTypes) > 0 && !lo.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}
