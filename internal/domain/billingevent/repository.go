package billingevent

import (
	"context"
)

// Repository is the append-only billing event log.
type Repository interface {
	// Append inserts the event. created is false, with a nil error, when an
	// event with the same dedup key already exists.
	Append(ctx context.Context, event *BillingEvent) (created bool, err error)
	Exists(ctx context.Context, key DedupKey) (bool, error)
	List(ctx context.Context, filter *Filter) ([]*BillingEvent, error)
}

// Filter for listing events, newest first.
type Filter struct {
	TenantID   string
	EventTypes []string
	Limit      int
}
