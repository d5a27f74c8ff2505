package plan

import (
	"context"

	"github.com/elementojuris/billing/internal/types"
)

// Repository reads the plan catalog.
type Repository interface {
	// GetByCode returns an ErrNotFound-marked error for unknown codes.
	GetByCode(ctx context.Context, code types.PlanCode) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
}
