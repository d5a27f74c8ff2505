package postgres

import (
	"context"
	"errors"
	"fmt"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
	"github.com/jackc/pgx/v5/pgconn"
)

// sqlstate lock_not_available
const pgLockNotAvailable = "55P03"

// LockKey takes a transaction scoped advisory lock on req.Key, released on
// commit or rollback. It must run inside WithTx. A zero or negative timeout
// fails fast when the lock is held. SQLite serializes writers already, so
// the call is a no-op there.
func (c *Client) LockKey(ctx context.Context, req types.LockRequest) error {
	tx := c.TxFromContext(ctx)
	if tx == nil {
		return ierr.NewError("advisory lock outside transaction").
			WithHint("LockKey must be called inside WithTx").
			Mark(ierr.ErrInternal)
	}
	if c.dialect != types.DBDialectPostgres {
		return nil
	}

	q := tx.WithContext(ctx)
	timeout := req.GetTimeout()
	if timeout <= 0 {
		var acquired bool
		if err := q.Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", req.Key).Scan(&acquired).Error; err != nil {
			return ierr.WithError(err).WithHint("Failed to acquire lock").Mark(ierr.ErrDatabase)
		}
		if !acquired {
			return ierr.NewError("lock held").
				WithHintf("Lock %s is held by another transaction", req.Key).
				Mark(ierr.ErrVersionConflict)
		}
		return nil
	}

	// SET LOCAL takes no bind parameters
	if err := q.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds())).Error; err != nil {
		return ierr.WithError(err).WithHint("Failed to set lock timeout").Mark(ierr.ErrDatabase)
	}
	if err := q.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", req.Key).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return ierr.WithError(err).
				WithHintf("Lock %s not acquired within %s", req.Key, timeout).
				Mark(ierr.ErrVersionConflict)
		}
		return ierr.WithError(err).WithHint("Failed to acquire lock").Mark(ierr.ErrDatabase)
	}
	return nil
}
