package database

import (
	"context"
	"time"

	"github.com/blnkfinance/courier/internal/apierror"
)

// TryAcquireLock takes the named lock until lockUntil when no row exists or
// the current holder's lock_until has passed.
func (d Datasource) TryAcquireLock(ctx context.Context, name, owner string, lockedAt, lockUntil time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO courier.scheduler_locks (name, lock_until, locked_at, locked_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET lock_until = EXCLUDED.lock_until, locked_at = EXCLUDED.locked_at, locked_by = EXCLUDED.locked_by
		WHERE courier.scheduler_locks.lock_until <= EXCLUDED.locked_at
	`, name, lockUntil, lockedAt, owner)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire scheduler lock", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected == 1, nil
}

// ReleaseLock moves lock_until to unlockAt for the holder identified by owner
// and lockedAt. A lock taken over by another holder is left untouched.
func (d Datasource) ReleaseLock(ctx context.Context, name, owner string, lockedAt, unlockAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE courier.scheduler_locks
		SET lock_until = $1
		WHERE name = $2 AND locked_by = $3 AND locked_at = $4
	`, unlockAt, name, owner, lockedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release scheduler lock", err)
	}
	return nil
}
