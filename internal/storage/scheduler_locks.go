package storage

import (
	"context"
	"fmt"
	"time"
)

// AcquireSchedulerLock attempts to take the named distributed lock for
// ownerID until lockUntil. It succeeds either when no row exists yet or
// when the existing lock has expired or is already held by ownerID
// (renewal) — the same compare-and-swap-by-UPDATE idiom used for optimistic
// session writes, applied here to single-instance job scheduling per
// SPEC_FULL.md §5.H.
func (db *DB) AcquireSchedulerLock(ctx context.Context, name, ownerID string, lockUntil time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO scheduler_locks (name, lock_until, locked_at, locked_by)
		 VALUES ($1, $2, now(), $3)
		 ON CONFLICT (name) DO UPDATE SET
		   lock_until = EXCLUDED.lock_until, locked_at = now(), locked_by = EXCLUDED.locked_by
		 WHERE scheduler_locks.lock_until < now() OR scheduler_locks.locked_by = $3`,
		name, lockUntil, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("storage: acquire scheduler lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSchedulerLock immediately expires a held lock so the next sweep
// doesn't have to wait out the full lockUntil window.
func (db *DB) ReleaseSchedulerLock(ctx context.Context, name, ownerID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE scheduler_locks SET lock_until = now() WHERE name = $1 AND locked_by = $2`,
		name, ownerID)
	if err != nil {
		return fmt.Errorf("storage: release scheduler lock: %w", err)
	}
	return nil
}
