package lock

import "context"

// DistributedLockManager serializes work across processes sharing one database.
type DistributedLockManager interface {
	// Acquire blocks until the lock is held or ctx ends.
	Acquire(ctx context.Context, lockID int64) error
	// TryAcquire takes the lock only if nobody holds it.
	TryAcquire(ctx context.Context, lockID int64) (bool, error)
	Release(ctx context.Context, lockID int64) error
}
