package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PostgresDistributedLockManager uses session-level advisory locks. The session that took a
// lock must also release it, so every held lock pins its own connection out of the pool.
type PostgresDistributedLockManager struct {
	db   *sql.DB
	mu   sync.Mutex
	held map[int64]*sql.Conn
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:   db,
		held: make(map[int64]*sql.Conn),
	}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int64) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.keep(lockID, conn)
	return nil
}

func (l *PostgresDistributedLockManager) TryAcquire(ctx context.Context, lockID int64) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	l.keep(lockID, conn)
	return true, nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int64) error {
	l.mu.Lock()
	conn, ok := l.held[lockID]
	delete(l.held, lockID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("failed to release lock: lock %d is not held by this process", lockID)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *PostgresDistributedLockManager) keep(lockID int64, conn *sql.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[lockID] = conn
}
