package constants

import "time"

// Advisory lock ids shared by every process using the same database.
const (
	MigrationLock int64 = iota + 1
	PurgeExpiredLock
)

// LockReleaseTimeout bounds releasing an advisory lock after the guarded work's context is gone.
const LockReleaseTimeout = 5 * time.Second

const (
	// ConsumerPrefetch bounds unacknowledged deliveries per consumer.
	ConsumerPrefetch = 1
	// DefaultPageSize applies to task listings when the caller gives none.
	DefaultPageSize = 20
	MaxPageSize     = 100
)
