package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/types"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTerminalTask      = errors.New("task already reached a terminal status")
	ErrInvalidTransition = errors.New("task status transition not allowed")
	// ErrNoChange is returned by a TransactFunc to finish without writing.
	ErrNoChange = errors.New("no change")
	// ErrConflict means the record kept changing underneath an optimistic transaction.
	ErrConflict = errors.New("task modified concurrently")
)

// TransactFunc mutates the current record in place. Returning ErrNoChange ends the
// transaction without a write (the record must then be left untouched); any other error
// aborts it and is returned to the caller of Transact.
type TransactFunc func(rec *types.TaskRecord) error

// TaskStore is the single source of truth for task state. Every call round-trips to the
// backing store; nothing is cached in process since scheduler, consumer and notifier may
// live in different processes.
//
// Read helpers return ErrTaskNotFound for absent or expired records and a wrapped error
// for storage failures. Callers must treat any error as "could not confirm".
type TaskStore interface {
	// SetTask creates or overwrites a record that expires after ttl.
	SetTask(ctx context.Context, rec *types.TaskRecord, ttl time.Duration) error

	GetTask(ctx context.Context, id string) (*types.TaskRecord, error)

	// UpdateTask merges update into the stored record, keeping its original expiry.
	UpdateTask(ctx context.Context, id string, update types.TaskUpdate) (*types.TaskRecord, error)

	// UpdateTaskStatus moves the record to status and stamps completedAt/failedAt for terminal statuses.
	UpdateTaskStatus(ctx context.Context, id string, status state.TaskStatus) error

	DeleteTask(ctx context.Context, id string) error

	SetTaskTTL(ctx context.Context, id string, ttl time.Duration) error

	// GetTaskTTL returns the remaining lifetime of the record.
	GetTaskTTL(ctx context.Context, id string) (time.Duration, error)

	// GetTasksByStatus lists live records, newest first. An empty status lists all of them.
	GetTasksByStatus(ctx context.Context, status state.TaskStatus, page, pageSize int) (*types.PaginationResult[types.TaskRecord], error)

	// Transact runs fn as an atomic read-modify-write of one record and returns the record as
	// it stands afterwards. Concurrent writers never interleave between the read and the write.
	Transact(ctx context.Context, id string, fn TransactFunc) (*types.TaskRecord, error)

	HealthCheck(ctx context.Context) error

	Close() error
}

// ApplyUpdate builds the TransactFunc behind UpdateTask. It enforces the status lifecycle and
// refuses to touch the result or error of a terminal record.
func ApplyUpdate(update types.TaskUpdate, now time.Time) TransactFunc {
	return func(rec *types.TaskRecord) error {
		if rec.IsTerminal() && (update.Status != nil || update.Result != nil || update.Error != nil) {
			return fmt.Errorf("%w: task %s is %s", ErrTerminalTask, rec.ID, rec.Status)
		}
		if update.Status != nil && !state.CanTransition(rec.Status, *update.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, *update.Status)
		}
		update.ApplyTo(rec, now)
		return nil
	}
}
