package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/RezaEskandarii/taskrelay/internal/constants"
	"github.com/stretchr/testify/assert"
)

type fakeLock struct {
	free        bool
	tryErr      error
	released    []int64
	releaseErrs []error
}

func (f *fakeLock) Acquire(ctx context.Context, lockID int64) error { return nil }

func (f *fakeLock) TryAcquire(ctx context.Context, lockID int64) (bool, error) {
	return f.free, f.tryErr
}

func (f *fakeLock) Release(ctx context.Context, lockID int64) error {
	f.released = append(f.released, lockID)
	f.releaseErrs = append(f.releaseErrs, ctx.Err())
	return nil
}

type fakePurger struct {
	calls  int
	err    error
	during func()
}

func (f *fakePurger) PurgeExpired(ctx context.Context) (int64, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return 3, f.err
}

func TestExpiredTaskPurger_PurgeOnce(t *testing.T) {
	lockMgr := &fakeLock{free: true}
	purger := &fakePurger{}

	NewExpiredTaskPurger(purger, lockMgr, "@every 1m", nil).PurgeOnce(context.Background())

	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, []int64{constants.PurgeExpiredLock}, lockMgr.released)
}

func TestExpiredTaskPurger_SkipsWhenLockBusy(t *testing.T) {
	lockMgr := &fakeLock{free: false}
	purger := &fakePurger{}

	NewExpiredTaskPurger(purger, lockMgr, "@every 1m", nil).PurgeOnce(context.Background())

	assert.Zero(t, purger.calls)
	assert.Empty(t, lockMgr.released)
}

func TestExpiredTaskPurger_ReleasesOnFailure(t *testing.T) {
	lockMgr := &fakeLock{free: true}
	purger := &fakePurger{err: errors.New("db down")}

	NewExpiredTaskPurger(purger, lockMgr, "@every 1m", nil).PurgeOnce(context.Background())

	assert.Equal(t, 1, purger.calls)
	assert.Len(t, lockMgr.released, 1)
}

func TestExpiredTaskPurger_ReleasesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lockMgr := &fakeLock{free: true}
	purger := &fakePurger{during: cancel, err: context.Canceled}

	NewExpiredTaskPurger(purger, lockMgr, "@every 1m", nil).PurgeOnce(ctx)

	assert.Equal(t, []int64{constants.PurgeExpiredLock}, lockMgr.released)
	assert.Equal(t, []error{nil}, lockMgr.releaseErrs)
}

func TestExpiredTaskPurger_InvalidSchedule(t *testing.T) {
	p := NewExpiredTaskPurger(&fakePurger{}, &fakeLock{}, "every now and then", nil)
	err := p.Start(context.Background())
	assert.ErrorContains(t, err, "invalid purge schedule")
}

func TestExpiredTaskPurger_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewExpiredTaskPurger(&fakePurger{}, &fakeLock{}, "@every 1h", nil)
	assert.NoError(t, p.Start(ctx))
}
