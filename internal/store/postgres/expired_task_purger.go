package postgres

import (
	"context"
	"fmt"

	"github.com/RezaEskandarii/taskrelay/internal/constants"
	"github.com/RezaEskandarii/taskrelay/internal/lock"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ExpiredTaskPurger removes expired rows on a cron schedule. PostgreSQL has no native TTL,
// so this sweep bounds the table size. Only one instance sweeps per tick.
type ExpiredTaskPurger struct {
	store    expiredPurger
	lock     lock.DistributedLockManager
	schedule string
	logger   *zap.Logger
}

func NewExpiredTaskPurger(store expiredPurger, lockMgr lock.DistributedLockManager, schedule string, logger *zap.Logger) *ExpiredTaskPurger {
	return &ExpiredTaskPurger{
		store:    store,
		lock:     lockMgr,
		schedule: schedule,
		logger:   logging.Named(logger, "expired_task_purger"),
	}
}

// Start runs the schedule until ctx is cancelled and waits for a running sweep to finish.
func (p *ExpiredTaskPurger) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.PurgeOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", p.schedule, err)
	}

	p.logger.Info("expired task purger started", zap.String("schedule", p.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("expired task purger stopped")
	return nil
}

// PurgeOnce runs a single sweep if no other instance holds the purge lock.
func (p *ExpiredTaskPurger) PurgeOnce(ctx context.Context) {
	acquired, err := p.lock.TryAcquire(ctx, constants.PurgeExpiredLock)
	if err != nil {
		p.logger.Error("failed to take purge lock", zap.Error(err))
		return
	}
	if !acquired {
		p.logger.Debug("another instance is purging")
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.LockReleaseTimeout)
		defer cancel()
		if err := p.lock.Release(releaseCtx, constants.PurgeExpiredLock); err != nil {
			p.logger.Warn("failed to release purge lock", zap.Error(err))
		}
	}()

	n, err := p.store.PurgeExpired(ctx)
	if err != nil {
		p.logger.Error("purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("expired tasks purged", zap.Int64("count", n))
	}
}
