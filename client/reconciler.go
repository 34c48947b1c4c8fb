package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
)

// Reconciler writes execution outcomes into the task store and notifies the subscribed
// connection, if any. The status check, the write and the connection lookup happen in one
// store transaction, so exactly one of Reconciler and the result notifier delivers a result.
type Reconciler struct {
	store   store.TaskStore
	pusher  ResultPusher
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconciler(taskStore store.TaskStore, pusher ResultPusher, collector *metrics.Collector, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   taskStore,
		pusher:  pusher,
		metrics: collector,
		logger:  logging.Named(logger, "reconciler"),
		now:     time.Now,
	}
}

// Reconcile applies res to its task. A missing record is logged and skipped. A record that is
// already terminal keeps its stored outcome. Only storage failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context, res types.TaskResult) error {
	var deliverTo string
	var duplicate bool

	rec, err := r.store.Transact(ctx, res.TaskID, func(rec *types.TaskRecord) error {
		now := r.now().UTC()
		deliverTo, duplicate = "", false

		if rec.IsTerminal() {
			duplicate = true
			if rec.ConnectionID == "" {
				return store.ErrNoChange
			}
			deliverTo = rec.ConnectionID
			rec.ConnectionID = ""
			rec.UpdatedAt = now
			return nil
		}

		status := res.Status()
		cleared := ""
		update := types.TaskUpdate{Status: &status, ConnectionID: &cleared}
		if res.Err != nil {
			msg := res.ErrorMessage()
			update.Error = &msg
		} else {
			update.Result = res.Result
		}
		deliverTo = rec.ConnectionID
		return store.ApplyUpdate(update, now)(rec)
	})

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		r.logger.Warn("task record not found, result dropped", zap.String("task_id", res.TaskID))
		return nil
	case errors.Is(err, store.ErrConflict):
		r.metrics.ReconcileConflict()
		return fmt.Errorf("reconcile task %s: %w", res.TaskID, err)
	case err != nil:
		return fmt.Errorf("reconcile task %s: %w", res.TaskID, err)
	}

	if duplicate {
		r.logger.Info("task already terminal, stored outcome kept", zap.String("task_id", res.TaskID), zap.String("status", rec.Status.String()))
	} else {
		r.logger.Info("task reconciled", zap.String("task_id", res.TaskID), zap.String("status", rec.Status.String()))
	}

	if deliverTo != "" {
		r.deliver(ctx, deliverTo, rec)
	}
	return nil
}

func (r *Reconciler) deliver(ctx context.Context, connectionID string, rec *types.TaskRecord) {
	event := types.EventForRecord(rec)
	if r.pusher == nil {
		r.logger.Warn("no result pusher configured, delivery skipped", zap.String("task_id", rec.ID))
		return
	}
	err := r.pusher.Push(ctx, connectionID, event)
	r.metrics.Delivery(event.Event, err)
	if err != nil {
		r.logger.Warn("failed to push result", zap.String("task_id", rec.ID), zap.String("connection_id", connectionID), zap.Error(err))
		return
	}
	r.logger.Debug("result pushed", zap.String("task_id", rec.ID), zap.String("connection_id", connectionID))
}
