package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/client"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
)

// ResultNotifier attaches subscribing connections to tasks. It and the reconciler both decide
// inside a store transaction, so a result is delivered once whichever side gets there first.
type ResultNotifier struct {
	store   store.TaskStore
	pusher  client.ResultPusher
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func NewResultNotifier(taskStore store.TaskStore, pusher client.ResultPusher, collector *metrics.Collector, logger *zap.Logger) *ResultNotifier {
	return &ResultNotifier{
		store:   taskStore,
		pusher:  pusher,
		metrics: collector,
		logger:  logging.Named(logger, "result_notifier"),
		now:     time.Now,
	}
}

// HandleConnection subscribes connID to taskID. A terminal task is answered at once; otherwise
// the connection id is stored on the record for the reconciler to find. An unknown task gets a
// not_found event.
func (n *ResultNotifier) HandleConnection(ctx context.Context, connID, taskID string) error {
	var terminal bool
	rec, err := n.store.Transact(ctx, taskID, func(rec *types.TaskRecord) error {
		terminal = rec.IsTerminal()
		if terminal {
			return store.ErrNoChange
		}
		rec.ConnectionID = connID
		rec.UpdatedAt = n.now().UTC()
		return nil
	})

	logger := n.logger.With(zap.String("task_id", taskID), zap.String("connection_id", connID))
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		logger.Info("subscription to unknown task")
		n.push(ctx, connID, types.PushEvent{Event: types.EventNotFound, Data: types.PushEventData{TaskID: taskID}})
		return nil
	case err != nil:
		return fmt.Errorf("subscribe connection %s to task %s: %w", connID, taskID, err)
	}

	if terminal {
		logger.Debug("task already terminal, delivering now")
		n.push(ctx, connID, types.EventForRecord(rec))
		return nil
	}
	logger.Debug("connection attached to task")
	return nil
}

// Release detaches connID from taskID when the connection goes away, unless another connection
// or a terminal status has taken over the record since.
func (n *ResultNotifier) Release(ctx context.Context, connID, taskID string) error {
	_, err := n.store.Transact(ctx, taskID, func(rec *types.TaskRecord) error {
		if rec.IsTerminal() || rec.ConnectionID != connID {
			return store.ErrNoChange
		}
		rec.ConnectionID = ""
		rec.UpdatedAt = n.now().UTC()
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return fmt.Errorf("release connection %s from task %s: %w", connID, taskID, err)
	}
	return nil
}

func (n *ResultNotifier) push(ctx context.Context, connID string, event types.PushEvent) {
	err := n.pusher.Push(ctx, connID, event)
	n.metrics.Delivery(event.Event, err)
	if err != nil {
		n.logger.Warn("failed to push event", zap.String("connection_id", connID), zap.String("event", event.Event), zap.Error(err))
	}
}
