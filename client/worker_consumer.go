package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/executor"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
	"github.com/RezaEskandarii/taskrelay/types/config"
)

// Role selects which queue a WorkerConsumer reads and what it does with each message.
type Role int

const (
	// RoleCoupled executes work in this process and reconciles the store directly.
	RoleCoupled Role = iota + 1
	// RoleExecutor executes work and answers on the response queue. It never touches the store.
	RoleExecutor
	// RoleResponseReconciler reconciles outcomes published by executors.
	RoleResponseReconciler
)

func (r Role) String() string {
	switch r {
	case RoleCoupled:
		return "coupled"
	case RoleExecutor:
		return "executor"
	case RoleResponseReconciler:
		return "response_reconciler"
	}
	return "unknown"
}

// RoleFor maps a process kind onto its consumer role.
func RoleFor(topology config.Topology, workerProcess bool) Role {
	switch {
	case topology == config.Decoupled && workerProcess:
		return RoleExecutor
	case topology == config.Decoupled:
		return RoleResponseReconciler
	default:
		return RoleCoupled
	}
}

type WorkerConsumerConfig struct {
	Role          Role
	WorkQueue     string
	ResponseQueue string
	// Consumers is the number of prefetch-one subscriptions opened on the queue.
	Consumers int
}

type WorkerConsumer struct {
	cfg        WorkerConsumerConfig
	broker     message_broaker.MessageBroker
	store      store.TaskStore
	handlers   *config.TaskHandlers
	pool       *executor.Pool
	reconciler *Reconciler
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewWorkerConsumer wires a consumer. taskStore and reconciler may be nil for RoleExecutor;
// handlers and pool may be nil for RoleResponseReconciler.
func NewWorkerConsumer(
	cfg WorkerConsumerConfig,
	broker message_broaker.MessageBroker,
	taskStore store.TaskStore,
	handlers *config.TaskHandlers,
	pool *executor.Pool,
	reconciler *Reconciler,
	collector *metrics.Collector,
	logger *zap.Logger,
) (*WorkerConsumer, error) {
	if cfg.Consumers < 1 {
		cfg.Consumers = 1
	}

	switch cfg.Role {
	case RoleCoupled:
		if taskStore == nil || handlers == nil || pool == nil || reconciler == nil {
			return nil, errors.New("coupled consumer needs a store, handlers, a pool and a reconciler")
		}
	case RoleExecutor:
		if handlers == nil || pool == nil || cfg.ResponseQueue == "" {
			return nil, errors.New("executor consumer needs handlers, a pool and a response queue")
		}
	case RoleResponseReconciler:
		if reconciler == nil || cfg.ResponseQueue == "" {
			return nil, errors.New("response consumer needs a reconciler and a response queue")
		}
	default:
		return nil, fmt.Errorf("unknown consumer role %d", cfg.Role)
	}

	return &WorkerConsumer{
		cfg:        cfg,
		broker:     broker,
		store:      taskStore,
		handlers:   handlers,
		pool:       pool,
		reconciler: reconciler,
		metrics:    collector,
		logger:     logging.Named(logger, "worker_consumer").With(zap.String("role", cfg.Role.String())),
	}, nil
}

// Start subscribes the consumers and returns. They run until ctx is cancelled.
func (w *WorkerConsumer) Start(ctx context.Context) error {
	queue, handler := w.cfg.WorkQueue, message_broaker.MessageHandler(w.HandleWork)
	if w.cfg.Role == RoleResponseReconciler {
		queue, handler = w.cfg.ResponseQueue, w.HandleResponse
	}

	for i := 0; i < w.cfg.Consumers; i++ {
		if err := w.broker.StartConsumer(ctx, queue, handler); err != nil {
			return fmt.Errorf("failed to start consumer on %s: %w", queue, err)
		}
	}
	w.logger.Info("worker consumer started", zap.String("queue", queue), zap.Int("consumers", w.cfg.Consumers))
	return nil
}

// HandleWork processes one work-queue message. It acknowledges every message whose outcome was
// recorded, including failed executions and unknown topics.
func (w *WorkerConsumer) HandleWork(ctx context.Context, body json.RawMessage) (bool, error) {
	var msg types.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("failed to decode work message: %w", err)
	}
	if msg.TaskID == "" {
		return false, errors.New("work message without task id")
	}
	logger := w.logger.With(zap.String("task_id", msg.TaskID), zap.String("topic", msg.Topic))

	kind, err := w.handlers.Resolve(msg.Topic)
	if err != nil {
		logger.Warn("no handler for topic, failing task", zap.Error(err))
		return w.finish(ctx, types.TaskResult{TaskID: msg.TaskID, Kind: types.TaskKind(msg.Topic), Err: err, RanAt: time.Now()})
	}

	if w.cfg.Role == RoleCoupled {
		err := w.store.UpdateTaskStatus(ctx, msg.TaskID, state.StatusProcessing)
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			logger.Warn("task record not found, message dropped")
			return true, nil
		case errors.Is(err, store.ErrTerminalTask):
			logger.Info("task already terminal, redelivery skipped")
			return true, nil
		case err != nil:
			logger.Warn("failed to mark task processing", zap.Error(err))
		}
	}

	res := w.execute(ctx, kind, msg)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return w.finish(ctx, res)
}

// HandleResponse reconciles one response-queue message published by an executor.
func (w *WorkerConsumer) HandleResponse(ctx context.Context, body json.RawMessage) (bool, error) {
	var msg types.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("failed to decode response message: %w", err)
	}
	if msg.TaskID == "" {
		return false, errors.New("response message without task id")
	}

	var payload types.ResponsePayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return false, fmt.Errorf("failed to decode response payload of task %s: %w", msg.TaskID, err)
		}
	}

	res := payload.ToTaskResult(msg.TaskID, types.TaskKind(msg.Topic))
	if err := w.reconciler.Reconcile(ctx, res); err != nil {
		return false, err
	}
	return true, nil
}

func (w *WorkerConsumer) execute(ctx context.Context, kind types.TaskKind, msg types.QueueMessage) types.TaskResult {
	start := time.Now()
	value, err := w.pool.Execute(ctx, func(ctx context.Context) (any, error) {
		return w.handlers.Execute(ctx, kind, msg.Data)
	})

	res := types.TaskResult{TaskID: msg.TaskID, Kind: kind, RanAt: start}
	if err == nil {
		encoded, merr := json.Marshal(value)
		if merr != nil {
			err = fmt.Errorf("failed to encode result: %w", merr)
		} else {
			res.Result = encoded
		}
	}
	res.Err = err

	took := time.Since(start)
	w.metrics.ExecutionFinished(kind.String(), res.Status().String(), took)
	if err != nil {
		w.logger.Warn("execution failed", zap.String("task_id", msg.TaskID), zap.Duration("took", took), zap.Error(err))
	} else {
		w.logger.Debug("execution finished", zap.String("task_id", msg.TaskID), zap.Duration("took", took))
	}
	return res
}

func (w *WorkerConsumer) finish(ctx context.Context, res types.TaskResult) (bool, error) {
	if w.cfg.Role == RoleExecutor {
		payload, err := json.Marshal(types.NewResponsePayload(res))
		if err != nil {
			return false, err
		}
		msg := types.QueueMessage{Topic: res.Kind.String(), TaskID: res.TaskID, Data: payload}
		if err := w.broker.SendMessage(ctx, w.cfg.ResponseQueue, msg,
			message_broaker.WithCorrelationID(res.TaskID),
			message_broaker.WithHeader(message_broaker.TopicHeader, res.Kind.String()),
		); err != nil {
			return false, fmt.Errorf("failed to publish response of task %s: %w", res.TaskID, err)
		}
		return true, nil
	}

	if err := w.reconciler.Reconcile(ctx, res); err != nil {
		return false, err
	}
	return true, nil
}
