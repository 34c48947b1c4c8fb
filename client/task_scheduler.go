package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
	"github.com/RezaEskandarii/taskrelay/types/config"
)

var ErrScheduleFailed = errors.New("failed to schedule task")

type TaskScheduler struct {
	store     store.TaskStore
	broker    message_broaker.MessageBroker
	handlers  *config.TaskHandlers
	workQueue string
	ttl       time.Duration
	metrics   *metrics.Collector
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

func NewTaskScheduler(
	taskStore store.TaskStore,
	broker message_broaker.MessageBroker,
	handlers *config.TaskHandlers,
	workQueue string,
	ttl time.Duration,
	collector *metrics.Collector,
	logger *zap.Logger,
) *TaskScheduler {
	return &TaskScheduler{
		store:     taskStore,
		broker:    broker,
		handlers:  handlers,
		workQueue: workQueue,
		ttl:       ttl,
		metrics:   collector,
		logger:    logging.Named(logger, "task_scheduler"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Schedule stores a pending record, then publishes the work message. The record is durable
// before Schedule returns, so the id can be polled or subscribed to right away.
//
// Once the record exists its id is returned even on failure; the record then ends up failed.
// Every failure wraps ErrScheduleFailed.
func (s *TaskScheduler) Schedule(ctx context.Context, kind types.TaskKind, input any) (taskID string, err error) {
	if !s.handlers.Exists(kind) {
		return "", fmt.Errorf("%w: %w: %s", ErrScheduleFailed, config.ErrUnknownTaskKind, kind)
	}

	data, err := encodeInput(input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}

	taskID = s.newID()
	now := s.now().UTC()
	rec := &types.TaskRecord{
		ID:        taskID,
		Type:      kind,
		Input:     data,
		Status:    state.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SetTask(ctx, rec, s.ttl); err != nil {
		s.logger.Error("failed to store task", zap.String("task_id", taskID), zap.Error(err))
		s.metrics.ScheduleFailed(kind.String(), "store")
		return "", fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}

	published := false
	defer func() {
		status := state.StatusFailed
		if published {
			status = state.StatusQueued
		}
		s.settle(context.WithoutCancel(ctx), taskID, status)
	}()

	msg := types.QueueMessage{Topic: kind.String(), TaskID: taskID, Data: data}
	if err := s.broker.SendMessage(ctx, s.workQueue, msg,
		message_broaker.WithCorrelationID(taskID),
		message_broaker.WithHeader(message_broaker.TopicHeader, kind.String()),
	); err != nil {
		s.logger.Error("failed to publish task", zap.String("task_id", taskID), zap.String("queue", s.workQueue), zap.Error(err))
		s.metrics.ScheduleFailed(kind.String(), "publish")
		return taskID, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	published = true

	s.metrics.TaskScheduled(kind.String())
	s.logger.Info("task scheduled", zap.String("task_id", taskID), zap.String("topic", kind.String()))
	return taskID, nil
}

// settle records the outcome of the publish step. It is best effort: a worker may already
// have moved the task further, and a storage error must not mask the scheduling result.
func (s *TaskScheduler) settle(ctx context.Context, taskID string, status state.TaskStatus) {
	err := s.store.UpdateTaskStatus(ctx, taskID, status)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTerminalTask), errors.Is(err, store.ErrInvalidTransition):
		s.logger.Debug("task already advanced past scheduling", zap.String("task_id", taskID), zap.String("status", status.String()))
	default:
		s.logger.Warn("failed to update task status after scheduling",
			zap.String("task_id", taskID), zap.String("status", status.String()), zap.Error(err))
	}
}

func encodeInput(input any) (json.RawMessage, error) {
	switch in := input.(type) {
	case json.RawMessage:
		if !json.Valid(in) {
			return nil, errors.New("input is not valid JSON")
		}
		return in, nil
	default:
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("failed to encode input: %w", err)
		}
		return data, nil
	}
}
