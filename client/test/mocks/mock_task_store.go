package mocks

import (
	"context"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
)

// MockTaskStore wraps a real store and lets a test replace individual operations.
// Operations without an override fall through to Base.
type MockTaskStore struct {
	Base store.TaskStore

	SetTaskFunc          func(ctx context.Context, rec *types.TaskRecord, ttl time.Duration) error
	GetTaskFunc          func(ctx context.Context, id string) (*types.TaskRecord, error)
	UpdateTaskStatusFunc func(ctx context.Context, id string, status state.TaskStatus) error
	TransactFunc         func(ctx context.Context, id string, fn store.TransactFunc) (*types.TaskRecord, error)
}

func (m *MockTaskStore) SetTask(ctx context.Context, rec *types.TaskRecord, ttl time.Duration) error {
	if m.SetTaskFunc != nil {
		return m.SetTaskFunc(ctx, rec, ttl)
	}
	return m.Base.SetTask(ctx, rec, ttl)
}

func (m *MockTaskStore) GetTask(ctx context.Context, id string) (*types.TaskRecord, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, id)
	}
	return m.Base.GetTask(ctx, id)
}

func (m *MockTaskStore) UpdateTask(ctx context.Context, id string, update types.TaskUpdate) (*types.TaskRecord, error) {
	return m.Base.UpdateTask(ctx, id, update)
}

func (m *MockTaskStore) UpdateTaskStatus(ctx context.Context, id string, status state.TaskStatus) error {
	if m.UpdateTaskStatusFunc != nil {
		return m.UpdateTaskStatusFunc(ctx, id, status)
	}
	return m.Base.UpdateTaskStatus(ctx, id, status)
}

func (m *MockTaskStore) DeleteTask(ctx context.Context, id string) error {
	return m.Base.DeleteTask(ctx, id)
}

func (m *MockTaskStore) SetTaskTTL(ctx context.Context, id string, ttl time.Duration) error {
	return m.Base.SetTaskTTL(ctx, id, ttl)
}

func (m *MockTaskStore) GetTaskTTL(ctx context.Context, id string) (time.Duration, error) {
	return m.Base.GetTaskTTL(ctx, id)
}

func (m *MockTaskStore) GetTasksByStatus(ctx context.Context, status state.TaskStatus, page, pageSize int) (*types.PaginationResult[types.TaskRecord], error) {
	return m.Base.GetTasksByStatus(ctx, status, page, pageSize)
}

func (m *MockTaskStore) Transact(ctx context.Context, id string, fn store.TransactFunc) (*types.TaskRecord, error) {
	if m.TransactFunc != nil {
		return m.TransactFunc(ctx, id, fn)
	}
	return m.Base.Transact(ctx, id, fn)
}

func (m *MockTaskStore) HealthCheck(ctx context.Context) error {
	return m.Base.HealthCheck(ctx)
}

func (m *MockTaskStore) Close() error {
	return m.Base.Close()
}

var _ store.TaskStore = (*MockTaskStore)(nil)
