package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RezaEskandarii/taskrelay/types"
)

var ErrUnknownTaskKind = errors.New("no handler registered for task kind")

// TaskHandler runs the computation behind one task kind. The returned value must be JSON-encodable.
type TaskHandler interface {
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

type TaskHandlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

func (f TaskHandlerFunc) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	return f(ctx, input)
}

// TaskHandlers maps task kinds to handlers. It is filled once at startup.
type TaskHandlers struct {
	handlers map[types.TaskKind]TaskHandler
	mutex    sync.RWMutex
}

func NewTaskHandlers() *TaskHandlers {
	return &TaskHandlers{
		handlers: make(map[types.TaskKind]TaskHandler),
	}
}

// Register adds a new handler for kind.
func (th *TaskHandlers) Register(kind types.TaskKind, handler TaskHandler) error {
	if _, err := types.ParseTaskKind(kind.String()); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("handler for '%s' is nil", kind)
	}

	th.mutex.Lock()
	defer th.mutex.Unlock()

	if _, exists := th.handlers[kind]; exists {
		return fmt.Errorf("handler '%s' already registered", kind)
	}
	th.handlers[kind] = handler
	return nil
}

func (th *TaskHandlers) Exists(kind types.TaskKind) bool {
	th.mutex.RLock()
	defer th.mutex.RUnlock()

	_, exists := th.handlers[kind]
	return exists
}

// Resolve turns a broker topic into a registered kind.
func (th *TaskHandlers) Resolve(topic string) (types.TaskKind, error) {
	kind, err := types.ParseTaskKind(topic)
	if err != nil {
		return "", err
	}
	if !th.Exists(kind) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTaskKind, kind)
	}
	return kind, nil
}

func (th *TaskHandlers) Execute(ctx context.Context, kind types.TaskKind, input json.RawMessage) (any, error) {
	th.mutex.RLock()
	handler, exists := th.handlers[kind]
	th.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, kind)
	}
	return handler.Execute(ctx, input)
}

func (th *TaskHandlers) List() []types.TaskKind {
	th.mutex.RLock()
	defer th.mutex.RUnlock()

	kinds := make([]types.TaskKind, 0, len(th.handlers))
	for kind := range th.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
