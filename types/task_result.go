package types

import (
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/state"
)

// TaskResult is the outcome of one execution, whichever process produced it.
type TaskResult struct {
	TaskID string
	Kind   TaskKind
	Result json.RawMessage
	Err    error
	RanAt  time.Time
}

func (r TaskResult) Status() state.TaskStatus {
	if r.Err != nil {
		return state.StatusFailed
	}
	return state.StatusCompleted
}

func (r TaskResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
