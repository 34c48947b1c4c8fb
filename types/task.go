package types

import (
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/state"
)

// TaskRecord is the persisted state of one scheduled task.
type TaskRecord struct {
	ID           string           `json:"id"`
	Type         TaskKind         `json:"type"`
	Input        json.RawMessage  `json:"input"`
	Status       state.TaskStatus `json:"status"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	ConnectionID string           `json:"connectionId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	FailedAt     *time.Time       `json:"failedAt,omitempty"`
}

func (r *TaskRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// TaskUpdate carries the fields to merge into an existing record. Nil fields are left untouched.
// An empty ConnectionID clears the association.
type TaskUpdate struct {
	Status       *state.TaskStatus
	Result       json.RawMessage
	Error        *string
	ConnectionID *string
}

func StatusUpdate(status state.TaskStatus) TaskUpdate {
	return TaskUpdate{Status: &status}
}

// ApplyTo merges u into rec and stamps the timestamps that the transition implies.
// The caller is responsible for checking that the transition is allowed.
func (u TaskUpdate) ApplyTo(rec *TaskRecord, now time.Time) {
	if u.Status != nil {
		rec.Status = *u.Status
		switch rec.Status {
		case state.StatusCompleted:
			rec.CompletedAt = &now
		case state.StatusFailed:
			rec.FailedAt = &now
		}
	}
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.Error != nil {
		rec.Error = *u.Error
	}
	if u.ConnectionID != nil {
		rec.ConnectionID = *u.ConnectionID
	}
	if rec.Status != state.StatusCompleted {
		rec.Result = nil
	}
	rec.UpdatedAt = now
}
