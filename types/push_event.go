package types

import (
	"encoding/json"

	"github.com/RezaEskandarii/taskrelay/internal/state"
)

const (
	EventComplete = "complete"
	EventFailed   = "failed"
	EventNotFound = "not_found"
)

// PushEvent is written to a subscribed connection as a single JSON text frame.
type PushEvent struct {
	Event string        `json:"event"`
	Topic string        `json:"topic,omitempty"`
	Data  PushEventData `json:"data"`
}

type PushEventData struct {
	TaskID string          `json:"taskId"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EventForRecord builds the notification a terminal record produces.
func EventForRecord(rec *TaskRecord) PushEvent {
	if rec.Status == state.StatusCompleted {
		return PushEvent{
			Event: EventComplete,
			Topic: rec.Type.String(),
			Data:  PushEventData{TaskID: rec.ID, Result: rec.Result},
		}
	}
	return PushEvent{
		Event: EventFailed,
		Topic: rec.Type.String(),
		Data:  PushEventData{TaskID: rec.ID, Error: rec.Error},
	}
}
