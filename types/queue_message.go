package types

import (
	"encoding/json"
	"errors"

	"github.com/RezaEskandarii/taskrelay/internal/state"
)

// QueueMessage is the envelope published on both the work queue and the response queue.
// On the work queue Data is the task input; on the response queue it is a ResponsePayload.
type QueueMessage struct {
	Topic  string          `json:"topic"`
	TaskID string          `json:"taskId"`
	Data   json.RawMessage `json:"data"`
}

// ResponsePayload is what a decoupled executor reports back for a task.
// A payload without a status is treated as completed unless it carries an error.
type ResponsePayload struct {
	Status state.TaskStatus `json:"status,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (p ResponsePayload) ToTaskResult(taskID string, kind TaskKind) TaskResult {
	res := TaskResult{TaskID: taskID, Kind: kind}
	switch {
	case p.Status == state.StatusFailed:
		msg := p.Error
		if msg == "" {
			msg = "execution failed"
		}
		res.Err = errors.New(msg)
	case p.Status == "" && p.Error != "":
		res.Err = errors.New(p.Error)
	default:
		res.Result = p.Result
	}
	return res
}

func NewResponsePayload(res TaskResult) ResponsePayload {
	return ResponsePayload{
		Status: res.Status(),
		Result: res.Result,
		Error:  res.ErrorMessage(),
	}
}
