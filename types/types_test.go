package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskKind(t *testing.T) {
	kind, err := ParseTaskKind("fibonacci:calculate")
	require.NoError(t, err)
	assert.Equal(t, KindFibonacciCalculate, kind)
	assert.Equal(t, "fibonacci", kind.Domain())
	assert.Equal(t, "calculate", kind.Action())

	for _, bad := range []string{"", "fibonacci", ":calculate", "fibonacci:", "a:b:c"} {
		_, err := ParseTaskKind(bad)
		assert.Error(t, err, bad)
	}
}

func TestTaskUpdate_ApplyTo_StampsTerminalTimestamps(t *testing.T) {
	now := time.Now().UTC()
	rec := &TaskRecord{ID: "t1", Status: state.StatusQueued}

	update := TaskUpdate{Result: json.RawMessage(`13`)}
	completed := state.StatusCompleted
	update.Status = &completed
	update.ApplyTo(rec, now)

	assert.Equal(t, state.StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, now, *rec.CompletedAt)
	assert.Nil(t, rec.FailedAt)
	assert.JSONEq(t, `13`, string(rec.Result))
	assert.Equal(t, now, rec.UpdatedAt)
}

func TestTaskUpdate_ApplyTo_DropsResultUnlessCompleted(t *testing.T) {
	rec := &TaskRecord{ID: "t1", Status: state.StatusProcessing}
	failed := state.StatusFailed
	msg := "boom"

	TaskUpdate{Status: &failed, Result: json.RawMessage(`1`), Error: &msg}.ApplyTo(rec, time.Now())

	assert.Nil(t, rec.Result)
	assert.Equal(t, "boom", rec.Error)
	assert.NotNil(t, rec.FailedAt)
}

func TestTaskUpdate_ApplyTo_ClearsConnection(t *testing.T) {
	rec := &TaskRecord{ID: "t1", Status: state.StatusQueued, ConnectionID: "c1"}
	empty := ""
	TaskUpdate{ConnectionID: &empty}.ApplyTo(rec, time.Now())
	assert.Empty(t, rec.ConnectionID)
}

func TestResponsePayload_ToTaskResult(t *testing.T) {
	res := ResponsePayload{Result: json.RawMessage(`13`)}.ToTaskResult("t1", KindFibonacciCalculate)
	assert.NoError(t, res.Err)
	assert.Equal(t, state.StatusCompleted, res.Status())

	res = ResponsePayload{Status: state.StatusFailed}.ToTaskResult("t1", KindFibonacciCalculate)
	assert.Error(t, res.Err)
	assert.Equal(t, state.StatusFailed, res.Status())

	res = ResponsePayload{Error: "timeout"}.ToTaskResult("t1", KindFibonacciCalculate)
	assert.EqualError(t, res.Err, "timeout")
}

func TestNewResponsePayload(t *testing.T) {
	p := NewResponsePayload(TaskResult{TaskID: "t1", Err: errors.New("bad input")})
	assert.Equal(t, state.StatusFailed, p.Status)
	assert.Equal(t, "bad input", p.Error)
}

func TestEventForRecord(t *testing.T) {
	ev := EventForRecord(&TaskRecord{ID: "t1", Type: KindFibonacciCalculate, Status: state.StatusCompleted, Result: json.RawMessage(`13`)})
	assert.Equal(t, EventComplete, ev.Event)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"complete","topic":"fibonacci:calculate","data":{"taskId":"t1","result":13}}`, string(b))

	ev = EventForRecord(&TaskRecord{ID: "t2", Type: KindFibonacciCalculate, Status: state.StatusFailed, Error: "timeout"})
	assert.Equal(t, EventFailed, ev.Event)
	assert.Equal(t, "timeout", ev.Data.Error)
}

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	page := Paginate(items, 2, 2)
	assert.Equal(t, []string{"c", "d"}, page.Items)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNextPage)
	assert.True(t, page.HasPreviousPage)

	page = Paginate(items, 9, 2)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNextPage)
}
