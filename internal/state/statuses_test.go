package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTaskStatus_String(t *testing.T) {
	tests := []struct {
		name     string
		status   TaskStatus
		expected string
	}{
		{name: "Pending status", status: StatusPending, expected: "pending"},
		{name: "Queued status", status: StatusQueued, expected: "queued"},
		{name: "Processing status", status: StatusProcessing, expected: "processing"},
		{name: "Completed status", status: StatusCompleted, expected: "completed"},
		{name: "Failed status", status: StatusFailed, expected: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     TaskStatus
		to       TaskStatus
		expected bool
	}{
		{"pending to queued", StatusPending, StatusQueued, true},
		{"pending to completed skips", StatusPending, StatusCompleted, true},
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing back to queued", StatusProcessing, StatusQueued, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to queued", StatusFailed, StatusQueued, false},
		{"completed to completed", StatusCompleted, StatusCompleted, false},
		{"queued to queued", StatusQueued, StatusQueued, true},
		{"unknown source", TaskStatus("dead"), StatusQueued, false},
		{"unknown target", StatusPending, TaskStatus("retrying"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestProperty_TransitionsNeverLeaveTerminal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.SliceOfN(rapid.SampledFrom(AllStatuses), 1, 20).Draw(rt, "steps")

		current := StatusPending
		reachedTerminal := false
		for _, next := range steps {
			if !CanTransition(current, next) {
				continue
			}
			if reachedTerminal {
				rt.Fatalf("transition out of terminal status %s to %s", current, next)
			}
			if ranks[next] < ranks[current] {
				rt.Fatalf("backward transition %s -> %s", current, next)
			}
			current = next
			reachedTerminal = current.IsTerminal()
		}
	})
}
