package state

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) IsValid() bool {
	_, ok := ranks[s]
	return ok
}

var AllStatuses = []TaskStatus{
	StatusPending,
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ranks orders the lifecycle. Intermediate statuses may be skipped but never revisited.
var ranks = map[TaskStatus]int{
	StatusPending:    0,
	StatusQueued:     1,
	StatusProcessing: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// CanTransition reports whether a record in status from may move to status to.
// Re-writing the same non-terminal status is allowed; nothing leaves a terminal status.
func CanTransition(from, to TaskStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	return ranks[to] >= ranks[from]
}
