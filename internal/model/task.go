package model

import "time"

// TaskState is the lifecycle state of a background task.
type TaskState string

// Task state constants.
const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// validTransitions maps each state to the set of states it may transition to.
// Terminal states have no entry, so nothing leaves them.
var validTransitions = map[TaskState]map[TaskState]bool{
	TaskPending: {
		TaskRunning:   true,
		TaskCancelled: true,
	},
	TaskRunning: {
		TaskSucceeded: true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
}

// ValidTransition reports whether moving a task from one state to another is allowed.
func ValidTransition(from, to TaskState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether s is a final state.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task is a snapshot of an asynchronous unit of work tracked by the engine.
type Task struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	State       TaskState  `json:"state"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
