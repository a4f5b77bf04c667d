package models

import "time"

// TaskState represents the execution state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task has not started.
	TaskStatePending TaskState = "pending"
	// TaskStateInProgress indicates an agent is working on the task.
	TaskStateInProgress TaskState = "in_progress"
	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"
)

// legalTransitions is the complete set of permitted state changes.
// There is no rollback and no skipping in_progress.
var legalTransitions = map[TaskState]map[TaskState]struct{}{
	TaskStatePending:    {TaskStateInProgress: {}},
	TaskStateInProgress: {TaskStateCompleted: {}},
}

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateInProgress, TaskStateCompleted:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is possible from s.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted
}

// CanTransitionTo returns true if moving from s to next is a legal
// state-machine transition.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	allowed, ok := legalTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// Task is the immutable definition of a unit of work as declared in a plan.
type Task struct {
	// ID is the unique identifier, formatted TASK-NNN.
	ID string `json:"id"`
	// DesignatedAgent names the agent capability responsible for the task.
	DesignatedAgent string `json:"designated_agent"`
	// Description is the free-text instruction for the agent.
	Description string `json:"description"`
	// FilesToModify lists the paths the task declares it will touch.
	FilesToModify []string `json:"files_to_modify"`
	// Dependencies lists task IDs that must complete before this task starts.
	Dependencies []string `json:"dependencies"`
}

// TaskProgress is the mutable execution-state projection of a Task.
// The embedded definition is refreshed on re-plan; the progress fields
// are only ever advanced by the progress store.
type TaskProgress struct {
	Task

	// State is the current position in the pending/in_progress/completed machine.
	State TaskState `json:"state"`
	// AgentSessionID identifies the agent session that claimed the task.
	AgentSessionID string `json:"agent_session_id,omitempty"`
	// FilesModified records the paths the agent actually touched.
	FilesModified []string `json:"files_modified,omitempty"`
	// Summary is the agent's short report of what was done.
	Summary string `json:"summary,omitempty"`
	// ErrorMessage holds the most recent dispatch failure, if any.
	// A recorded failure does not advance State.
	ErrorMessage string `json:"error_message,omitempty"`
	// StartedAt is stamped when the task enters in_progress.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is stamped when the task enters completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Started returns true once the task has entered in_progress or beyond,
// meaning its FilesModified field carries facts rather than absence of data.
func (tp *TaskProgress) Started() bool {
	return tp.State == TaskStateInProgress || tp.State == TaskStateCompleted
}
