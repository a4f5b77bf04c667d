package models

import "time"

// Plan is the persisted, immutable task breakdown for one identity.
// It is only ever rewritten by a controlled re-plan, which must carry
// existing progress state forward for reused task IDs.
type Plan struct {
	// TaskDescription is the caller's original request.
	TaskDescription string `json:"task_description"`
	// Synopsis is a short summary of the planned approach.
	Synopsis string `json:"synopsis"`
	// CreatedAt is when the plan was first persisted.
	CreatedAt time.Time `json:"created_at"`
	// GitCommitHash is the identity the plan was created under.
	GitCommitHash string `json:"git_commit_hash"`
	// Tasks is the dependency-ordered task breakdown.
	Tasks []Task `json:"tasks"`
}

// Task returns the plan task with the given ID, or nil.
func (p *Plan) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Progress is the persisted, mutable execution state for one identity's plan.
type Progress struct {
	// PlanFile is the plan document's path relative to the state directory.
	PlanFile string `json:"plan_file"`
	// CreatedAt is when the progress document was first persisted.
	CreatedAt time.Time `json:"created_at"`
	// LastUpdated is refreshed on every successful mutation.
	LastUpdated time.Time `json:"last_updated"`
	// GitCommitHash is the identity the progress document belongs to.
	GitCommitHash string `json:"git_commit_hash"`
	// Tasks holds one entry per plan task.
	Tasks []TaskProgress `json:"tasks"`
}

// Task returns the progress entry with the given ID, or nil.
func (p *Progress) Task(id string) *TaskProgress {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Counts returns the number of tasks in each state.
func (p *Progress) Counts() (pending, inProgress, completed int) {
	for i := range p.Tasks {
		switch p.Tasks[i].State {
		case TaskStatePending:
			pending++
		case TaskStateInProgress:
			inProgress++
		case TaskStateCompleted:
			completed++
		}
	}
	return pending, inProgress, completed
}

// Done returns true when no task is pending or in progress.
func (p *Progress) Done() bool {
	pending, inProgress, _ := p.Counts()
	return pending == 0 && inProgress == 0
}
