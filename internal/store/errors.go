package store

import (
	"errors"
	"fmt"

	"github.com/gangworks/strawboss/pkg/models"
)

// ErrNotFound indicates no document exists yet for the identity.
var ErrNotFound = errors.New("no document exists for this identity")

// ValidationError rejects malformed or cyclic plan input before any
// document is written.
type ValidationError struct {
	// Message names the offending reference or cycle.
	Message string
	// Cycle holds the ordered id path when the failure is a dependency
	// cycle, with the entry id repeated at the end.
	Cycle []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TaskNotFoundError indicates a reference to a task id absent from the
// identity's progress document.
type TaskNotFoundError struct {
	Identity string
	TaskID   string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found in progress for %s", e.TaskID, e.Identity)
}

// IllegalTransitionError rejects a state change the task state machine
// does not allow. The document is left unchanged.
type IllegalTransitionError struct {
	TaskID string
	From   models.TaskState
	To     models.TaskState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for task %s: state is %q, requested %q", e.TaskID, e.From, e.To)
}

// CorruptedError surfaces a persisted document that fails to parse.
// The store never replaces such a document with a fresh one; the
// identity and path give the operator enough to recover by hand.
type CorruptedError struct {
	Identity string
	Path     string
	Err      error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("corrupted document for %s at %s: %v", e.Identity, e.Path, e.Err)
}

func (e *CorruptedError) Unwrap() error {
	return e.Err
}
