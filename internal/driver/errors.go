package driver

import (
	"fmt"
	"strings"
)

// DeadlockError reports that unfinished tasks remain but none of them
// can ever become eligible, so the run halted instead of spinning.
type DeadlockError struct {
	Identity  string
	Remaining []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("no eligible tasks remain for %s but %d unfinished: %s",
		e.Identity, len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// DispatchError wraps a failed agent dispatch for one task.
type DispatchError struct {
	TaskID string
	Agent  string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch for task %s (agent %s) failed: %v", e.TaskID, e.Agent, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
