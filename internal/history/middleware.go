package history

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gangworks/strawboss/internal/driver"
)

// RecordingDispatcher wraps another dispatcher and records every
// dispatch outcome under one run. A history write failure must never
// fail the dispatch itself.
type RecordingDispatcher struct {
	Inner driver.Dispatcher
	Rec   *Recorder
	RunID string
}

var _ driver.Dispatcher = (*RecordingDispatcher)(nil)

func (d *RecordingDispatcher) Dispatch(ctx context.Context, req driver.DispatchRequest) (*driver.DispatchResult, error) {
	started := time.Now()
	result, err := d.Inner.Dispatch(ctx, req)
	finished := time.Now()

	entry := Dispatch{
		RunID:      d.RunID,
		TaskID:     req.TaskID,
		Agent:      req.AgentName,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	switch {
	case err != nil:
		entry.Error = err.Error()
	case result != nil && result.Success:
		entry.Success = true
	case result != nil:
		entry.Error = firstLine(result.Output)
	default:
		entry.Error = "dispatcher returned no result"
	}

	if recErr := d.Rec.RecordDispatch(entry); recErr != nil {
		log.Printf("[history] warning: failed to record dispatch for %s: %v", req.TaskID, recErr)
	}
	return result, err
}

// OutcomeForReport maps a finished run report onto a history outcome.
func OutcomeForReport(report *driver.Report, runErr error) string {
	switch {
	case report == nil:
		return OutcomeAborted
	case report.Deadlocked:
		return OutcomeDeadlocked
	case report.Stopped:
		return OutcomeStopped
	case runErr != nil:
		return OutcomeAborted
	case len(report.Failed) > 0:
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "agent reported failure"
	}
	return s
}
