package driver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/pkg/models"
)

type fakeOutcome struct {
	result *DispatchResult
	err    error
}

// fakeDispatcher records every dispatch and answers from a script,
// defaulting to success.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []DispatchRequest
	order   []string
	results map[string]fakeOutcome

	delay time.Duration
	block bool // wait for ctx cancellation instead of answering

	running int32
	maxSeen int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	cur := atomic.AddInt32(&f.running, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.running, -1)

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.order = append(f.order, req.TaskID)
	outcome, scripted := f.results[req.TaskID]
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if scripted {
		return outcome.result, outcome.err
	}
	return &DispatchResult{
		Success:       true,
		Output:        "did " + req.TaskID,
		FilesModified: []string{strings.ToLower(req.TaskID) + ".go"},
	}, nil
}

func (f *fakeDispatcher) dispatchIndex(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.order {
		if id == taskID {
			return i
		}
	}
	return -1
}

func testDriver(t *testing.T, fake *fakeDispatcher, cfg Config, opts ...Option) (*Driver, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return New(st, fake, cfg, opts...), st
}

func seedPlan(t *testing.T, st *store.Store, identity string, tasks ...models.Task) {
	t.Helper()
	if _, err := st.CreatePlan(identity, "desc", "syn", tasks); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
}

func task(id string, deps ...string) models.Task {
	return models.Task{
		ID:              id,
		DesignatedAgent: "coder",
		Description:     "work on " + id,
		FilesToModify:   []string{strings.ToLower(id) + ".go"},
		Dependencies:    deps,
	}
}

func TestRun_CompletesDiamondRespectingDependencies(t *testing.T) {
	fake := &fakeDispatcher{delay: 5 * time.Millisecond}
	d, st := testDriver(t, fake, Config{MaxAgents: 2})
	seedPlan(t, st, "abc123",
		task("TASK-001"),
		task("TASK-002", "TASK-001"),
		task("TASK-003", "TASK-001"),
		task("TASK-004", "TASK-002", "TASK-003"),
	)

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Completed) != 4 {
		t.Fatalf("Completed = %v, want all 4 tasks", report.Completed)
	}
	if report.Dispatched != 4 {
		t.Errorf("Dispatched = %d, want 4", report.Dispatched)
	}

	// Dependency order must hold in the dispatch sequence.
	first := fake.dispatchIndex("TASK-001")
	last := fake.dispatchIndex("TASK-004")
	for _, mid := range []string{"TASK-002", "TASK-003"} {
		i := fake.dispatchIndex(mid)
		if i < first {
			t.Errorf("%s dispatched before its dependency TASK-001", mid)
		}
		if i > last {
			t.Errorf("%s dispatched after its dependent TASK-004", mid)
		}
	}

	progress, err := st.ReadProgress("abc123")
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	sessions := make(map[string]bool)
	for _, tp := range progress.Tasks {
		if tp.State != models.TaskStateCompleted {
			t.Errorf("%s state = %q, want completed", tp.ID, tp.State)
		}
		if tp.Summary == "" || len(tp.FilesModified) == 0 {
			t.Errorf("%s missing recorded results: %+v", tp.ID, tp)
		}
		if tp.AgentSessionID == "" {
			t.Errorf("%s missing session id", tp.ID)
		}
		sessions[tp.AgentSessionID] = true
	}
	if len(sessions) != 4 {
		t.Errorf("session ids not distinct: %v", sessions)
	}
}

func TestRun_FailedDispatchLeavesTaskInProgress(t *testing.T) {
	fake := &fakeDispatcher{results: map[string]fakeOutcome{
		"TASK-001": {result: &DispatchResult{Success: false, Output: "boom: compile error"}},
	}}
	d, st := testDriver(t, fake, Config{MaxAgents: 1})
	seedPlan(t, st, "abc123",
		task("TASK-001"),
		task("TASK-002", "TASK-001"),
	)

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run should surface failures through the report, got error: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "TASK-001" {
		t.Errorf("Failed = %v, want [TASK-001]", report.Failed)
	}
	if report.Deadlocked {
		t.Error("a dispatch failure is not a deadlock")
	}

	var derr *DispatchError
	if len(report.Errors) != 1 || !errors.As(report.Errors[0], &derr) {
		t.Fatalf("Errors = %v, want one DispatchError", report.Errors)
	}
	if derr.TaskID != "TASK-001" || derr.Agent != "coder" {
		t.Errorf("DispatchError = %+v", derr)
	}

	progress, err := st.ReadProgress("abc123")
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	failed := progress.Task("TASK-001")
	if failed.State != models.TaskStateInProgress {
		t.Errorf("failed task state = %q, want in_progress pending intervention", failed.State)
	}
	if !strings.Contains(failed.ErrorMessage, "boom") {
		t.Errorf("error_message = %q, want the failure recorded", failed.ErrorMessage)
	}
	if got := progress.Task("TASK-002").State; got != models.TaskStatePending {
		t.Errorf("dependent state = %q, must never have been dispatched", got)
	}
}

func TestRun_DispatcherErrorRecorded(t *testing.T) {
	fake := &fakeDispatcher{results: map[string]fakeOutcome{
		"TASK-001": {err: errors.New("network down")},
	}}
	d, st := testDriver(t, fake, Config{MaxAgents: 1})
	seedPlan(t, st, "abc123", task("TASK-001"))

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("Failed = %v", report.Failed)
	}

	progress, _ := st.ReadProgress("abc123")
	if msg := progress.Task("TASK-001").ErrorMessage; !strings.Contains(msg, "network down") {
		t.Errorf("error_message = %q", msg)
	}
}

func TestRun_DeadlockReportedNotSpunOn(t *testing.T) {
	fake := &fakeDispatcher{}
	d, st := testDriver(t, fake, Config{MaxAgents: 2})
	seedPlan(t, st, "abc123",
		task("TASK-001"),
		task("TASK-002", "TASK-001"),
	)

	// An orphaned in_progress task from a previous run blocks everything.
	if _, err := st.UpdateTask("abc123", "TASK-001", store.UpdatePatch{
		State:          models.TaskStateInProgress,
		AgentSessionID: "stale-session",
	}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	report, err := d.Run(context.Background(), "abc123")
	var dlerr *DeadlockError
	if !errors.As(err, &dlerr) {
		t.Fatalf("Run error = %v, want DeadlockError", err)
	}
	if !report.Deadlocked {
		t.Error("report.Deadlocked = false")
	}
	want := []string{"TASK-001", "TASK-002"}
	if len(dlerr.Remaining) != 2 || dlerr.Remaining[0] != want[0] || dlerr.Remaining[1] != want[1] {
		t.Errorf("Remaining = %v, want %v", dlerr.Remaining, want)
	}
	if report.Dispatched != 0 {
		t.Errorf("Dispatched = %d, nothing was eligible", report.Dispatched)
	}
}

func TestRun_HonorsMaxAgents(t *testing.T) {
	fake := &fakeDispatcher{delay: 15 * time.Millisecond}
	d, st := testDriver(t, fake, Config{MaxAgents: 2})
	seedPlan(t, st, "abc123",
		task("TASK-001"), task("TASK-002"), task("TASK-003"),
		task("TASK-004"), task("TASK-005"), task("TASK-006"),
	)

	if _, err := d.Run(context.Background(), "abc123"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := atomic.LoadInt32(&fake.maxSeen); max > 2 {
		t.Errorf("observed %d concurrent dispatches, cap is 2", max)
	}
}

func TestRun_StopSignalHoldsBackNewDispatches(t *testing.T) {
	stateDir := t.TempDir()
	signals, err := NewSignalWatcher(stateDir)
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer signals.Close()
	if err := signals.SendStop(); err != nil {
		t.Fatalf("SendStop: %v", err)
	}

	fake := &fakeDispatcher{}
	d, st := testDriver(t, fake, Config{MaxAgents: 2}, WithSignals(signals))
	seedPlan(t, st, "abc123", task("TASK-001"))

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Stopped {
		t.Error("report.Stopped = false")
	}
	if report.Dispatched != 0 {
		t.Errorf("Dispatched = %d, stop signal must hold back new work", report.Dispatched)
	}

	progress, _ := st.ReadProgress("abc123")
	if got := progress.Task("TASK-001").State; got != models.TaskStatePending {
		t.Errorf("state = %q, want still pending", got)
	}
}

func TestRun_DispatchTimeoutFailsTheTask(t *testing.T) {
	fake := &fakeDispatcher{block: true}
	d, st := testDriver(t, fake, Config{MaxAgents: 1, DispatchTimeout: 30 * time.Millisecond})
	seedPlan(t, st, "abc123", task("TASK-001"))

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("Failed = %v, want the timed-out task", report.Failed)
	}

	progress, _ := st.ReadProgress("abc123")
	tp := progress.Task("TASK-001")
	if tp.State != models.TaskStateInProgress {
		t.Errorf("state = %q, want in_progress", tp.State)
	}
	if !strings.Contains(tp.ErrorMessage, context.DeadlineExceeded.Error()) {
		t.Errorf("error_message = %q, want deadline exceeded", tp.ErrorMessage)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	fake := &fakeDispatcher{}
	d, st := testDriver(t, fake, Config{MaxAgents: 1})
	seedPlan(t, st, "abc123", task("TASK-001"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, "abc123")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRun_ResumesPartiallyCompletedPlan(t *testing.T) {
	fake := &fakeDispatcher{}
	d, st := testDriver(t, fake, Config{MaxAgents: 2})
	seedPlan(t, st, "abc123",
		task("TASK-001"),
		task("TASK-002", "TASK-001"),
	)

	for _, state := range []models.TaskState{models.TaskStateInProgress, models.TaskStateCompleted} {
		if _, err := st.UpdateTask("abc123", "TASK-001", store.UpdatePatch{State: state}); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
	}

	report, err := d.Run(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Completed) != 1 || report.Completed[0] != "TASK-002" {
		t.Errorf("Completed = %v, want only the remaining task", report.Completed)
	}
	if fake.dispatchIndex("TASK-001") != -1 {
		t.Error("already completed task was re-dispatched")
	}
}

func TestRun_MissingPlan(t *testing.T) {
	fake := &fakeDispatcher{}
	d, _ := testDriver(t, fake, Config{})

	_, err := d.Run(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Run error = %v, want ErrNotFound", err)
	}
}

func TestTaskPrompt(t *testing.T) {
	tk := task("TASK-007")
	tk.Description = "refactor the parser"
	prompt := taskPrompt(&tk)

	for _, want := range []string{"coder", "TASK-007", "refactor the parser", "task-007.go"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
