// Package driver runs a plan to completion by repeatedly dispatching
// eligible tasks to an external agent capability and folding the
// results back into the progress document.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gangworks/strawboss/internal/graph"
	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/pkg/models"
)

// Dispatcher executes one task through an external agent capability.
// The driver treats it as an opaque call: it sees success or failure,
// the agent's output, and the files the agent reports touching.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// DispatchRequest carries everything an agent needs to work one task.
type DispatchRequest struct {
	AgentName    string
	TaskID       string
	Prompt       string
	AllowedTools []string
}

// DispatchResult is the agent's bounded answer.
type DispatchResult struct {
	Success       bool
	Output        string
	FilesModified []string
}

// Config tunes one driver run.
type Config struct {
	// MaxAgents caps how many dispatches run at once.
	MaxAgents int
	// DispatchTimeout bounds each dispatch; zero means unbounded.
	// An agent that never answers would otherwise hold its task
	// in_progress forever.
	DispatchTimeout time.Duration
	// SpawnStagger spaces out parallel dispatch starts.
	SpawnStagger time.Duration
	// PollInterval is the idle wait between scheduling passes.
	PollInterval time.Duration
	// AllowedTools is passed through to every dispatch.
	AllowedTools []string
}

func (c Config) withDefaults() Config {
	if c.MaxAgents <= 0 {
		c.MaxAgents = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Report summarizes one run.
type Report struct {
	Identity   string
	Started    time.Time
	Duration   time.Duration
	Dispatched int
	Completed  []string
	Failed     []string
	Deadlocked bool
	Stopped    bool
	Errors     []error
}

// Driver coordinates scheduling, dispatch, and progress writes for
// one identity at a time.
type Driver struct {
	store      *store.Store
	dispatcher Dispatcher
	config     Config
	logger     *DebugLogger
	signals    *SignalWatcher

	newSessionID func() string
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger attaches a debug logger to the run loop.
func WithLogger(l *DebugLogger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithSignals lets an operator halt new dispatches externally.
func WithSignals(w *SignalWatcher) Option {
	return func(d *Driver) { d.signals = w }
}

// WithSessionIDs overrides agent session id generation.
func WithSessionIDs(fn func() string) Option {
	return func(d *Driver) { d.newSessionID = fn }
}

// New creates a driver over the given store and dispatcher.
func New(st *store.Store, dispatcher Dispatcher, cfg Config, opts ...Option) *Driver {
	d := &Driver{
		store:        st,
		dispatcher:   dispatcher,
		config:       cfg.withDefaults(),
		logger:       NopLogger(),
		newSessionID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// inflight tracks one dispatched task.
type inflight struct {
	taskID  string
	agent   string
	session string
	started time.Time
	cancel  context.CancelFunc
}

// completion is the outcome of one dispatch.
type completion struct {
	taskID string
	agent  string
	result *DispatchResult
	err    error
}

// Run drives the identity's plan until every task is completed, no
// further task can become eligible, or the context is cancelled.
//
// Failed dispatches do not abort the run: the task keeps its
// in_progress state with an error_message recorded, independent work
// continues, and the failure appears in the report. Run returns a
// non-nil error only for infrastructure failures, cancellation, or a
// dependency deadlock with no failed dispatch to explain it.
func (d *Driver) Run(ctx context.Context, identity string) (*Report, error) {
	report := &Report{Identity: identity, Started: time.Now()}
	defer func() { report.Duration = time.Since(report.Started) }()

	plan, err := d.store.ReadPlan(identity)
	if err != nil {
		return report, err
	}

	// Stable topological waves order the eligible set so earlier
	// plan stages dispatch first when capacity is tight.
	waves, err := graph.TopologicalOrder(plan.Tasks)
	if err != nil {
		return report, err
	}
	waveOf := graph.WaveIndex(waves)

	if _, err := d.store.InitializeProgress(identity, plan); err != nil {
		return report, err
	}

	inflightTasks := make(map[string]*inflight)
	failed := make(map[string]bool)
	completionCh := make(chan completion, d.config.MaxAgents)

	// The channel buffer holds every possible completion, so the
	// dispatch goroutines can always finish once cancelled.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer func() {
		for _, inf := range inflightTasks {
			inf.cancel()
		}
	}()

	d.logger.Log("[run] starting for %s: %d tasks in %d waves", identity, len(plan.Tasks), len(waves))

	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()

		case c := <-completionCh:
			if err := d.handleCompletion(identity, c, inflightTasks, failed, report); err != nil {
				return report, err
			}

		default:
			progress, err := d.store.ReadProgress(identity)
			if err != nil {
				return report, err
			}
			if progress.Done() {
				d.logger.Log("[run] all tasks completed for %s", identity)
				return report, nil
			}

			stopping := d.signals.ShouldStop()

			var ready []models.TaskProgress
			if !stopping {
				for _, tp := range graph.Eligible(progress.Tasks) {
					if _, ok := inflightTasks[tp.ID]; ok {
						continue
					}
					if failed[tp.ID] {
						continue
					}
					ready = append(ready, tp)
				}
				sort.Slice(ready, func(i, j int) bool {
					wi, wj := waveOf[ready[i].ID], waveOf[ready[j].ID]
					if wi != wj {
						return wi < wj
					}
					return ready[i].ID < ready[j].ID
				})
			}

			if len(ready) == 0 && len(inflightTasks) == 0 {
				return report, d.classifyHalt(identity, progress, failed, stopping, report)
			}

			if len(ready) == 0 || len(inflightTasks) >= d.config.MaxAgents {
				select {
				case <-ctx.Done():
					return report, ctx.Err()
				case c := <-completionCh:
					if err := d.handleCompletion(identity, c, inflightTasks, failed, report); err != nil {
						return report, err
					}
				case <-time.After(d.config.PollInterval):
				}
				continue
			}

			if err := d.spawn(ctx, identity, plan, ready, inflightTasks, failed, completionCh, &wg, report); err != nil {
				return report, err
			}
		}
	}
}

// classifyHalt decides how a run with no dispatchable work ends.
func (d *Driver) classifyHalt(identity string, progress *models.Progress, failed map[string]bool, stopping bool, report *Report) error {
	if stopping {
		d.logger.Log("[run] stop signal received, halting with work remaining")
		report.Stopped = true
		return nil
	}

	if len(failed) > 0 {
		// The failures already on the report explain the halt.
		d.logger.Log("[run] halting: %d failed dispatches block further progress", len(failed))
		return nil
	}

	var remaining []string
	for _, tp := range progress.Tasks {
		if !tp.State.Terminal() {
			remaining = append(remaining, tp.ID)
		}
	}
	sort.Strings(remaining)
	report.Deadlocked = true
	d.logger.Log("[run] DEADLOCK: %d tasks unfinished with nothing eligible", len(remaining))
	return &DeadlockError{Identity: identity, Remaining: remaining}
}

// spawn dispatches as many ready tasks as capacity allows.
func (d *Driver) spawn(ctx context.Context, identity string, plan *models.Plan, ready []models.TaskProgress, inflightTasks map[string]*inflight, failed map[string]bool, completionCh chan completion, wg *sync.WaitGroup, report *Report) error {
	capacity := d.config.MaxAgents - len(inflightTasks)
	spawned := 0
	for _, tp := range ready {
		if spawned >= capacity {
			break
		}

		if spawned > 0 && d.config.SpawnStagger > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.config.SpawnStagger):
			}
		}

		task := plan.Task(tp.ID)
		if task == nil {
			// A progress entry with no plan counterpart can never be
			// dispatched; record that instead of re-offering it forever.
			derr := &DispatchError{TaskID: tp.ID, Agent: tp.DesignatedAgent,
				Err: errors.New("task has no definition in the plan")}
			if _, err := d.store.UpdateTask(identity, tp.ID, store.UpdatePatch{
				ErrorMessage: derr.Error(),
			}); err != nil {
				return err
			}
			failed[tp.ID] = true
			report.Failed = append(report.Failed, tp.ID)
			report.Errors = append(report.Errors, derr)
			continue
		}

		session := d.newSessionID()
		if _, err := d.store.UpdateTask(identity, task.ID, store.UpdatePatch{
			State:          models.TaskStateInProgress,
			AgentSessionID: session,
		}); err != nil {
			var terr *store.IllegalTransitionError
			if errors.As(err, &terr) {
				// Someone else started it between our read and write.
				d.logger.Log("[run] skipping %s: %v", task.ID, err)
				continue
			}
			return err
		}

		var taskCtx context.Context
		var cancel context.CancelFunc
		if d.config.DispatchTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, d.config.DispatchTimeout)
		} else {
			taskCtx, cancel = context.WithCancel(ctx)
		}

		inflightTasks[task.ID] = &inflight{
			taskID:  task.ID,
			agent:   task.DesignatedAgent,
			session: session,
			started: time.Now(),
			cancel:  cancel,
		}
		report.Dispatched++
		d.logger.Log("[run] dispatching %s to agent %s (session %s)", task.ID, task.DesignatedAgent, session)

		req := DispatchRequest{
			AgentName:    task.DesignatedAgent,
			TaskID:       task.ID,
			Prompt:       taskPrompt(task),
			AllowedTools: d.config.AllowedTools,
		}

		wg.Add(1)
		go func(id, agent string) {
			defer wg.Done()
			result, err := d.dispatcher.Dispatch(taskCtx, req)
			completionCh <- completion{taskID: id, agent: agent, result: result, err: err}
		}(task.ID, task.DesignatedAgent)
		spawned++
	}
	return nil
}

// handleCompletion folds one dispatch outcome into the progress
// document and the report.
func (d *Driver) handleCompletion(identity string, c completion, inflightTasks map[string]*inflight, failed map[string]bool, report *Report) error {
	if inf, ok := inflightTasks[c.taskID]; ok {
		inf.cancel()
		delete(inflightTasks, c.taskID)
	}

	if c.err == nil && c.result != nil && c.result.Success {
		if _, err := d.store.UpdateTask(identity, c.taskID, store.UpdatePatch{
			State:         models.TaskStateCompleted,
			FilesModified: c.result.FilesModified,
			Summary:       c.result.Output,
		}); err != nil {
			return err
		}
		report.Completed = append(report.Completed, c.taskID)
		d.logger.Log("[run] task %s completed (%d files)", c.taskID, len(c.result.FilesModified))
		return nil
	}

	dispatchErr := c.err
	if dispatchErr == nil {
		dispatchErr = errors.New(failureReason(c.result))
	}
	derr := &DispatchError{TaskID: c.taskID, Agent: c.agent, Err: dispatchErr}

	// The task stays in_progress; only the failure is recorded so a
	// retry layer can act on it.
	if _, err := d.store.UpdateTask(identity, c.taskID, store.UpdatePatch{
		ErrorMessage: derr.Error(),
	}); err != nil {
		return err
	}

	failed[c.taskID] = true
	report.Failed = append(report.Failed, c.taskID)
	report.Errors = append(report.Errors, derr)
	d.logger.Log("[run] task %s dispatch failed: %v", c.taskID, dispatchErr)
	return nil
}

// failureReason extracts a short explanation from a failed result.
func failureReason(result *DispatchResult) string {
	if result == nil || strings.TrimSpace(result.Output) == "" {
		return "agent reported failure with no output"
	}
	line := strings.TrimSpace(result.Output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return line
}

// taskPrompt renders the dispatch prompt from the task's declared
// description and file-modification intent.
func taskPrompt(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent working one task from a shared plan.\n\n", t.DesignatedAgent)
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Description)
	if len(t.FilesToModify) > 0 {
		b.WriteString("\nFiles you are expected to modify:\n")
		for _, f := range t.FilesToModify {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	b.WriteString("\nWork only this task. When finished, summarize what you did and list the files you actually modified.\n")
	return b.String()
}
