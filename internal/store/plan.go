package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gangworks/strawboss/internal/graph"
	"github.com/gangworks/strawboss/pkg/models"
)

// taskIDPattern is the required id shape: TASK- followed by a
// zero-padded sequence number.
var taskIDPattern = regexp.MustCompile(`^TASK-\d{3,}$`)

// CreatePlan validates the task breakdown and persists it for the
// identity. On first creation the matching progress document is
// initialized in the same locked section, so a rejected plan persists
// nothing at all. When a plan already exists the call is a re-plan:
// the breakdown is replaced, never duplicated, and progress state for
// reused task ids is carried forward unchanged.
func (s *Store) CreatePlan(identity, description, synopsis string, tasks []models.Task) (*models.Plan, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	var plan *models.Plan
	err := s.locks.WithLock(identity, func() error {
		return s.withFileLock(identity, func() error {
			existing := new(models.Plan)
			err := s.readJSON(identity, s.PlanPath(identity), existing)
			switch {
			case errors.Is(err, ErrNotFound):
				plan = &models.Plan{
					TaskDescription: description,
					Synopsis:        synopsis,
					CreatedAt:       s.now().UTC(),
					GitCommitHash:   identity,
					Tasks:           tasks,
				}
				if err := s.writeJSON(s.PlanPath(identity), plan); err != nil {
					return err
				}
				s.debugLog("[store] created plan for %s with %d tasks", identity, len(tasks))
				return s.writeJSON(s.ProgressPath(identity), s.freshProgress(identity, plan))
			case err != nil:
				return err
			default:
				updated, mergeErr := s.replan(identity, existing, description, synopsis, tasks)
				if mergeErr != nil {
					return mergeErr
				}
				plan = updated
				return nil
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ReadPlan loads the identity's plan document.
func (s *Store) ReadPlan(identity string) (*models.Plan, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	plan := new(models.Plan)
	if err := s.readJSON(identity, s.PlanPath(identity), plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// replan rewrites the plan with the new breakdown and rebuilds the
// progress document around it: reused ids keep their execution state
// (state, session, files, summary, error, timestamps) while their
// definition follows the new plan; new ids join as pending; dropped
// ids leave the document.
func (s *Store) replan(identity string, existing *models.Plan, description, synopsis string, tasks []models.Task) (*models.Plan, error) {
	updated := &models.Plan{
		TaskDescription: description,
		Synopsis:        synopsis,
		CreatedAt:       existing.CreatedAt,
		GitCommitHash:   identity,
		Tasks:           tasks,
	}

	merged := s.freshProgress(identity, updated)

	current := new(models.Progress)
	err := s.readJSON(identity, s.ProgressPath(identity), current)
	switch {
	case errors.Is(err, ErrNotFound):
		// No progress to carry; the rebuilt document stands alone.
	case err != nil:
		return nil, err
	default:
		merged.CreatedAt = current.CreatedAt
		for i := range merged.Tasks {
			old := current.Task(merged.Tasks[i].ID)
			if old == nil {
				continue
			}
			merged.Tasks[i].State = old.State
			merged.Tasks[i].AgentSessionID = old.AgentSessionID
			merged.Tasks[i].FilesModified = old.FilesModified
			merged.Tasks[i].Summary = old.Summary
			merged.Tasks[i].ErrorMessage = old.ErrorMessage
			merged.Tasks[i].StartedAt = old.StartedAt
			merged.Tasks[i].CompletedAt = old.CompletedAt
		}
	}

	if err := s.writeJSON(s.PlanPath(identity), updated); err != nil {
		return nil, err
	}
	if err := s.writeJSON(s.ProgressPath(identity), merged); err != nil {
		return nil, err
	}
	s.debugLog("[store] re-planned %s: %d tasks", identity, len(tasks))
	return updated, nil
}

// freshProgress builds the initial progress document for a plan: one
// pending entry per task.
func (s *Store) freshProgress(identity string, plan *models.Plan) *models.Progress {
	now := s.now().UTC()
	progress := &models.Progress{
		PlanFile:      planFileName(identity),
		CreatedAt:     now,
		LastUpdated:   now,
		GitCommitHash: identity,
		Tasks:         make([]models.TaskProgress, len(plan.Tasks)),
	}
	for i := range plan.Tasks {
		progress.Tasks[i] = models.TaskProgress{
			Task:  plan.Tasks[i],
			State: models.TaskStatePending,
		}
	}
	return progress
}

// validateTasks rejects a breakdown before anything touches disk:
// ids must match TASK-NNN and be unique, dependencies must resolve
// within the plan, and the dependency relation must be acyclic.
func validateTasks(tasks []models.Task) error {
	if len(tasks) == 0 {
		return &ValidationError{Message: "plan must contain at least one task"}
	}
	for i := range tasks {
		if !taskIDPattern.MatchString(tasks[i].ID) {
			return &ValidationError{Message: fmt.Sprintf("task id %q does not match TASK-NNN", tasks[i].ID)}
		}
	}
	if err := graph.ValidateDependencies(tasks); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if cycle := graph.DetectCycle(tasks); cycle != nil {
		return &ValidationError{
			Message: "circular dependency detected: " + strings.Join(cycle, " -> "),
			Cycle:   cycle,
		}
	}
	return nil
}
