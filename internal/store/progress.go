package store

import (
	"errors"

	"github.com/gangworks/strawboss/pkg/models"
)

// UpdatePatch describes one mutation of a task's progress entry.
//
// A patch with State set requests a state-machine transition and is
// rejected unless the move is legal. A patch with State empty updates
// metadata only, which is how a dispatch failure records its error
// message while the task stays in_progress.
type UpdatePatch struct {
	State          models.TaskState
	AgentSessionID string
	FilesModified  []string
	Summary        string
	ErrorMessage   string
}

// InitializeProgress creates the identity's progress document from a
// plan, every task pending. If a progress document already exists it is
// returned untouched; a corrupted one surfaces as CorruptedError rather
// than being replaced.
func (s *Store) InitializeProgress(identity string, plan *models.Plan) (*models.Progress, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	var result *models.Progress
	err := s.locks.WithLock(identity, func() error {
		return s.withFileLock(identity, func() error {
			existing := new(models.Progress)
			err := s.readJSON(identity, s.ProgressPath(identity), existing)
			switch {
			case err == nil:
				result = existing
				return nil
			case errors.Is(err, ErrNotFound):
				result = s.freshProgress(identity, plan)
				return s.writeJSON(s.ProgressPath(identity), result)
			default:
				return err
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTask applies one patch to one task under the identity's lock:
// load the full document, mutate the entry, write the document back
// atomically. Illegal transitions and unknown ids reject without
// touching the file.
func (s *Store) UpdateTask(identity, taskID string, patch UpdatePatch) (*models.Progress, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	var result *models.Progress
	err := s.locks.WithLock(identity, func() error {
		return s.withFileLock(identity, func() error {
			doc := new(models.Progress)
			if err := s.readJSON(identity, s.ProgressPath(identity), doc); err != nil {
				return err
			}

			tp := doc.Task(taskID)
			if tp == nil {
				return &TaskNotFoundError{Identity: identity, TaskID: taskID}
			}

			if patch.State != "" {
				if !tp.State.CanTransitionTo(patch.State) {
					return &IllegalTransitionError{TaskID: taskID, From: tp.State, To: patch.State}
				}
				now := s.now().UTC()
				tp.State = patch.State
				switch patch.State {
				case models.TaskStateInProgress:
					tp.StartedAt = &now
				case models.TaskStateCompleted:
					tp.CompletedAt = &now
				}
			}

			if patch.AgentSessionID != "" {
				tp.AgentSessionID = patch.AgentSessionID
			}
			if patch.FilesModified != nil {
				tp.FilesModified = patch.FilesModified
			}
			if patch.Summary != "" {
				tp.Summary = patch.Summary
			}
			if patch.ErrorMessage != "" {
				tp.ErrorMessage = patch.ErrorMessage
			}

			doc.LastUpdated = s.now().UTC()
			if err := s.writeJSON(s.ProgressPath(identity), doc); err != nil {
				return err
			}

			s.debugLog("[store] updated %s/%s: state=%s", identity, taskID, tp.State)
			result = doc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadProgress loads the identity's progress document. The read runs
// under the identity lock so it always observes a settled document,
// never one mid-mutation.
func (s *Store) ReadProgress(identity string) (*models.Progress, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	var result *models.Progress
	err := s.locks.WithLock(identity, func() error {
		doc := new(models.Progress)
		if err := s.readJSON(identity, s.ProgressPath(identity), doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
