// Package reconcile compares a plan's declared file-modification
// intent against the reality recorded in the progress document.
package reconcile

import (
	"sort"

	"github.com/gangworks/strawboss/pkg/models"
)

// TaskDiff is the per-task discrepancy between declared and recorded
// file modifications.
type TaskDiff struct {
	TaskID        string           `json:"task_id"`
	State         models.TaskState `json:"state"`
	ExtraFiles    []string         `json:"extra_files,omitempty"`
	MissingFiles  []string         `json:"missing_files,omitempty"`
	ProtectedHits []string         `json:"protected_hits,omitempty"`
}

// Clean reports whether the task shows no drift.
func (d TaskDiff) Clean() bool {
	return len(d.ExtraFiles) == 0 && len(d.MissingFiles) == 0
}

// Diff is the result of comparing one plan/progress pair.
type Diff struct {
	Tasks         []TaskDiff `json:"tasks"`
	DriftDetected bool       `json:"drift_detected"`
}

// Compare reports, for every task that has started work, which
// recorded modifications were never declared (extra) and which
// declared files were never touched (missing). Pending tasks have no
// recorded reality and are skipped. Compare never mutates either
// document and never changes task state.
func Compare(plan *models.Plan, progress *models.Progress) *Diff {
	return CompareWithPolicy(plan, progress, nil)
}

// CompareWithPolicy additionally marks extra files that land in
// protected areas. A nil policy disables the check.
func CompareWithPolicy(plan *models.Plan, progress *models.Progress, policy *Policy) *Diff {
	diff := &Diff{}
	for _, declared := range plan.Tasks {
		tp := progress.Task(declared.ID)
		if tp == nil || tp.State == models.TaskStatePending {
			continue
		}

		td := TaskDiff{
			TaskID:       declared.ID,
			State:        tp.State,
			ExtraFiles:   subtract(tp.FilesModified, declared.FilesToModify),
			MissingFiles: subtract(declared.FilesToModify, tp.FilesModified),
		}
		if policy != nil {
			for _, f := range td.ExtraFiles {
				if ok, _ := policy.Protected(f); ok {
					td.ProtectedHits = append(td.ProtectedHits, f)
				}
			}
		}

		if !td.Clean() {
			diff.DriftDetected = true
		}
		diff.Tasks = append(diff.Tasks, td)
	}
	return diff
}

// subtract returns the members of a not present in b, deduplicated
// and sorted for stable output.
func subtract(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	have := make(map[string]struct{}, len(b))
	for _, f := range b {
		have[f] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	var out []string
	for _, f := range a {
		if _, ok := have[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
