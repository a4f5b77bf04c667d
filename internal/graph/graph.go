// Package graph evaluates task dependency graphs. It is the single
// source of truth for eligibility, cycle detection, and topological
// ordering; callers must not infer any of these by other means.
//
// Every function here is pure: no I/O, no retained state.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gangworks/strawboss/pkg/models"
)

// ErrCycleDetected is returned when the dependency graph contains a cycle.
var ErrCycleDetected = errors.New("circular dependency detected")

// Eligible returns every task whose state is pending and whose
// dependencies have all completed. Tasks naming a dependency that is
// absent from the document are never eligible.
func Eligible(tasks []models.TaskProgress) []models.TaskProgress {
	states := make(map[string]models.TaskState, len(tasks))
	for i := range tasks {
		states[tasks[i].ID] = tasks[i].State
	}

	var eligible []models.TaskProgress
	for i := range tasks {
		if tasks[i].State != models.TaskStatePending {
			continue
		}
		ready := true
		for _, dep := range tasks[i].Dependencies {
			if states[dep] != models.TaskStateCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, tasks[i])
		}
	}
	return eligible
}

// ValidateDependencies checks that task IDs are unique and that every
// dependency references a task present in the same set.
func ValidateDependencies(tasks []models.Task) error {
	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		if _, dup := seen[tasks[i].ID]; dup {
			return fmt.Errorf("duplicate task id %s", tasks[i].ID)
		}
		seen[tasks[i].ID] = struct{}{}
	}

	for i := range tasks {
		for _, dep := range tasks[i].Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", tasks[i].ID, dep)
			}
		}
	}
	return nil
}

// DetectCycle performs a depth-first traversal over the dependency
// graph and returns the first cycle found as an ordered id path, with
// the entry id repeated at the end to close the loop
// (e.g. [TASK-001 TASK-002 TASK-001]). It returns nil when the graph
// is acyclic. Dependencies on unknown ids are ignored here; they are
// ValidateDependencies' concern.
func DetectCycle(tasks []models.Task) []string {
	deps := make(map[string][]string, len(tasks))
	for i := range tasks {
		deps[tasks[i].ID] = tasks[i].Dependencies
	}

	visited := make(map[string]bool, len(tasks))
	inStack := make(map[string]bool, len(tasks))

	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		path = append(path, id)

		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			if inStack[dep] {
				// Cut the path down to the loop and close it.
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			}
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			}
		}

		inStack[id] = false
		path = path[:len(path)-1]
		return false
	}

	for i := range tasks {
		if !visited[tasks[i].ID] {
			if visit(tasks[i].ID) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder sorts the tasks into dependency waves using Kahn's
// algorithm: wave 0 holds tasks with no dependencies, wave N tasks
// whose dependencies all sit in earlier waves. IDs within a wave are
// sorted for a stable order. Returns ErrCycleDetected (wrapped, naming
// the residual ids) when the graph is cyclic.
func TopologicalOrder(tasks []models.Task) ([][]string, error) {
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for i := range tasks {
		inDegree[tasks[i].ID] = 0
	}
	for i := range tasks {
		for _, dep := range tasks[i].Dependencies {
			if _, known := inDegree[dep]; !known {
				return nil, fmt.Errorf("task %s depends on unknown task %s", tasks[i].ID, dep)
			}
			inDegree[tasks[i].ID]++
			dependents[dep] = append(dependents[dep], tasks[i].ID)
		}
	}

	var current []string
	for id, deg := range inDegree {
		if deg == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	var waves [][]string
	placed := 0

	for len(current) > 0 {
		waves = append(waves, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if placed != len(tasks) {
		var residual []string
		for id, deg := range inDegree {
			if deg > 0 {
				residual = append(residual, id)
			}
		}
		sort.Strings(residual)
		return nil, fmt.Errorf("%w among tasks %v", ErrCycleDetected, residual)
	}

	return waves, nil
}

// WaveIndex flattens topological waves into an id -> wave-number map,
// used to order dispatch candidates without re-deriving graph state.
func WaveIndex(waves [][]string) map[string]int {
	index := make(map[string]int)
	for w, wave := range waves {
		for _, id := range wave {
			index[id] = w
		}
	}
	return index
}
