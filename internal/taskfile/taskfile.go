// Package taskfile loads plan task breakdowns from YAML files, the
// hand-authored alternative to having an agent draft the plan.
package taskfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gangworks/strawboss/pkg/models"
)

// DefaultAgent is assigned to entries that do not name one.
const DefaultAgent = "coder"

// File is the on-disk YAML shape.
type File struct {
	Description string  `yaml:"description"`
	Synopsis    string  `yaml:"synopsis"`
	Entries     []Entry `yaml:"tasks"`
}

// Entry is one task in the file. The id may be omitted; missing ids
// are assigned positionally as TASK-001, TASK-002, ... skipping any
// id an earlier entry claimed explicitly.
type Entry struct {
	ID          string   `yaml:"id"`
	Agent       string   `yaml:"agent"`
	Description string   `yaml:"description"`
	Files       []string `yaml:"files"`
	DependsOn   []string `yaml:"depends_on"`
}

// Load reads and decodes a task file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes task file bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("task file declares no tasks")
	}
	return &f, nil
}

// Tasks converts the file entries into plan tasks, filling in
// positional ids and the default agent where omitted.
func (f *File) Tasks() []models.Task {
	used := make(map[string]struct{}, len(f.Entries))
	for _, e := range f.Entries {
		if e.ID != "" {
			used[e.ID] = struct{}{}
		}
	}

	tasks := make([]models.Task, 0, len(f.Entries))
	next := 1
	for _, e := range f.Entries {
		id := e.ID
		if id == "" {
			for {
				candidate := fmt.Sprintf("TASK-%03d", next)
				next++
				if _, taken := used[candidate]; !taken {
					id = candidate
					used[id] = struct{}{}
					break
				}
			}
		}

		agent := e.Agent
		if agent == "" {
			agent = DefaultAgent
		}

		tasks = append(tasks, models.Task{
			ID:              id,
			DesignatedAgent: agent,
			Description:     e.Description,
			FilesToModify:   e.Files,
			Dependencies:    e.DependsOn,
		})
	}
	return tasks
}
