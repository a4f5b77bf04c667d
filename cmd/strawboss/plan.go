package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/internal/taskfile"
)

var (
	planFile        string
	planDescription string
	planSynopsis    string
)

var planCmd = &cobra.Command{
	Use:   "plan [identity]",
	Short: "Create or revise a plan from a task file",
	Long: `Create a plan for an identity from a YAML task file, or revise the
existing one.

The identity defaults to the current git commit. The task file declares
the breakdown:

  description: Add rate limiting to the public API
  tasks:
    - id: TASK-001
      agent: architect
      description: Sketch the middleware interfaces
      files: [internal/ratelimit/limiter.go]
    - agent: coder
      description: Implement the token bucket
      depends_on: [TASK-001]

Task ids may be omitted; missing ones are numbered positionally. The
breakdown is validated before anything is written: dependency cycles,
references to unknown tasks, and duplicate ids are all rejected.

Revising an existing plan keeps the recorded progress for every task id
that survives the revision; dropped tasks disappear, new tasks start
pending.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "tasks.yaml", "Task file to load")
	planCmd.Flags().StringVar(&planDescription, "description", "", "Override the task file's description")
	planCmd.Flags().StringVar(&planSynopsis, "synopsis", "", "Override the task file's synopsis")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	identity := resolveIdentity(args)

	f, err := taskfile.Load(planFile)
	if err != nil {
		return err
	}

	description := planDescription
	if description == "" {
		description = f.Description
	}
	synopsis := planSynopsis
	if synopsis == "" {
		synopsis = f.Synopsis
	}

	st := openStore(cfg)

	revising := false
	if _, err := st.ReadPlan(identity); err == nil {
		revising = true
	}

	plan, err := st.CreatePlan(identity, description, synopsis, f.Tasks())
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) && len(verr.Cycle) > 0 {
			return fmt.Errorf("task file rejected: dependency cycle %s",
				strings.Join(verr.Cycle, " -> "))
		}
		return err
	}

	verb := "Created"
	if revising {
		verb = "Revised"
	}
	fmt.Printf("%s plan for %s: %d tasks\n\n", verb, identity, len(plan.Tasks))
	for _, t := range plan.Tasks {
		line := fmt.Sprintf("  %s  [%s]  %s", t.ID, t.DesignatedAgent, t.Description)
		if len(t.Dependencies) > 0 {
			line += fmt.Sprintf("  (after %s)", strings.Join(t.Dependencies, ", "))
		}
		fmt.Println(line)
	}
	fmt.Printf("\nRun it with: strawboss run %s\n", identity)

	return nil
}
