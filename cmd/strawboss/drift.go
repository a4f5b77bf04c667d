package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/config"
	"github.com/gangworks/strawboss/internal/reconcile"
)

var driftStrict bool

var driftCmd = &cobra.Command{
	Use:   "drift [identity]",
	Short: "Compare declared file intent against recorded reality",
	Long: `Compare each started task's declared files_to_modify against the
files its agent actually reported touching.

Extra files are modifications the plan never declared; missing files
were declared but never touched. Extra files landing in protected areas
(auth, migrations, secrets, and anything added under protected_areas in
.strawboss.yaml) are called out separately and fail the command.

The comparison is read-only: no state changes, ever. Use --strict to
fail on any drift, not just protected-area hits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDrift,
}

func init() {
	driftCmd.Flags().BoolVar(&driftStrict, "strict", false, "Exit nonzero on any drift, not only protected hits")
}

func runDrift(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	identity := resolveIdentity(args)

	st := openStore(cfg)
	plan, err := st.ReadPlan(identity)
	if err != nil {
		return err
	}
	progress, err := st.ReadProgress(identity)
	if err != nil {
		return err
	}

	policy := reconcile.NewPolicy()
	if path := config.GetProjectConfigPath(); path != "" {
		if err := policy.LoadConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: protected_areas in %s ignored: %v\n", path, err)
		}
	}

	diff := reconcile.CompareWithPolicy(plan, progress, policy)

	if len(diff.Tasks) == 0 {
		fmt.Printf("No tasks have started for %s; nothing to compare.\n", identity)
		return nil
	}

	protectedHits := 0
	for _, td := range diff.Tasks {
		if td.Clean() {
			fmt.Printf("  %s %s  clean\n", completedStyle.Render("✓"), td.TaskID)
			continue
		}
		fmt.Printf("  %s %s\n", inProgressStyle.Render("!"), td.TaskID)
		for _, f := range td.ExtraFiles {
			fmt.Printf("      extra:   %s\n", f)
		}
		for _, f := range td.MissingFiles {
			fmt.Printf("      missing: %s\n", f)
		}
		for _, f := range td.ProtectedHits {
			protectedHits++
			if ok, reason := policy.Protected(f); ok {
				fmt.Printf("      %s\n", errorStyle.Render(fmt.Sprintf("PROTECTED: %s (%s)", f, reason)))
			} else {
				fmt.Printf("      %s\n", errorStyle.Render("PROTECTED: "+f))
			}
		}
	}

	switch {
	case protectedHits > 0:
		return fmt.Errorf("%d undeclared modification(s) in protected areas", protectedHits)
	case diff.DriftDetected && driftStrict:
		return fmt.Errorf("drift detected")
	case diff.DriftDetected:
		fmt.Println("\nDrift detected; no protected areas touched.")
	default:
		fmt.Println("\nNo drift.")
	}
	return nil
}
