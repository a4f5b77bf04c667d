package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/config"
	"github.com/gangworks/strawboss/internal/identity"
	"github.com/gangworks/strawboss/internal/store"
)

var cfgFile string

// CheckAgentCLI verifies that the configured agent command is available
// in PATH. Returns an error with installation instructions if not found.
func CheckAgentCLI(command string) error {
	_, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("agent command %q not found in PATH\n\n"+
			"strawboss dispatches tasks to a coding agent CLI.\n\n"+
			"For the default (claude), install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"Or point agent.command in .strawboss.yaml at another agent binary.", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "strawboss",
	Short: "Plan & progress orchestration for multi-agent development",
	Long: `strawboss keeps a durable plan and progress record for multi-agent
software work and drives the plan to completion.

A plan is an immutable task breakdown with dependencies; progress is the
mutable execution state paired with it. Both are plain JSON documents
under the state directory, so any process can inspect them.

Core capabilities:
- Validates task breakdowns (cycles, dangling references) before writing
- Tracks the pending -> in_progress -> completed lifecycle per task
- Dispatches eligible tasks to agents in parallel, dependency-ordered
- Re-plans without losing completed or in-flight work
- Reconciles declared file intent against what agents actually touched`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (skips the usual discovery)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Load()
}

// openStore builds the document store for the configured state directory.
func openStore(cfg *config.Config, extra ...store.Option) *store.Store {
	var opts []store.Option
	if cfg.CrossProcessLock {
		opts = append(opts, store.WithFileLocking())
	}
	opts = append(opts, extra...)
	return store.New(cfg.StateDir, opts...)
}

// resolveIdentity picks the plan identity: an explicit argument wins,
// otherwise the current git commit keys the plan to the code state it
// was drawn up against. Outside version control a no-commit token is
// generated so documents stay locatable; plan prints whichever identity
// it stored under.
func resolveIdentity(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return identity.NewGitProvider("").Identity()
}
