package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/agent"
	"github.com/gangworks/strawboss/internal/config"
	"github.com/gangworks/strawboss/internal/driver"
	"github.com/gangworks/strawboss/internal/history"
	"github.com/gangworks/strawboss/internal/store"
)

var (
	runMaxAgents       int
	runDispatchTimeout time.Duration
	runMode            string
	runAgentCommand    string
	runModel           string
	runAllowedTools    []string
	runNoHistory       bool
)

var runCmd = &cobra.Command{
	Use:   "run [identity]",
	Short: "Drive a plan to completion with parallel agents",
	Long: `Drive the identity's plan by dispatching eligible tasks to agents.

Tasks become eligible when all their dependencies have completed. Up to
--max-agents tasks run at once, earlier plan stages first. A failed
dispatch does not abort the run: the task keeps its error recorded
while independent work continues, and the run ends once nothing more
can proceed.

The identity defaults to the current git commit. Interrupting with
Ctrl-C cancels in-flight dispatches; 'strawboss stop' from another
terminal lets running dispatches finish and only blocks new ones.

Dispatch modes (agent.mode in config, or --mode):
  command  Spawn the agent CLI per task (default)
  api      Call the Anthropic Messages API directly`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Max concurrent dispatches (overrides config)")
	runCmd.Flags().DurationVar(&runDispatchTimeout, "dispatch-timeout", 0, "Per-dispatch timeout (overrides config)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Dispatch mode: command or api (overrides config)")
	runCmd.Flags().StringVar(&runAgentCommand, "agent-command", "", "Agent binary for command mode (overrides config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model passed to the agent (overrides config)")
	runCmd.Flags().StringSliceVar(&runAllowedTools, "allowed-tools", nil, "Tools the agent may use (overrides config)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Skip recording this run in the history database")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("max-agents") {
		cfg.MaxAgents = runMaxAgents
	}
	if cmd.Flags().Changed("dispatch-timeout") {
		cfg.DispatchTimeout = runDispatchTimeout
	}
	if cmd.Flags().Changed("mode") {
		cfg.Agent.Mode = runMode
	}
	if cmd.Flags().Changed("agent-command") {
		cfg.Agent.Command = runAgentCommand
	}
	if cmd.Flags().Changed("model") {
		cfg.API.Model = runModel
	}
	if cmd.Flags().Changed("allowed-tools") {
		cfg.Agent.AllowedTools = runAllowedTools
	}

	identity := resolveIdentity(args)

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}

	logger := driver.NewDebugLoggerForState(cfg.StateDir)
	defer logger.Close()

	st := openStore(cfg, store.WithDebugLog(logger.Log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	watcher, err := driver.NewSignalWatcher(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("setting up signal watcher: %w", err)
	}
	defer watcher.Close()
	// A stop left over from a previous run must not halt this one.
	watcher.ClearSignals()

	var rec *history.Recorder
	var runID string
	if cfg.History.Enabled && !runNoHistory {
		rec, err = history.Open(history.DBPath(cfg.StateDir))
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer rec.Close()

		runID, err = rec.BeginRun(identity)
		if err != nil {
			return fmt.Errorf("recording run start: %w", err)
		}
		dispatcher = &history.RecordingDispatcher{Inner: dispatcher, Rec: rec, RunID: runID}
	}

	drv := driver.New(st, dispatcher, driver.Config{
		MaxAgents:       cfg.MaxAgents,
		DispatchTimeout: cfg.DispatchTimeout,
		SpawnStagger:    cfg.SpawnStagger,
		PollInterval:    cfg.PollInterval,
		AllowedTools:    cfg.Agent.AllowedTools,
	}, driver.WithLogger(logger), driver.WithSignals(watcher))

	fmt.Printf("Driving plan %s (max %d agents, %s mode)\n", identity, cfg.MaxAgents, cfg.Agent.Mode)

	report, runErr := drv.Run(ctx, identity)

	if rec != nil {
		outcome := history.OutcomeForReport(report, runErr)
		if err := rec.FinishRun(runID, outcome, report.Dispatched, len(report.Completed), len(report.Failed)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: recording run outcome: %v\n", err)
		}
	}

	printReport(report)

	var deadlock *driver.DeadlockError
	switch {
	case errors.As(runErr, &deadlock):
		return fmt.Errorf("deadlocked with %d tasks unreachable: %s",
			len(deadlock.Remaining), strings.Join(deadlock.Remaining, ", "))
	case runErr != nil:
		return runErr
	case len(report.Failed) > 0:
		return fmt.Errorf("%d dispatch(es) failed; fix and re-run to continue", len(report.Failed))
	}
	return nil
}

// buildDispatcher constructs the configured agent dispatcher.
func buildDispatcher(cfg *config.Config) (driver.Dispatcher, error) {
	switch cfg.Agent.Mode {
	case "", "command":
		if err := CheckAgentCLI(cfg.Agent.Command); err != nil {
			return nil, err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		return &agent.CommandDispatcher{
			Command: cfg.Agent.Command,
			Model:   cfg.API.Model,
			WorkDir: cwd,
		}, nil

	case "api":
		var apiKey string
		if !cfg.API.UseAWSBedrock {
			key, err := config.ResolveAPIKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("agent mode is api: %w (set api.api_key or ANTHROPIC_API_KEY)", err)
			}
			apiKey = key
		}
		return agent.NewAPIDispatcher(agent.APIConfig{
			Model:      cfg.API.Model,
			APIKey:     apiKey,
			UseBedrock: cfg.API.UseAWSBedrock,
			AWSRegion:  cfg.API.AWSRegion,
			AWSProfile: cfg.API.AWSProfile,
		})

	default:
		return nil, fmt.Errorf("unknown agent mode %q: must be command or api", cfg.Agent.Mode)
	}
}

func printReport(report *driver.Report) {
	fmt.Println()
	switch {
	case report.Stopped:
		fmt.Println("Run stopped by signal; remaining tasks are untouched.")
	case report.Deadlocked:
		fmt.Println("Run halted: remaining tasks can never become eligible.")
	case len(report.Failed) > 0:
		fmt.Println("Run finished with failures.")
	default:
		fmt.Println("Run complete.")
	}

	fmt.Printf("  Dispatched: %d\n", report.Dispatched)
	fmt.Printf("  Completed:  %d\n", len(report.Completed))
	if len(report.Failed) > 0 {
		fmt.Printf("  Failed:     %d (%s)\n", len(report.Failed), strings.Join(report.Failed, ", "))
	}
	fmt.Printf("  Duration:   %s\n", report.Duration.Round(time.Millisecond))

	for _, err := range report.Errors {
		fmt.Printf("  - %v\n", err)
	}
}
