package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/config"
	"github.com/gangworks/strawboss/internal/ops"
	"github.com/gangworks/strawboss/internal/reconcile"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Serve store operations as JSON lines on stdin/stdout",
	Long: `Serve the plan and progress store over a line-oriented JSON protocol.

Each input line is a request:

  {"id": "1", "op": "create_plan", "params": {"identity": "abc123", ...}}

and each output line the matching response:

  {"id": "1", "ok": true, "result": {...}}
  {"id": "2", "ok": false, "error": {"code": "ILLEGAL_TRANSITION", ...}}

This is how agent harnesses in other languages drive strawboss without
shelling out per call. Operations: create_plan, read_plan,
read_progress, initialize_progress, update_progress,
compare_plan_progress, eligible_tasks.

Error codes are stable: VALIDATION, TASK_NOT_FOUND, ILLEGAL_TRANSITION,
CORRUPTED_STATE, NOT_FOUND, DISPATCH_FAILURE, BAD_REQUEST, INTERNAL.`,
	Args: cobra.NoArgs,
	RunE: runOps,
}

func runOps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := reconcile.NewPolicy()
	if path := config.GetProjectConfigPath(); path != "" {
		if err := policy.LoadConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: protected_areas in %s ignored: %v\n", path, err)
		}
	}

	reg := ops.NewStoreRegistry(openStore(cfg), policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	return ops.Serve(ctx, reg, os.Stdin, os.Stdout)
}
