package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/driver"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running driver to halt after in-flight work",
	Long: `Drop a stop signal for the driver watching this state directory.

The running 'strawboss run' stops dispatching new tasks, lets in-flight
dispatches finish, records their outcomes, and exits. Progress documents
are left consistent, so a later run resumes where this one stopped.

The signal clears automatically when the next run starts.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	watcher, err := driver.NewSignalWatcher(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening signals directory: %w", err)
	}
	defer watcher.Close()

	if err := watcher.SendStop(); err != nil {
		return fmt.Errorf("writing stop signal: %w", err)
	}

	fmt.Println("Stop signal sent. The driver will halt after in-flight dispatches finish.")
	return nil
}
