package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/history"
	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/pkg/models"
)

var statusHistory bool

var (
	identityStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")) // Green

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // Gray

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var statusCmd = &cobra.Command{
	Use:   "status [identity]",
	Short: "Show plan progress",
	Long: `Display the recorded progress for an identity's plan.

Shows each task's state, the agent session working it, recorded file
modifications, and any dispatch errors. Without an identity argument,
lists every plan in the state directory with a progress summary.

Use --history to also show recent runs from the history database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "Show recent runs from the history database")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st := openStore(cfg)

	if len(args) == 0 {
		if err := listPlans(st, cfg.StateDir); err != nil {
			return err
		}
	} else {
		if err := showIdentity(st, args[0]); err != nil {
			return err
		}
	}

	if statusHistory {
		fmt.Println()
		return showRecentRuns(cfg.StateDir)
	}
	return nil
}

// listPlans summarizes every plan document in the state directory.
func listPlans(st *store.Store, stateDir string) error {
	entries, err := os.ReadDir(filepath.Join(stateDir, "plans"))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No plans yet. Create one with 'strawboss plan -f tasks.yaml'.")
			return nil
		}
		return fmt.Errorf("reading plans directory: %w", err)
	}

	var identities []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			identities = append(identities, name)
		}
	}
	if len(identities) == 0 {
		fmt.Println("No plans yet. Create one with 'strawboss plan -f tasks.yaml'.")
		return nil
	}

	fmt.Println("Plans:")
	for _, identity := range identities {
		progress, err := st.ReadProgress(identity)
		if err != nil {
			fmt.Printf("  %s  %s\n", identityStyle.Render(identity), errorStyle.Render(describeReadError(err)))
			continue
		}
		pending, inProgress, completed := progress.Counts()
		fmt.Printf("  %s  %s completed, %s running, %s pending\n",
			identityStyle.Render(identity),
			completedStyle.Render(fmt.Sprintf("%d", completed)),
			inProgressStyle.Render(fmt.Sprintf("%d", inProgress)),
			pendingStyle.Render(fmt.Sprintf("%d", pending)))
	}
	return nil
}

// showIdentity renders the full task table for one plan.
func showIdentity(st *store.Store, identity string) error {
	plan, err := st.ReadPlan(identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no plan for %s; create one with 'strawboss plan %s -f tasks.yaml'", identity, identity)
		}
		return err
	}
	progress, err := st.ReadProgress(identity)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", identityStyle.Render(identity), plan.TaskDescription)
	if plan.Synopsis != "" {
		fmt.Printf("%s\n", dimStyle.Render(plan.Synopsis))
	}
	fmt.Println()

	for _, tp := range progress.Tasks {
		fmt.Println(renderTask(&tp))
		if tp.ErrorMessage != "" {
			fmt.Printf("      %s\n", errorStyle.Render("error: "+tp.ErrorMessage))
		}
		if len(tp.FilesModified) > 0 {
			fmt.Printf("      %s\n", dimStyle.Render("touched: "+strings.Join(tp.FilesModified, ", ")))
		}
	}

	pending, inProgress, completed := progress.Counts()
	fmt.Printf("\n%d tasks: %s completed, %s running, %s pending\n",
		len(progress.Tasks),
		completedStyle.Render(fmt.Sprintf("%d", completed)),
		inProgressStyle.Render(fmt.Sprintf("%d", inProgress)),
		pendingStyle.Render(fmt.Sprintf("%d", pending)))
	fmt.Printf("%s\n", dimStyle.Render("last updated "+formatDuration(time.Since(progress.LastUpdated))+" ago"))

	return nil
}

func renderTask(tp *models.TaskProgress) string {
	var marker string
	switch tp.State {
	case models.TaskStateCompleted:
		marker = completedStyle.Render("✓")
	case models.TaskStateInProgress:
		marker = inProgressStyle.Render("●")
	default:
		marker = pendingStyle.Render("○")
	}

	line := fmt.Sprintf("  %s %s  %s", marker, tp.ID, truncate(tp.Description, 60))

	var extra []string
	if tp.State == models.TaskStateInProgress && tp.StartedAt != nil {
		extra = append(extra, formatDuration(time.Since(*tp.StartedAt)))
	}
	if tp.AgentSessionID != "" {
		extra = append(extra, "session "+shortID(tp.AgentSessionID))
	}
	if len(extra) > 0 {
		line += "  " + dimStyle.Render("("+strings.Join(extra, ", ")+")")
	}
	return line
}

// showRecentRuns lists the latest entries from the history database.
func showRecentRuns(stateDir string) error {
	dbPath := history.DBPath(stateDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history yet.")
		return nil
	}

	rec, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer rec.Close()

	runs, err := rec.RecentRuns(10)
	if err != nil {
		return fmt.Errorf("list recent runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No run history yet.")
		return nil
	}

	fmt.Println("Recent runs:")
	for _, r := range runs {
		outcome := r.Outcome
		switch outcome {
		case history.OutcomeCompleted:
			outcome = completedStyle.Render(outcome)
		case history.OutcomeFailed, history.OutcomeDeadlocked, history.OutcomeAborted:
			outcome = errorStyle.Render(outcome)
		default:
			outcome = inProgressStyle.Render(outcome)
		}
		fmt.Printf("  %s  %s  %s  %d dispatched, %d completed, %d failed  %s\n",
			shortID(r.ID),
			identityStyle.Render(r.Identity),
			outcome,
			r.Dispatched, r.Completed, r.Failed,
			dimStyle.Render(formatDuration(time.Since(r.StartedAt))+" ago"))
	}
	return nil
}

func describeReadError(err error) string {
	var corr *store.CorruptedError
	if errors.As(err, &corr) {
		return "progress document corrupted"
	}
	if errors.Is(err, store.ErrNotFound) {
		return "no progress document"
	}
	return err.Error()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
