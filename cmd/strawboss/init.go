package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gangworks/strawboss/internal/config"
)

var (
	initForce          bool
	initSkipAgentCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a strawboss project",
	Long: `Initialize a directory for use with strawboss.

This command sets up everything needed to orchestrate a plan:
  - Creates the state directory structure (plans, progress, signals, logs)
  - Creates a commented .strawboss.yaml configuration template
  - Adds the volatile state paths to .gitignore
  - Verifies the agent CLI is available

The directory argument is optional and defaults to the current directory.

Examples:
  strawboss init              # Initialize current directory
  strawboss init ./myproject  # Initialize specific directory
  strawboss init --force      # Reinitialize even if already set up`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initSkipAgentCheck, "skip-agent-check", false, "Skip agent CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing strawboss in %s...\n\n", absPath)

	stateDir := filepath.Join(absPath, config.Default().StateDir)
	if _, err := os.Stat(stateDir); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	if !initSkipAgentCheck {
		agentCommand := config.Default().Agent.Command
		if err := CheckAgentCLI(agentCommand); err != nil {
			printStatus("✗", fmt.Sprintf("Agent command %q not found", agentCommand), color.FgRed)
			return err
		}
		printStatus("✓", "Agent CLI found", color.FgGreen)
	}

	if key, err := config.ResolveAPIKey(nil); err != nil {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (only needed for api mode)", color.FgYellow)
	} else {
		printStatus("✓", "Anthropic API key configured ("+config.MaskAPIKey(key)+")", color.FgGreen)
	}

	for _, sub := range []string{"plans", "progress", "signals", "logs"} {
		if err := os.MkdirAll(filepath.Join(stateDir, sub), 0755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	printStatus("✓", "Created state directory structure", color.FgGreen)

	created, err := createProjectConfig(absPath)
	if err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	if created {
		printStatus("✓", "Created "+config.ProjectConfigName+" template", color.FgGreen)
	} else {
		printStatus("✓", config.ProjectConfigName+" already present", color.FgGreen)
	}

	if err := updateGitignore(absPath); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	printStatus("✓", "Updated .gitignore with strawboss entries", color.FgGreen)

	fmt.Printf("\n%s strawboss initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Describe your tasks:")
	fmt.Println("     $EDITOR tasks.yaml")
	fmt.Println()
	fmt.Println("  2. Create a plan for the current commit:")
	fmt.Println("     strawboss plan -f tasks.yaml")
	fmt.Println()
	fmt.Println("  3. Drive it:")
	fmt.Println("     strawboss run")

	return nil
}

// createProjectConfig writes the .strawboss.yaml template unless one
// already exists. Returns true when a new file was written.
func createProjectConfig(repoPath string) (bool, error) {
	configPath := filepath.Join(repoPath, config.ProjectConfigName)

	if _, err := os.Stat(configPath); err == nil {
		return false, nil
	}

	template := `# strawboss project configuration
# This file overrides defaults from ~/.config/strawboss/config.yaml

# state_dir: .strawboss
# max_agents: 3
# dispatch_timeout: 15m
# spawn_stagger: 500ms
# cross_process_lock: false

# agent:
#   mode: command        # command | api
#   command: claude
#   allowed_tools:
#     - Read
#     - Edit
#     - Bash

# api:
#   model: claude-sonnet-4-20250514
#   api_key: ${ANTHROPIC_API_KEY}
#   use_aws_bedrock: false
#   aws_region: us-east-1

# history:
#   enabled: true

# Paths matched here are flagged when an agent touches them without the
# plan declaring them. Patterns, keywords, and file types all extend the
# built-in defaults.
# protected_areas:
#   patterns:
#     - "billing/**"
#   keywords:
#     - payout
#   file_types:
#     - .pem
`

	if err := os.WriteFile(configPath, []byte(template), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// updateGitignore appends the volatile strawboss state paths. The plan
// and progress documents stay trackable; only logs, locks, signals, and
// the history database are ignored.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	stateDir := config.Default().StateDir
	entries := []string{
		stateDir + "/logs/",
		stateDir + "/locks/",
		stateDir + "/signals/",
		stateDir + "/history.db*",
	}

	var missing []string
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(existingContent)
	if existingContent != "" && !strings.HasSuffix(existingContent, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# strawboss\n")
	for _, entry := range missing {
		b.WriteString(entry)
		b.WriteString("\n")
	}

	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
