package agent

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/gangworks/strawboss/internal/driver"
	"github.com/gangworks/strawboss/internal/git"
)

// CommandDispatcher runs each task through a local agent CLI as a
// one-shot subprocess. The agent is expected to print its work and
// finish with a JSON report; when the report omits modified files the
// dispatcher falls back to asking git.
type CommandDispatcher struct {
	// Command is the agent binary; defaults to "claude".
	Command string
	// Model is passed through as --model when set.
	Model string
	// WorkDir is the repository the agent works in.
	WorkDir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Git reports working-tree changes when the agent's report omits
	// them. Nil means a runner rooted at WorkDir.
	Git git.Runner
}

var _ driver.Dispatcher = (*CommandDispatcher)(nil)

// Dispatch runs the agent subprocess to completion. A non-zero exit
// is an agent failure, not a dispatcher error; only cancellation and
// inability to run the process surface as errors.
func (d *CommandDispatcher) Dispatch(ctx context.Context, req driver.DispatchRequest) (*driver.DispatchResult, error) {
	args := []string{"--print"}
	if d.Model != "" {
		args = append(args, "--model", d.Model)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	args = append(args, "-p", req.Prompt)

	command := d.Command
	if command == "" {
		command = "claude"
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = runErr.Error()
		}
		return &driver.DispatchResult{Success: false, Output: msg}, nil
	}

	output := stdout.String()
	result := &driver.DispatchResult{Success: true, Output: strings.TrimSpace(output)}
	if rep, ok := parseReport(output); ok {
		if rep.Summary != "" {
			result.Output = rep.Summary
		}
		result.FilesModified = rep.FilesModified
	}
	if len(result.FilesModified) == 0 && d.WorkDir != "" {
		runner := d.Git
		if runner == nil {
			runner = git.NewRunner(d.WorkDir)
		}
		if files, err := runner.ModifiedFiles(); err == nil {
			result.FilesModified = files
		}
	}
	return result, nil
}
