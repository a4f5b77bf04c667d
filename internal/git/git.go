// Package git wraps the two git queries strawboss makes: resolving the
// revision a plan is keyed to, and listing files the working tree has
// touched.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner answers the repository questions the orchestrator asks.
type Runner interface {
	// Head returns the short hash of the current HEAD commit.
	Head() (string, error)
	// ModifiedFiles returns every path the working tree has changed
	// relative to HEAD, including untracked files.
	ModifiedFiles() ([]string, error)
}

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a runner for the repository at the given path.
// Empty means the current working directory.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// Head returns the short hash of the current HEAD commit.
func (r *ExecRunner) Head() (string, error) {
	return r.run("rev-parse", "--short", "HEAD")
}

// ModifiedFiles returns the paths git status reports as changed or
// untracked. It works in repositories with no commits yet, where a
// diff against HEAD cannot.
func (r *ExecRunner) ModifiedFiles() ([]string, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

// run executes a git command and returns its trimmed stdout.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if r.repoPath != "" {
		cmd.Dir = r.repoPath
	}
	out, err := cmd.Output()
	if err != nil {
		msg := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// parsePorcelain extracts paths from git status --porcelain output.
// Renames report the destination path.
func parsePorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if _, renamed, ok := strings.Cut(path, " -> "); ok {
			path = renamed
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return files
}

var _ Runner = (*ExecRunner)(nil)
