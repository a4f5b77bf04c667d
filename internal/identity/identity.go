// Package identity derives the stable identifier under which one
// plan/progress document pair is stored.
package identity

import (
	"strings"
	"time"

	"github.com/gangworks/strawboss/internal/git"
)

// Provider resolves the identity for the current unit of work.
// Implementations never fail: when no revision marker can be read they
// degrade to a generated fallback token so a persisted document is
// always locatable.
type Provider interface {
	Identity() string
}

// GitProvider resolves the identity from the HEAD commit of a
// repository.
type GitProvider struct {
	git git.Runner
	now func() time.Time
}

// NewGitProvider returns a provider that reads HEAD from the repository
// at dir. Empty dir means the current working directory.
func NewGitProvider(dir string) *GitProvider {
	return &GitProvider{git: git.NewRunner(dir), now: time.Now}
}

// Identity returns the short HEAD hash, or a fallback token when the
// directory has no resolvable revision (not a repository, no commits,
// git missing). It never returns an empty string.
func (g *GitProvider) Identity() string {
	if hash, err := g.git.Head(); err == nil && hash != "" {
		return hash
	}
	return FallbackToken(g.now())
}

// FallbackToken builds the no-commit identity for the given moment.
// Colons are replaced so the token is safe in file names.
func FallbackToken(t time.Time) string {
	stamp := t.UTC().Format(time.RFC3339)
	return "no-commit-" + strings.ReplaceAll(stamp, ":", "-")
}

// Static is a fixed identity for callers that manage identities
// themselves.
type Static string

// Identity returns the fixed value.
func (s Static) Identity() string { return string(s) }

var (
	_ Provider = (*GitProvider)(nil)
	_ Provider = Static("")
)
