package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// stubGit answers the HEAD query without a repository.
type stubGit struct {
	head string
	err  error
}

func (s *stubGit) Head() (string, error)            { return s.head, s.err }
func (s *stubGit) ModifiedFiles() ([]string, error) { return nil, nil }

func TestGitProviderUsesHead(t *testing.T) {
	p := &GitProvider{
		git: &stubGit{head: "abc1234"},
		now: time.Now,
	}
	if got := p.Identity(); got != "abc1234" {
		t.Errorf("Identity() = %q, want the HEAD hash", got)
	}
}

func TestGitProviderFallsBack(t *testing.T) {
	moment := time.Date(2024, 3, 9, 14, 30, 5, 0, time.UTC)
	p := &GitProvider{
		git: &stubGit{err: errors.New("not a git repository")},
		now: func() time.Time { return moment },
	}

	got := p.Identity()
	if want := "no-commit-2024-03-09T14-30-05Z"; got != want {
		t.Errorf("Identity() = %q, want %q", got, want)
	}
}

func TestGitProviderNeverReturnsEmpty(t *testing.T) {
	p := &GitProvider{
		git: &stubGit{head: ""},
		now: time.Now,
	}
	if p.Identity() == "" {
		t.Error("Identity() returned an empty string")
	}
}

func TestFallbackTokenIsFilenameSafe(t *testing.T) {
	token := FallbackToken(time.Now())
	if strings.ContainsAny(token, ":/\\") {
		t.Errorf("token %q contains filename-hostile characters", token)
	}
	if !strings.HasPrefix(token, "no-commit-") {
		t.Errorf("token %q missing the no-commit prefix", token)
	}
}

func TestStatic(t *testing.T) {
	if got := Static("release-42").Identity(); got != "release-42" {
		t.Errorf("Identity() = %q, want the fixed value", got)
	}
}
