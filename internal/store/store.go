// Package store persists plan and progress documents, one pair per
// identity, and serializes every mutation for an identity through an
// advisory lock.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gangworks/strawboss/internal/lock"
)

// fileLockTimeout bounds how long a mutation waits on another process
// holding the identity's cross-process lock.
const fileLockTimeout = 10 * time.Second

// Store owns one state directory and the lock registry guarding its
// documents. Independent Store instances never share lock state.
type Store struct {
	dir       string
	locks     *lock.Registry
	fileLocks bool
	now       func() time.Time
	debugLog  func(format string, args ...any)
}

// Option configures a Store.
type Option func(*Store)

// WithFileLocking makes every mutation additionally take an exclusive
// cross-process flock for the identity. The advisory lock registry only
// serializes within one process; enable this when separate processes
// share a state directory.
func WithFileLocking() Option {
	return func(s *Store) { s.fileLocks = true }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDebugLog routes the store's debug output to fn.
func WithDebugLog(fn func(format string, args ...any)) Option {
	return func(s *Store) {
		if fn != nil {
			s.debugLog = fn
		}
	}
}

// New returns a Store rooted at the given state directory.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:      dir,
		locks:    lock.NewRegistry(),
		now:      time.Now,
		debugLog: func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the state directory root.
func (s *Store) Dir() string {
	return s.dir
}

// PlanPath returns the plan document path for an identity.
func (s *Store) PlanPath(identity string) string {
	return filepath.Join(s.dir, "plans", identity+".json")
}

// ProgressPath returns the progress document path for an identity.
func (s *Store) ProgressPath(identity string) string {
	return filepath.Join(s.dir, "progress", identity+".json")
}

// planFileName is the value stored in the progress document's plan_file
// field: the plan path relative to the state directory, slash-separated
// regardless of platform.
func planFileName(identity string) string {
	return "plans/" + identity + ".json"
}

func (s *Store) lockPath(identity string) string {
	return filepath.Join(s.dir, "locks", identity+".lock")
}

// withFileLock wraps op in the identity's cross-process lock when file
// locking is enabled. It always runs inside the registry lock, so lock
// ordering is fixed: registry first, flock second.
func (s *Store) withFileLock(identity string, op func() error) error {
	if !s.fileLocks {
		return op()
	}
	fl, err := lock.AcquireFileWait(s.lockPath(identity), fileLockTimeout)
	if err != nil {
		return fmt.Errorf("acquire file lock for %s: %w", identity, err)
	}
	defer fl.Release()
	return op()
}

// validateIdentity rejects identities that cannot name a document file.
func validateIdentity(identity string) error {
	if identity == "" {
		return &ValidationError{Message: "identity must not be empty"}
	}
	if strings.ContainsAny(identity, "/\\") || identity == "." || identity == ".." {
		return &ValidationError{Message: fmt.Sprintf("identity %q is not a valid document name", identity)}
	}
	return nil
}

// readJSON loads and decodes the document at path. A missing file maps
// to ErrNotFound; an unparsable one to CorruptedError.
func (s *Store) readJSON(identity, path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", identity, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &CorruptedError{Identity: identity, Path: path, Err: err}
	}
	return nil
}

// writeJSON writes the document atomically: encode, write to a temp
// file in the target directory, rename over the destination. Readers
// see either the old document or the new one, never a partial write.
func (s *Store) writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}
