package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// LockTimeout is the sidecar advisory-lock acquisition timeout spec.md
// §4.6/§5 mandates for every mutating operation on an inbox or counter.
const LockTimeout = 10 * time.Second

const lockRetryInterval = 20 * time.Millisecond

// RootEnvVar overrides the coordination substrate's root directory,
// generalizing the teacher's config-directory-override convention
// (internal/config.DataDir) to this repo's module identity.
const RootEnvVar = "SYMB_AGENT_HOME"

// DefaultRoot returns ~/.symb-agent, spec.md §4.6's root directory
// renamed to this repo's identity (the spec's own example is
// ~/.octo-code).
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".symb-agent"), nil
}

// Root resolves the coordination root: RootEnvVar if set, else
// DefaultRoot.
func Root() (string, error) {
	if v := os.Getenv(RootEnvVar); v != "" {
		return v, nil
	}
	return DefaultRoot()
}

func teamDir(root, team string) string      { return filepath.Join(root, "teams", team) }
func teamConfigPath(root, team string) string { return filepath.Join(teamDir(root, team), "config.json") }
func inboxesDir(root, team string) string    { return filepath.Join(teamDir(root, team), "inboxes") }
func inboxPath(root, team, agent string) string {
	return filepath.Join(inboxesDir(root, team), agent+".json")
}
func tasksDir(root, team string) string       { return filepath.Join(root, "tasks", team) }
func taskPath(root, team string, id int) string {
	return filepath.Join(tasksDir(root, team), fmt.Sprintf("%d.json", id))
}
func counterPath(root, team string) string { return filepath.Join(tasksDir(root, team), "counter.json") }
func lockPath(path string) string          { return path + ".lock" }

// writeAtomic writes to <path>.tmp, fsyncs it, and renames it onto
// path — the write-verify-commit pattern grounded in
// internal/store/session.go's transactional batch-write discipline,
// generalized from SQL transactions to plain file writes. The parent
// directory is created if missing.
func writeAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("coordination: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("coordination: marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("coordination: open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("coordination: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("coordination: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("coordination: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("coordination: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// readJSON reads and decodes path into v. Readers never lock (spec.md
// §4.6): a momentarily-vanishing file during a concurrent rename is
// tolerated by the caller retrying or treating ENOENT as "not found"
// rather than a hard error.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// withLock acquires a sidecar advisory lock on <path>.lock, runs fn,
// and releases the lock, failing with ErrLockTimeout if acquisition
// doesn't succeed within LockTimeout. Every mutating operation on an
// inbox or counter goes through this helper (spec.md §4.6/§5).
func withLock(path string, fn func() error) error {
	fl := flock.New(lockPath(path))
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		log.Warn().Str("path", path).Err(err).Msg("coordination: lock acquisition timed out")
		return ErrLockTimeout
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("coordination: failed to release lock")
		}
	}()

	return fn()
}
