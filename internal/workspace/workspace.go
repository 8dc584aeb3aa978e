package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "reelsmith/internal/file"
	"reelsmith/internal/job"
	"reelsmith/internal/telemetry"
)

const (
	// LeaseFile is locked for the lifetime of the owning job.
	LeaseFile    = ".lease"
	UploadPrefix = "upload_"
)

type Kind int

const (
	KindAssembly Kind = iota
	KindUpload
)

var ErrNotFound = errors.New("artifact not found")

// Error reports a failure to create a workspace directory or its lease.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("workspace %s: %v", e.Path, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Code() string { return job.CodeWorkspaceFailed }

// Workspace is a directory owned by exactly one job.
type Workspace struct {
	ID   string
	Path string

	lease *flock.Flock
}

// File returns the absolute path of name inside the workspace.
func (w *Workspace) File(name string) string {
	return filepath.Join(w.Path, name)
}

// Release drops the lease so the sweep may reclaim the workspace once it ages.
func (w *Workspace) Release() {
	if w.lease == nil {
		return
	}
	if err := w.lease.Unlock(); err != nil {
		log.Warn().Str("workspace", w.ID).Err(err).Msg("release lease failed")
	}
}

// Manager allocates and reclaims workspaces under a single root directory.
type Manager struct {
	root      string
	newID     func() string
	removeAll func(string) error
}

// New makes root absolute and creates it if needed.
func New(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("empty workspace root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := fileutil.EnsureDir(abs); err != nil {
		return nil, &Error{Path: abs, Err: err}
	}
	return &Manager{root: abs, newID: uuid.NewString, removeAll: os.RemoveAll}, nil
}

func (m *Manager) Root() string { return m.root }

// Allocate creates a fresh workspace and takes its lease. Callers must call
// Release when the job is done.
func (m *Manager) Allocate(kind Kind) (*Workspace, error) {
	id := m.newID()
	name := id
	if kind == KindUpload {
		name = UploadPrefix + id
	}
	dir := filepath.Join(m.root, name)
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, &Error{Path: dir, Err: err}
	}
	lease := flock.New(filepath.Join(dir, LeaseFile))
	locked, err := lease.TryLock()
	if err != nil {
		return nil, &Error{Path: dir, Err: fmt.Errorf("take lease: %w", err)}
	}
	if !locked {
		return nil, &Error{Path: dir, Err: errors.New("lease already held")}
	}
	return &Workspace{ID: id, Path: dir, lease: lease}, nil
}

// Resolve maps a workspace id and file name to a path under the root,
// rejecting anything that could escape it.
func (m *Manager) Resolve(id, name string) (string, error) {
	for _, part := range []string{id, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) || strings.HasPrefix(part, ".") {
			return "", ErrNotFound
		}
	}
	p := filepath.Join(m.root, id, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// Reclaim removes every workspace whose modification time is strictly older
// than now-threshold and whose lease is free. Per-entry failures are logged
// and skipped. It returns the number of workspaces removed.
func (m *Manager) Reclaim(threshold time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		log.Warn().Str("root", m.root).Err(err).Msg("list workspaces failed")
		return 0
	}
	cutoff := time.Now().Add(-threshold)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.Warn().Str("path", dir).Err(err).Msg("stat workspace failed")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if m.removeIfFree(dir) {
			removed++
		}
	}
	if removed > 0 {
		telemetry.WorkspacesReclaimed.Add(float64(removed))
	}
	return removed
}

func (m *Manager) removeIfFree(dir string) bool {
	lease := flock.New(filepath.Join(dir, LeaseFile))
	locked, err := lease.TryLock()
	if err != nil {
		log.Warn().Str("path", dir).Err(err).Msg("check lease failed")
		return false
	}
	if !locked {
		log.Info().Str("path", dir).Msg("workspace in use, skipping")
		return false
	}
	defer func() { _ = lease.Unlock() }()
	if err := m.removeAll(dir); err != nil {
		log.Warn().Str("path", dir).Err(err).Msg("remove workspace failed")
		return false
	}
	return true
}

// RunSweeper reclaims aged workspaces every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Reclaim(threshold); removed > 0 {
				log.Info().Int("removed", removed).Msg("cleanup removed workspaces")
			}
		}
	}
}
