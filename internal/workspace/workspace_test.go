package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelsmith/internal/job"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func age(t *testing.T, dir string, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestAllocateCreatesUniqueDirectories(t *testing.T) {
	m := newTestManager(t)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		ws, err := m.Allocate(KindAssembly)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if _, dup := seen[ws.Path]; dup {
			t.Fatalf("duplicate workspace %s", ws.Path)
		}
		seen[ws.Path] = struct{}{}
		ws.Release()
	}
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1000 {
		t.Fatalf("expected 1000 directories, got %d", len(entries))
	}
}

func TestAllocateUploadPrefix(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Allocate(KindUpload)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer ws.Release()
	if filepath.Base(ws.Path) != UploadPrefix+ws.ID {
		t.Fatalf("unexpected upload workspace name %q", filepath.Base(ws.Path))
	}
	if !filepath.IsAbs(ws.Path) {
		t.Fatalf("expected absolute path, got %q", ws.Path)
	}
}

func TestAllocateFailureIsWorkspaceError(t *testing.T) {
	m := newTestManager(t)
	blocker := filepath.Join(m.Root(), "taken")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.newID = func() string { return "taken" }

	_, err := m.Allocate(KindAssembly)
	var werr *Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected workspace Error, got %v", err)
	}
	if job.CodeOf(err) != job.CodeWorkspaceFailed {
		t.Fatalf("unexpected code %q", job.CodeOf(err))
	}
}

func TestReclaimRemovesOnlyAgedWorkspaces(t *testing.T) {
	m := newTestManager(t)
	oldDirs := []string{"old-a", "old-b"}
	for _, name := range append(oldDirs, "fresh") {
		dir := filepath.Join(m.Root(), name)
		if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	for _, name := range oldDirs {
		age(t, filepath.Join(m.Root(), name), 2*time.Hour)
	}
	if err := os.WriteFile(filepath.Join(m.Root(), "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if removed := m.Reclaim(60 * time.Minute); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	for _, name := range oldDirs {
		if _, err := os.Stat(filepath.Join(m.Root(), name)); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed, stat err=%v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "fresh")); err != nil {
		t.Fatalf("fresh workspace should survive: %v", err)
	}
}

func TestReclaimSkipsLeasedWorkspace(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Allocate(KindAssembly)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	age(t, ws.Path, 3*time.Hour)

	if removed := m.Reclaim(time.Minute); removed != 0 {
		t.Fatalf("expected leased workspace to be skipped, removed %d", removed)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Fatalf("leased workspace removed: %v", err)
	}

	ws.Release()
	age(t, ws.Path, 3*time.Hour)
	if removed := m.Reclaim(time.Minute); removed != 1 {
		t.Fatalf("expected released workspace to be reclaimed, removed %d", removed)
	}
}

func TestReclaimContinuesPastFailures(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"a-broken", "b-ok", "c-ok"} {
		dir := filepath.Join(m.Root(), name)
		if err := os.Mkdir(dir, 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		age(t, dir, 2*time.Hour)
	}
	m.removeAll = func(p string) error {
		if strings.HasSuffix(p, "a-broken") {
			return errors.New("permission denied")
		}
		return os.RemoveAll(p)
	}

	if removed := m.Reclaim(time.Hour); removed != 2 {
		t.Fatalf("expected 2 removed despite one failure, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "a-broken")); err != nil {
		t.Fatalf("failing entry should remain: %v", err)
	}
}

func TestReclaimMissingRootReturnsZero(t *testing.T) {
	m := newTestManager(t)
	if err := os.RemoveAll(m.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	if removed := m.Reclaim(time.Minute); removed != 0 {
		t.Fatalf("expected 0, got %d", removed)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Allocate(KindAssembly)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer ws.Release()
	if err := os.WriteFile(ws.File("output.mp4"), []byte("v"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got, err := m.Resolve(ws.ID, "output.mp4"); err != nil || got != ws.File("output.mp4") {
		t.Fatalf("resolve: got %q err=%v", got, err)
	}
	for _, c := range [][2]string{{"..", "output.mp4"}, {ws.ID, "../x"}, {ws.ID, LeaseFile}, {ws.ID, "missing.mp4"}, {"", "output.mp4"}} {
		if _, err := m.Resolve(c[0], c[1]); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q,%q): expected ErrNotFound, got %v", c[0], c[1], err)
		}
	}
}
