package lockfs

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// newTestRegistry returns a registry whose cache root is an empty temp dir,
// so hardening never fires for study folders created elsewhere.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(t.TempDir())
}

func TestLockUnlock(t *testing.T) {
	r := newTestRegistry(t)
	study := t.TempDir()

	if r.IsLocked(study) {
		t.Fatal("fresh path should not be locked")
	}
	if !r.Lock(study, "test") {
		t.Fatal("Lock failed for existing directory")
	}
	if !r.IsLocked(study) {
		t.Fatal("path should be locked after Lock")
	}
	if !r.Unlock(study) {
		t.Fatal("Unlock failed")
	}
	if r.IsLocked(study) {
		t.Fatal("path should be unlocked after Unlock")
	}
}

func TestLockIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	study := t.TempDir()

	if !r.Lock(study, "first") {
		t.Fatal("first Lock failed")
	}
	if !r.Lock(study, "second") {
		t.Fatal("second Lock failed")
	}
	st := r.Status(study)
	if !st.Locked {
		t.Fatal("path should still be locked")
	}
	if st.Reason != "first" {
		t.Fatalf("expected original reason to be kept, got %q", st.Reason)
	}
	// A single Unlock clears the single logical entry.
	r.Unlock(study)
	if r.IsLocked(study) {
		t.Fatal("path should be unlocked after one Unlock")
	}
}

func TestLockMissingDirectory(t *testing.T) {
	r := newTestRegistry(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	if r.Lock(missing, "test") {
		t.Fatal("Lock should fail for a missing directory")
	}
	if r.IsLocked(missing) {
		t.Fatal("failed Lock must not alter the lock set")
	}
}

func TestLockFileNotDirectory(t *testing.T) {
	r := newTestRegistry(t)
	file := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if r.Lock(file, "test") {
		t.Fatal("Lock should fail for a regular file")
	}
}

func TestLockWarningCoversMissingAndNonDirectory(t *testing.T) {
	logs := &recordedLogs{}
	prev := slog.Default()
	slog.SetDefault(slog.New(logs))
	defer slog.SetDefault(prev)

	r := newTestRegistry(t)
	file := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.Lock(file, "test")
	r.Lock(filepath.Join(t.TempDir(), "missing"), "test")

	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.msgs) != 2 {
		t.Fatalf("expected one warning per failed Lock, got %v", logs.msgs)
	}
	for _, m := range logs.msgs {
		if !strings.Contains(m, "missing or not a directory") {
			t.Fatalf("warning must cover both failure shapes: %q", m)
		}
	}
}

func TestUnlockNeverLocked(t *testing.T) {
	r := newTestRegistry(t)
	if !r.Unlock(t.TempDir()) {
		t.Fatal("Unlock of an unlocked path should succeed")
	}
}

func TestLockAll(t *testing.T) {
	r := newTestRegistry(t)
	base := t.TempDir()
	for _, name := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(base, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Plain files are not studies and must be skipped.
	if err := os.WriteFile(filepath.Join(base, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	locked := r.LockAll(base, "test")
	if len(locked) != 2 {
		t.Fatalf("expected 2 locked paths, got %d: %v", len(locked), locked)
	}
	if !r.IsLocked(filepath.Join(base, "a")) || !r.IsLocked(filepath.Join(base, "b")) {
		t.Fatal("both subdirectories should be locked")
	}
}

func TestLockAllMissingBase(t *testing.T) {
	r := newTestRegistry(t)
	locked := r.LockAll(filepath.Join(t.TempDir(), "missing"), "test")
	if len(locked) != 0 {
		t.Fatalf("expected no locked paths, got %v", locked)
	}
}

func TestGuard(t *testing.T) {
	r := newTestRegistry(t)
	study := t.TempDir()

	if !r.Guard(study, "write study folder") {
		t.Fatal("Guard should allow operations on unlocked paths")
	}
	r.Lock(study, "test")
	if r.Guard(study, "write study folder") {
		t.Fatal("Guard should block operations on locked paths")
	}
	r.Unlock(study)
	if !r.Guard(study, "write study folder") {
		t.Fatal("Guard should allow operations again after Unlock")
	}
}

func TestLockedPaths(t *testing.T) {
	r := newTestRegistry(t)
	b := t.TempDir()
	a := t.TempDir()

	if got := r.LockedPaths(); len(got) != 0 {
		t.Fatalf("fresh registry should have no locked paths, got %v", got)
	}
	r.Lock(b, "test")
	r.Lock(a, "test")
	got := r.LockedPaths()
	if len(got) != 2 {
		t.Fatalf("expected 2 locked paths, got %v", got)
	}
	if got[0] > got[1] {
		t.Fatalf("locked paths should be sorted: %v", got)
	}
	r.Unlock(a)
	if got := r.LockedPaths(); len(got) != 1 || got[0] != Normalize(b) {
		t.Fatalf("expected only %s, got %v", Normalize(b), got)
	}
}

func TestStatusNoSideEffect(t *testing.T) {
	r := newTestRegistry(t)
	study := t.TempDir()

	st := r.Status(study)
	if st.Locked {
		t.Fatal("Status should report unlocked")
	}
	if r.IsLocked(study) {
		t.Fatal("Status must not lock the path")
	}

	r.Lock(study, "cached")
	st = r.Status(study)
	if !st.Locked || st.Reason != "cached" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSeed(t *testing.T) {
	r := newTestRegistry(t)
	bundled := t.TempDir()
	cache := t.TempDir()
	if err := os.Mkdir(filepath.Join(bundled, "cardioguard"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(cache, "neuroshield"), 0o755); err != nil {
		t.Fatal(err)
	}

	r.Seed(bundled, cache)

	if st := r.Status(filepath.Join(bundled, "cardioguard")); !st.Locked || st.Reason != "bundled" {
		t.Fatalf("bundled study not seeded: %+v", st)
	}
	if st := r.Status(filepath.Join(cache, "neuroshield")); !st.Locked || st.Reason != "cached" {
		t.Fatalf("cached study not seeded: %+v", st)
	}

	// Missing roots are skipped without error.
	r.Seed(filepath.Join(bundled, "missing"), filepath.Join(cache, "missing"))
}

func TestNormalizeSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}
	r := newTestRegistry(t)
	study := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(study, link); err != nil {
		t.Fatal(err)
	}

	r.Lock(study, "test")
	if !r.IsLocked(link) {
		t.Fatal("symlinked spelling of a locked path should report locked")
	}
	r.Unlock(link)
	if r.IsLocked(study) {
		t.Fatal("unlocking via symlink should unlock the target")
	}
}
