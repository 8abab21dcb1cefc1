// Tracks which study folders are locked against accidental writes.
//
// Locks are advisory and live only for the lifetime of the process. For
// study folders under the managed cache root, locking additionally hardens
// filesystem permission bits as a second, OS-enforced layer on POSIX.
package lockfs

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry is the process-wide set of locked study folders.
//
// Lock and Unlock never fail hard: lock bookkeeping degrades to a warning
// plus a boolean so it can never block the operation that triggered it.
// Callers that need a hard failure translate a false Guard result themselves.
type Registry struct {
	hardener *Hardener

	mu     sync.RWMutex
	locked map[string]string // normalized path -> reason
}

// NewRegistry creates an empty registry whose permission hardening is scoped
// to cacheRoot.
func NewRegistry(cacheRoot string) *Registry {
	return &Registry{
		hardener: NewHardener(cacheRoot),
		locked:   make(map[string]string),
	}
}

// Normalize resolves a path to its canonical absolute form so that symlinked
// and relative spellings of the same study folder compare equal.
func Normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	// Nonexistent paths cannot be resolved; fall back to the lexical form.
	return filepath.Clean(abs)
}

// IsLocked reports whether path is currently locked.
func (r *Registry) IsLocked(path string) bool {
	p := Normalize(path)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.locked[p]
	return ok
}

// Lock marks path as locked. Returns false with a warning if path does not
// exist as a directory. Locking an already-locked path succeeds; the original
// reason is kept.
func (r *Registry) Lock(path, reason string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		slog.Warn("Cannot lock path that is missing or not a directory", "path", path)
		return false
	}
	p := Normalize(path)
	r.mu.Lock()
	if _, ok := r.locked[p]; !ok {
		r.locked[p] = reason
	}
	r.mu.Unlock()
	r.hardener.Harden(p)
	return true
}

// Unlock removes the lock on path. Unlocking a path that was never locked is
// a no-op; Unlock always succeeds.
func (r *Registry) Unlock(path string) bool {
	p := Normalize(path)
	r.mu.Lock()
	delete(r.locked, p)
	r.mu.Unlock()
	r.hardener.Relax(p)
	return true
}

// LockAll locks every immediate subdirectory of base and returns the paths
// that were locked. A missing base produces a warning and an empty result.
func (r *Registry) LockAll(base, reason string) []string {
	entries, err := os.ReadDir(base)
	if err != nil {
		slog.Warn("Cannot lock studies under missing base folder", "path", base)
		return nil
	}
	var locked []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(base, e.Name())
		if r.Lock(p, reason) {
			locked = append(locked, p)
		}
	}
	return locked
}

// LockedPaths returns the currently locked folders, sorted.
func (r *Registry) LockedPaths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.locked))
	for p := range r.locked {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Status describes the lock state of a single path.
type Status struct {
	Path   string `json:"path"`
	Locked bool   `json:"locked"`
	Reason string `json:"reason,omitempty"`
}

// Status returns the lock state of path without side effects.
func (r *Registry) Status(path string) Status {
	p := Normalize(path)
	r.mu.RLock()
	reason, ok := r.locked[p]
	r.mu.RUnlock()
	return Status{Path: p, Locked: ok, Reason: reason}
}

// Guard reports whether op may proceed against path. When path is locked it
// warns, naming the blocked operation, and returns false; callers escalate
// that into a hard failure.
func (r *Registry) Guard(path, op string) bool {
	if !r.IsLocked(path) {
		return true
	}
	slog.Warn("Operation blocked: study folder is locked", "op", op, "path", path)
	return false
}

// Seed locks every study found under the bundled data root and the cache
// root. Called once at startup; roots that do not exist are skipped.
func (r *Registry) Seed(bundledRoot, cacheRoot string) {
	if _, err := os.Stat(bundledRoot); err == nil {
		r.LockAll(bundledRoot, "bundled")
	}
	if _, err := os.Stat(cacheRoot); err == nil {
		r.LockAll(cacheRoot, "cached")
	}
}
