// Applies read-only permission bits to cache-resident study folders.

package lockfs

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Hardener sets filesystem modes under the cache root so that locked studies
// are read-only at the OS level, not just in this process.
//
// It refuses to touch anything outside the cache root, so it can never chmod
// an arbitrary user directory even if asked. On Windows every call is a
// no-op; the in-memory registry is the only protection there.
type Hardener struct {
	root string
}

// NewHardener creates a hardener scoped to cacheRoot.
func NewHardener(cacheRoot string) *Hardener {
	return &Hardener{root: Normalize(cacheRoot)}
}

func (h *Hardener) inRoot(path string) bool {
	p := Normalize(path)
	return p == h.root || strings.HasPrefix(p, h.root+string(filepath.Separator))
}

// Harden makes every file under path mode 0444 and every directory 0555.
// No-op outside the cache root, for missing paths, and on Windows.
func (h *Hardener) Harden(path string) {
	if runtime.GOOS == "windows" || !h.inRoot(path) {
		return
	}
	files, dirs, err := listTree(path)
	if err != nil {
		return
	}
	// Files first: the tree is fully listed already, but keeping directories
	// writable until last means a partial failure leaves them traversable.
	chmodAll(files, 0o444)
	chmodAll(dirs, 0o555)
}

// Relax restores directories to 0755 and files to 0644, with the same
// scoping rules as Harden.
func (h *Hardener) Relax(path string) {
	if runtime.GOOS == "windows" || !h.inRoot(path) {
		return
	}
	files, dirs, err := listTree(path)
	if err != nil {
		return
	}
	// Directories first so files become reachable for the chmod that follows.
	chmodAll(dirs, 0o755)
	chmodAll(files, 0o644)
}

func listTree(root string) (files, dirs []string, err error) {
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
		return nil
	})
	return files, dirs, err
}

func chmodAll(paths []string, mode fs.FileMode) {
	for _, p := range paths {
		// Best effort: hardening is a second layer, never a hard failure.
		_ = os.Chmod(p, mode)
	}
}
