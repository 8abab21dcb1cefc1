// Lock-checking decorator over a connector handle.

package connector

import (
	"errors"
	"fmt"

	"github.com/trialverse/trialdata/internal/lockfs"
)

// ErrLockedFolder is returned when a write or remove hits a locked study
// folder. The registry itself only warns; this decorator is where the
// advisory lock becomes a hard failure.
var ErrLockedFolder = errors.New("study folder is locked")

type lockedHandle struct {
	inner Handle
	path  string
	locks *lockfs.Registry
}

// Locked wraps a handle so Write and Remove consult the lock registry
// before touching the study folder. Reads pass through untouched.
func Locked(inner Handle, studyPath string, locks *lockfs.Registry) Handle {
	return &lockedHandle{inner: inner, path: studyPath, locks: locks}
}

func (h *lockedHandle) Read(name string) ([]byte, error) {
	return h.inner.Read(name)
}

func (h *lockedHandle) Write(data []byte, name string) error {
	if !h.locks.Guard(h.path, "write study folder") {
		return fmt.Errorf("%w: cannot write %s under %s; unlock the study folder first", ErrLockedFolder, name, h.path)
	}
	return h.inner.Write(data, name)
}

func (h *lockedHandle) Remove(name string) error {
	if !h.locks.Guard(h.path, "remove from study folder") {
		return fmt.Errorf("%w: cannot remove %s under %s; unlock the study folder first", ErrLockedFolder, name, h.path)
	}
	return h.inner.Remove(name)
}
