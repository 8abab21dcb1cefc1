// Package connector provides read/write handles over study folders and the
// lock-checking decorator that protects cached and bundled studies.
package connector

import (
	"fmt"
	"os"
	"path/filepath"
)

// Handle reads and mutates datasets inside one study folder.
type Handle interface {
	Read(name string) ([]byte, error)
	Write(data []byte, name string) error
	Remove(name string) error
}

// FSHandle is the plain filesystem implementation of Handle. Names may
// include a domain subfolder ("adam/adsl.csv") but never path traversal.
type FSHandle struct {
	root string
}

// NewFSHandle creates a handle rooted at the study folder.
func NewFSHandle(root string) *FSHandle {
	return &FSHandle{root: root}
}

func (h *FSHandle) resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("invalid dataset name %q", name)
	}
	return filepath.Join(h.root, clean), nil
}

// Read returns the contents of the named dataset file.
func (h *FSHandle) Read(name string) ([]byte, error) {
	path, err := h.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Write stores data as the named dataset file, creating the domain
// subfolder if needed.
func (h *FSHandle) Write(data []byte, name string) error {
	path, err := h.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Remove deletes the named dataset file.
func (h *FSHandle) Remove(name string) error {
	path, err := h.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
