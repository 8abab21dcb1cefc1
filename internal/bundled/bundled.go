// Package bundled ships the reference study inside the binary and
// materializes it to the bundled data root on first use, where the lock
// registry seeds a lock over it like any other study.
package bundled

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data
var dataFS embed.FS

// Source is the name of the bundled reference study.
const Source = "cardioguard"

// DefaultRoot returns the platform directory for materialized bundled
// studies. Kept separate from the download cache so permission hardening
// (cache-scoped) never applies here.
func DefaultRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "trialdata", "bundled"), nil
}

// Materialize writes the bundled study under root unless it is already
// present, and returns its path. The study is staged next to the final
// location and renamed into place so a crash cannot leave a partial copy.
func Materialize(root string) (string, error) {
	dest := filepath.Join(root, Source)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(root, ".bundled-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	src := "data/" + Source
	err = fs.WalkDir(dataFS, src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, src), "/")
		target := filepath.Join(staging, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		contents, err := dataFS.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, contents, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("materialize bundled study: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		// Another process may have won the race; the existing copy is fine.
		if _, statErr := os.Stat(dest); statErr == nil {
			return dest, nil
		}
		return "", err
	}
	return dest, nil
}
