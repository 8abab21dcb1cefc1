// Package studycache manages the local cache of downloaded studies: one
// directory per study under a single cache root, a persisted copy of the
// last remote listing for offline fallback, and the download pipeline that
// populates the cache.
package studycache

import (
	"os"
	"path/filepath"
)

// snapshotFile is the listing snapshot, stored directly under the cache root
// and overwritten wholesale on every successful remote fetch.
const snapshotFile = ".studies_cache.json"

// DefaultRoot returns the platform cache directory for downloaded studies.
func DefaultRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "trialdata", "studies"), nil
}
