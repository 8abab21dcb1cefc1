// Persists the last successful remote study listing for offline fallback.

package studycache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Entry is one study in the remote listing. Cached is derived from the live
// filesystem on every load and is never trusted from the stored snapshot.
type Entry struct {
	Source  string  `json:"source"`
	Version string  `json:"version"`
	SizeMB  float64 `json:"size_mb"`
	Cached  bool    `json:"cached"`
}

// Snapshot is an ordered remote study listing.
type Snapshot []Entry

// SaveSnapshot writes the snapshot under root, creating root if needed. The
// write is temp-then-rename so readers never see a partial file. Failures
// are logged and swallowed: caching the listing must never fail the fetch
// that produced it.
func SaveSnapshot(root string, snap Snapshot) {
	if err := saveSnapshot(root, snap); err != nil {
		slog.Debug("Failed to cache study listing", "err", err)
	}
}

func saveSnapshot(root string, snap Snapshot) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(root, snapshotFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(root, snapshotFile))
}

// LoadSnapshotWithRefresh returns the stored snapshot with every Cached flag
// recomputed against the filesystem, or false if no usable snapshot exists.
// failureReason is the remote error that forced the fallback; it is included
// in the warning so the user knows the listing may be stale.
func LoadSnapshotWithRefresh(root, failureReason string) (Snapshot, bool) {
	data, err := os.ReadFile(filepath.Join(root, snapshotFile))
	if err != nil {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false
	}
	for i := range snap {
		info, err := os.Stat(filepath.Join(root, snap[i].Source))
		snap[i].Cached = err == nil && info.IsDir()
	}
	slog.Warn("Remote study listing unavailable; falling back to cached listing which may be stale", "reason", failureReason)
	return snap, true
}
