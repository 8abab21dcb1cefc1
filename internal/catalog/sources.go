// Resolves study sources to their on-disk roots.

package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/trialverse/trialdata/internal/connector"
	"github.com/trialverse/trialdata/internal/lockfs"
)

// ErrSourceNotFound is returned when a source is neither cached nor bundled.
var ErrSourceNotFound = errors.New("study source not found")

// Accessor resolves source names against the cache and the bundled data,
// and hands out lock-checked connector handles.
type Accessor struct {
	BundledRoot string
	CacheRoot   string
	Locks       *lockfs.Registry
}

// Resolve returns the root path for a source, preferring the cached copy
// over the bundled one.
func (a *Accessor) Resolve(source string) (string, error) {
	for _, root := range []string{a.CacheRoot, a.BundledRoot} {
		p := filepath.Join(root, source)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s; download it first", ErrSourceNotFound, source)
}

// Connect returns a connector handle for the source whose writes and
// removes consult the lock registry.
func (a *Accessor) Connect(source string) (connector.Handle, string, error) {
	root, err := a.Resolve(source)
	if err != nil {
		return nil, "", err
	}
	return connector.Locked(connector.NewFSHandle(root), root, a.Locks), root, nil
}

// ConnectorConfig builds the connector configuration for a source, filling
// domains from metadata.json when present.
func (a *Accessor) ConnectorConfig(source string) (*connector.Config, error) {
	root, err := a.Resolve(source)
	if err != nil {
		return nil, err
	}
	var domains map[string][]string
	meta, err := LoadMetadata(root)
	switch {
	case err == nil:
		domains = meta.Domains
	case os.IsNotExist(err):
		// Metadata is optional; emit a config without domains.
	default:
		return nil, err
	}
	return connector.NewConfig(source, root, domains), nil
}

// SourceInfo is one row of the local study listing.
type SourceInfo struct {
	Source      string
	Description string
	Origin      string // "bundled" or "cached"
	Locked      bool
}

// ListSources enumerates bundled and cached studies with their metadata
// descriptions, sorted by source name. A source present in both places is
// reported once, as cached.
func (a *Accessor) ListSources() ([]SourceInfo, error) {
	seen := make(map[string]SourceInfo)
	for _, origin := range []struct{ root, name string }{
		{a.BundledRoot, "bundled"},
		{a.CacheRoot, "cached"},
	} {
		entries, err := os.ReadDir(origin.root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			root := filepath.Join(origin.root, e.Name())
			info := SourceInfo{Source: e.Name(), Origin: origin.name, Locked: a.Locks.IsLocked(root)}
			if meta, err := LoadMetadata(root); err == nil {
				info.Description = meta.Description
			} else if !os.IsNotExist(err) {
				return nil, err
			}
			seen[e.Name()] = info // cached pass overwrites bundled
		}
	}
	out := make([]SourceInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
