// Remote study listing with offline fallback.

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trialverse/trialdata/internal/release"
	"github.com/trialverse/trialdata/internal/studycache"
)

// ListAvailable returns the studies published in the most recent release,
// with each entry's cached flag computed against cacheRoot. On success the
// listing is persisted as the offline-fallback snapshot; when the remote is
// unreachable the last snapshot is returned instead (with a warning). The
// fallback never applies to downloads, only to this listing.
func ListAvailable(ctx context.Context, cat release.Catalog, repo, cacheRoot string) (studycache.Snapshot, error) {
	snap, err := fetchListing(ctx, cat, repo, cacheRoot)
	if err != nil {
		if stale, ok := studycache.LoadSnapshotWithRefresh(cacheRoot, err.Error()); ok {
			return stale, nil
		}
		return nil, err
	}
	studycache.SaveSnapshot(cacheRoot, snap)
	return snap, nil
}

func fetchListing(ctx context.Context, cat release.Catalog, repo, cacheRoot string) (studycache.Snapshot, error) {
	releases, err := cat.ListReleases(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("list releases for %s: %w", repo, err)
	}
	if len(releases) == 0 {
		return studycache.Snapshot{}, nil
	}
	tag := releases[0].Tag
	assets, err := cat.ListAssets(ctx, repo, tag)
	if err != nil {
		return nil, fmt.Errorf("list assets for %s %s: %w", repo, tag, err)
	}
	snap := make(studycache.Snapshot, 0, len(assets))
	for _, a := range assets {
		if !strings.HasSuffix(a.FileName, ".zip") {
			continue
		}
		source := strings.TrimSuffix(a.FileName, ".zip")
		info, err := os.Stat(filepath.Join(cacheRoot, source))
		snap = append(snap, studycache.Entry{
			Source:  source,
			Version: a.Tag,
			SizeMB:  float64(a.Size) / (1024 * 1024),
			Cached:  err == nil && info.IsDir(),
		})
	}
	return snap, nil
}
