// Downloads study archives from the release store into the cache.

package studycache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/trialverse/trialdata/internal/lockfs"
	"github.com/trialverse/trialdata/internal/release"
)

// Downloader fetches one study at a time: resolve version, list assets,
// download, extract, verify, lock. There is no offline fallback here; a
// network failure during download always fails the operation.
type Downloader struct {
	Catalog release.Catalog
	Locks   *lockfs.Registry
	Root    string // cache root
}

// DownloadOptions modify a single Download call.
type DownloadOptions struct {
	// Version is a release tag, or empty / release.LatestTag for the most
	// recent release.
	Version string
	// Force re-downloads the study even when a cached copy exists,
	// replacing it wholesale.
	Force bool
}

// Download ensures the named study is present in the cache and returns its
// path. With a cached copy and Force unset this touches the network not at
// all. The returned study folder is always locked.
func (d *Downloader) Download(ctx context.Context, repo, source string, opts DownloadOptions) (string, error) {
	dest := filepath.Join(d.Root, source)

	if info, err := os.Stat(dest); err == nil && info.IsDir() && !opts.Force {
		slog.Debug("Study already cached", "source", source, "path", dest)
		return dest, nil
	}

	requested := opts.Version
	if requested == "" {
		requested = release.LatestTag
	}
	resolved := requested
	if requested == release.LatestTag {
		releases, err := d.Catalog.ListReleases(ctx, repo)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrCatalogUnreachable, err)
		}
		if len(releases) == 0 {
			return "", fmt.Errorf("%w in %s", ErrNoReleasesFound, repo)
		}
		resolved = releases[0].Tag
	}

	assets, err := d.Catalog.ListAssets(ctx, repo, resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAssetListFailed, err)
	}

	archive := source + ".zip"
	var names []string
	present := false
	for _, a := range assets {
		if a.Tag != "" && a.Tag != resolved {
			continue
		}
		names = append(names, a.FileName)
		if a.FileName == archive {
			present = true
		}
	}
	if !present {
		return "", fmt.Errorf("archive %s %w %s of %s; release contains: %s",
			archive, ErrAssetNotFound, resolved, repo, strings.Join(names, ", "))
	}

	// The download primitive resolves the literal "latest" token more
	// reliably than a concrete tag string, so when the caller asked for
	// latest the resolved tag is used only for verification and the lock
	// reason.
	downloadTag := resolved
	if requested == release.LatestTag {
		downloadTag = release.LatestTag
	}
	tmp, err := os.MkdirTemp("", "trialdata-download-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := d.Catalog.DownloadAsset(ctx, repo, downloadTag, archive, tmp); err != nil {
		return "", fmt.Errorf("download %s: %w", archive, err)
	}
	zipPath := filepath.Join(tmp, archive)
	if _, err := os.Stat(zipPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrZipMissing, archive)
	}

	// Extract into a staging directory next to the final location so the
	// verified study can be moved into place with a single rename. Another
	// process downloading the same study concurrently cannot leave a
	// half-extracted folder visible.
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(d.Root, ".extract-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractZip(zipPath, staging); err != nil {
		return "", fmt.Errorf("extract %s: %w", archive, err)
	}

	// The archive must extract to exactly one root folder named after the
	// source. Contributor-uploaded archives sometimes carry a mismatched
	// root or stray siblings; refuse rather than cache under the wrong name
	// or silently drop entries.
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() || entries[0].Name() != source {
		return "", fmt.Errorf("%w %s: archive must contain a single root folder named %q", ErrUnexpectedLayout, dest, source)
	}
	extracted := filepath.Join(staging, source)

	if _, err := os.Stat(dest); err == nil {
		// Replace, not merge. Unlock first so the hardened modes do not
		// block removal.
		d.Locks.Unlock(dest)
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("replace cached study %s: %w", dest, err)
		}
	}
	if err := os.Rename(extracted, dest); err != nil {
		return "", fmt.Errorf("move study into cache: %w", err)
	}

	d.Locks.Lock(dest, "downloaded "+resolved)
	slog.Info("Study downloaded", "source", source, "version", resolved, "path", dest)
	return dest, nil
}

// extractZip unpacks the archive into destDir, rejecting entries that would
// escape it.
func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		name := filepath.FromSlash(f.Name)
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}
		target := filepath.Join(destDir, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			_ = src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
