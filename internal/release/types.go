// Package release talks to the remote store that hosts study archives.
//
// The primary backend is GitHub releases; an S3 mirror backend exists for
// deployments that copy release archives into a bucket. Both implement
// Catalog so the downloader and tests never depend on a concrete transport.
package release

import "context"

// LatestTag is the version token that asks the store to resolve the most
// recent release itself.
const LatestTag = "latest"

// Release is one published version of the dataset repository.
type Release struct {
	Tag        string
	Name       string
	Draft      bool
	Prerelease bool
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	FileName string
	Size     int64
	Tag      string
}

// Catalog lists releases and assets and downloads archives from a remote
// release store.
type Catalog interface {
	// ListReleases returns releases for repo, most recent first.
	ListReleases(ctx context.Context, repo string) ([]Release, error)
	// ListAssets returns the assets of the given tag. The LatestTag token is
	// resolved by the store.
	ListAssets(ctx context.Context, repo, tag string) ([]Asset, error)
	// DownloadAsset fetches the named asset of the given tag into destDir.
	DownloadAsset(ctx context.Context, repo, tag, name, destDir string) error
}

// TokenSource supplies an access token for authenticated stores. A nil
// TokenSource means anonymous access.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource wrapping a fixed personal access token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// assetRecord tolerates both spellings of the version column that release
// stores emit in asset listings. Everything downstream sees only the
// normalized Asset.Tag.
type assetRecord struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Tag     string `json:"tag"`
	TagName string `json:"tag_name"`
}

// normalizedTag maps the two possible upstream field names onto one value,
// preferring tag_name, and falling back to the enclosing release's tag.
func (a *assetRecord) normalizedTag(releaseTag string) string {
	switch {
	case a.TagName != "":
		return a.TagName
	case a.Tag != "":
		return a.Tag
	default:
		return releaseTag
	}
}
