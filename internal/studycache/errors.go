package studycache

import "errors"

// Download failure kinds. Each marks a distinct, non-retryable condition:
// the first two are transport failures, the rest are remote-data-integrity
// problems that retrying would not fix.
var (
	ErrCatalogUnreachable = errors.New("release catalog unreachable")
	ErrAssetListFailed    = errors.New("failed to list release assets")
	ErrNoReleasesFound    = errors.New("no releases found")
	ErrAssetNotFound      = errors.New("not found in release")
	ErrZipMissing         = errors.New("archive missing after download")
	ErrUnexpectedLayout   = errors.New("Extraction did not produce expected directory")
)
