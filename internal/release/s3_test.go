package release

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const s3TestBucket = "trial-archives"

type s3Object struct {
	key      string
	body     string
	modified time.Time
	// truncate declares a larger Content-Length than is written, so the
	// client sees the connection drop mid-body.
	truncate bool
}

// newS3Server fakes the two S3 operations the catalog uses, path-style:
// ListObjectsV2 (GET /<bucket>?list-type=2) and GetObject (GET /<bucket>/<key>).
func newS3Server(t *testing.T, objects []s3Object) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("list-type") {
			prefix := r.URL.Query().Get("prefix")
			var b strings.Builder
			b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
			b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			fmt.Fprintf(&b, "<Name>%s</Name><IsTruncated>false</IsTruncated>", s3TestBucket)
			for _, o := range objects {
				if !strings.HasPrefix(o.key, prefix) {
					continue
				}
				fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
					o.key, len(o.body), o.modified.UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			b.WriteString("</ListBucketResult>")
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, b.String())
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/"+s3TestBucket+"/")
		for _, o := range objects {
			if o.key != key {
				continue
			}
			if o.truncate {
				w.Header().Set("Content-Length", "1048576")
				_, _ = io.WriteString(w, o.body)
				return
			}
			_, _ = io.WriteString(w, o.body)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>no such key</Message></Error>`)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestS3Catalog(t *testing.T, objects []s3Object) *S3Catalog {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	server := newS3Server(t, objects)
	cat, err := NewS3Catalog(t.Context(), S3Config{
		Region:    "us-east-1",
		Bucket:    s3TestBucket,
		Endpoint:  server.URL,
		PathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

const s3TestRepo = "trialverse/trial-archives"

func s3TestObjects() []s3Object {
	older := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	return []s3Object{
		{key: s3TestRepo + "/v1.0.0/cardioguard.zip", body: "one", modified: older},
		{key: s3TestRepo + "/v1.0.0/checksums.txt", body: "sums", modified: older},
		{key: s3TestRepo + "/v2.0.0/cardioguard.zip", body: "two!", modified: newer},
		{key: s3TestRepo + "/v2.0.0/neuroshield.zip", body: "brain", modified: newer},
	}
}

func TestS3ListReleases(t *testing.T) {
	cat := newTestS3Catalog(t, s3TestObjects())

	releases, err := cat.ListReleases(t.Context(), s3TestRepo)
	if err != nil {
		t.Fatal(err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases, got %v", releases)
	}
	if releases[0].Tag != "v2.0.0" || releases[1].Tag != "v1.0.0" {
		t.Fatalf("tags must be ordered newest first: %v", releases)
	}
}

func TestS3ListAssetsResolvesLatest(t *testing.T) {
	cat := newTestS3Catalog(t, s3TestObjects())

	assets, err := cat.ListAssets(t.Context(), s3TestRepo, LatestTag)
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected the 2 assets of v2.0.0, got %v", assets)
	}
	if assets[0].FileName != "cardioguard.zip" || assets[1].FileName != "neuroshield.zip" {
		t.Fatalf("assets must be sorted by name: %v", assets)
	}
	if assets[0].Tag != "v2.0.0" {
		t.Fatalf("latest must resolve to the newest tag, got %q", assets[0].Tag)
	}
	if assets[0].Size != int64(len("two!")) {
		t.Fatalf("size lost: %v", assets[0])
	}
}

func TestS3ListAssetsExplicitTag(t *testing.T) {
	cat := newTestS3Catalog(t, s3TestObjects())

	assets, err := cat.ListAssets(t.Context(), s3TestRepo, "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %v", assets)
	}
	for _, a := range assets {
		if a.Tag != "v1.0.0" {
			t.Fatalf("asset carries wrong tag: %v", a)
		}
	}
}

func TestS3DownloadAsset(t *testing.T) {
	cat := newTestS3Catalog(t, s3TestObjects())
	dest := t.TempDir()

	if err := cat.DownloadAsset(t.Context(), s3TestRepo, "v2.0.0", "cardioguard.zip", dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "cardioguard.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two!" {
		t.Fatalf("downloaded body = %q", data)
	}
}

func TestS3DownloadAssetMissing(t *testing.T) {
	cat := newTestS3Catalog(t, s3TestObjects())
	dest := t.TempDir()

	err := cat.DownloadAsset(t.Context(), s3TestRepo, "v2.0.0", "nope.zip", dest)
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, statErr := os.Stat(filepath.Join(dest, "nope.zip")); !os.IsNotExist(statErr) {
		t.Fatal("failed download must not create the destination file")
	}
}

func TestS3DownloadAssetCleansUpPartialFile(t *testing.T) {
	objects := s3TestObjects()
	objects = append(objects, s3Object{
		key:      s3TestRepo + "/v2.0.0/flaky.zip",
		body:     "partial",
		modified: time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC),
		truncate: true,
	})
	cat := newTestS3Catalog(t, objects)
	dest := t.TempDir()

	err := cat.DownloadAsset(t.Context(), s3TestRepo, "v2.0.0", "flaky.zip", dest)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	if _, statErr := os.Stat(filepath.Join(dest, "flaky.zip")); !os.IsNotExist(statErr) {
		t.Fatal("partial file must be removed after a failed download")
	}
}
