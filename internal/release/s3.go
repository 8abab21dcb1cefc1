// S3 mirror backend for the release store.

package release

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Catalog implements Catalog against a bucket that mirrors release
// archives. Objects are keyed `<repo>/<tag>/<file>` (or `<tag>/<file>` when
// the repo prefix is empty); the most recently written tag is "latest".
type S3Catalog struct {
	client *s3.Client
	bucket string
}

// S3Config holds explicit construction parameters. Credentials come from the
// default AWS chain.
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional, for MinIO-style stores
	PathStyle bool
}

// NewS3Catalog creates an S3-backed release catalog.
func NewS3Catalog(ctx context.Context, cfg S3Config) (*S3Catalog, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Catalog{client: client, bucket: cfg.Bucket}, nil
}

// listObjects lists every object under prefix, following continuation tokens.
func (c *S3Catalog) listObjects(ctx context.Context, prefix string) (keys []string, sizes map[string]int64, modified map[string]time.Time, err error) {
	sizes = make(map[string]int64)
	modified = make(map[string]time.Time)
	var token *string
	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &c.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			keys = append(keys, key)
			if obj.Size != nil {
				sizes[key] = *obj.Size
			}
			modified[key] = aws.ToTime(obj.LastModified)
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return keys, sizes, modified, nil
}

func repoPrefix(repo string) string {
	if repo == "" {
		return ""
	}
	return repo + "/"
}

// ListReleases implements Catalog: tags are the first key segment under the
// repo prefix, ordered by the newest object they contain, most recent first.
func (c *S3Catalog) ListReleases(ctx context.Context, repo string) ([]Release, error) {
	prefix := repoPrefix(repo)
	keys, _, modified, err := c.listObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list releases for %s: %w", repo, err)
	}
	newest := make(map[string]time.Time)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		tag, _, ok := strings.Cut(rest, "/")
		if !ok || tag == "" {
			continue
		}
		if m := modified[key]; m.After(newest[tag]) {
			newest[tag] = m
		}
	}
	tags := make([]string, 0, len(newest))
	for tag := range newest {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return newest[tags[i]].After(newest[tags[j]]) })
	releases := make([]Release, 0, len(tags))
	for _, tag := range tags {
		releases = append(releases, Release{Tag: tag, Name: tag})
	}
	return releases, nil
}

func (c *S3Catalog) resolveTag(ctx context.Context, repo, tag string) (string, error) {
	if tag != LatestTag {
		return tag, nil
	}
	releases, err := c.ListReleases(ctx, repo)
	if err != nil {
		return "", err
	}
	if len(releases) == 0 {
		return "", fmt.Errorf("no releases in bucket %s", c.bucket)
	}
	return releases[0].Tag, nil
}

// ListAssets implements Catalog.
func (c *S3Catalog) ListAssets(ctx context.Context, repo, tag string) ([]Asset, error) {
	resolved, err := c.resolveTag(ctx, repo, tag)
	if err != nil {
		return nil, err
	}
	prefix := repoPrefix(repo) + resolved + "/"
	keys, sizes, _, err := c.listObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list assets for %s %s: %w", repo, resolved, err)
	}
	assets := make([]Asset, 0, len(keys))
	for _, key := range keys {
		assets = append(assets, Asset{FileName: path.Base(key), Size: sizes[key], Tag: resolved})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].FileName < assets[j].FileName })
	return assets, nil
}

// DownloadAsset implements Catalog.
func (c *S3Catalog) DownloadAsset(ctx context.Context, repo, tag, name, destDir string) error {
	resolved, err := c.resolveTag(ctx, repo, tag)
	if err != nil {
		return err
	}
	key := repoPrefix(repo) + resolved + "/" + name
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", c.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	dest := filepath.Join(destDir, name)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest) // Clean up partial file.
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return f.Close()
}
