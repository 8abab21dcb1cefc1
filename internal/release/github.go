// GitHub release store client.

package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// downloadBurst is the rate limiter burst for archive downloads, sized to
// one copy-loop buffer.
const downloadBurst = 64 * 1024

// Client is the GitHub releases implementation of Catalog.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	limiter    *rate.Limiter // nil means unlimited download bandwidth
}

// NewClient creates a GitHub release store client. tokens may be nil for
// public repositories. maxBytesPerSecond of 0 disables bandwidth limiting.
func NewClient(tokens TokenSource, maxBytesPerSecond int64) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    "https://api.github.com",
		tokens:     tokens,
	}
	if maxBytesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(maxBytesPerSecond), downloadBurst)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListReleases implements Catalog. GitHub returns releases most recent
// first; that order is preserved.
func (c *Client) ListReleases(ctx context.Context, repo string) ([]Release, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/releases?per_page=100", repo))
	if err != nil {
		return nil, err
	}
	var result []struct {
		TagName    string `json:"tag_name"`
		Tag        string `json:"tag"`
		Name       string `json:"name"`
		Draft      bool   `json:"draft"`
		Prerelease bool   `json:"prerelease"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("list releases for %s: %w", repo, err)
	}
	releases := make([]Release, 0, len(result))
	for _, r := range result {
		tag := r.TagName
		if tag == "" {
			tag = r.Tag
		}
		releases = append(releases, Release{Tag: tag, Name: r.Name, Draft: r.Draft, Prerelease: r.Prerelease})
	}
	return releases, nil
}

// releaseEnvelope is the single-release response shape shared by the
// by-tag and latest endpoints.
type releaseEnvelope struct {
	TagName string        `json:"tag_name"`
	Tag     string        `json:"tag"`
	Assets  []assetRecord `json:"assets"`
}

func (r *releaseEnvelope) tag() string {
	if r.TagName != "" {
		return r.TagName
	}
	return r.Tag
}

func (c *Client) releaseByTag(ctx context.Context, repo, tag string) (*releaseEnvelope, error) {
	path := fmt.Sprintf("/repos/%s/releases/tags/%s", repo, url.PathEscape(tag))
	if tag == LatestTag {
		path = fmt.Sprintf("/repos/%s/releases/latest", repo)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var rel releaseEnvelope
	if err := c.do(req, &rel); err != nil {
		return nil, fmt.Errorf("fetch release %s of %s: %w", tag, repo, err)
	}
	return &rel, nil
}

// ListAssets implements Catalog.
func (c *Client) ListAssets(ctx context.Context, repo, tag string) ([]Asset, error) {
	rel, err := c.releaseByTag(ctx, repo, tag)
	if err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(rel.Assets))
	for i := range rel.Assets {
		a := &rel.Assets[i]
		assets = append(assets, Asset{FileName: a.Name, Size: a.Size, Tag: a.normalizedTag(rel.tag())})
	}
	return assets, nil
}

// DownloadAsset implements Catalog. The archive is streamed to
// destDir/name; a partial file left by a failed transfer is removed.
func (c *Client) DownloadAsset(ctx context.Context, repo, tag, name, destDir string) error {
	rel, err := c.releaseByTag(ctx, repo, tag)
	if err != nil {
		return err
	}
	var downloadURL string
	for i := range rel.Assets {
		if rel.Assets[i].Name == name {
			downloadURL = fmt.Sprintf("%s/repos/%s/releases/assets/%d", c.baseURL, repo, rel.Assets[i].ID)
			break
		}
	}
	if downloadURL == "" {
		return fmt.Errorf("asset %s not present in release %s of %s", name, rel.tag(), repo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return err
	}
	// The asset endpoint serves the binary payload for this Accept header,
	// for private repositories as well.
	req.Header.Set("Accept", "application/octet-stream")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("resolve access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}

	dest := filepath.Join(destDir, name)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if err := c.copyLimited(ctx, f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest) // Clean up partial file.
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}

// copyLimited copies src to dst, pacing reads through the bandwidth limiter
// when one is configured.
func (c *Client) copyLimited(ctx context.Context, dst io.Writer, src io.Reader) error {
	if c.limiter == nil {
		_, err := io.Copy(dst, src)
		return err
	}
	buf := make([]byte, downloadBurst)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := c.limiter.WaitN(ctx, n); werr != nil {
				return werr
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
