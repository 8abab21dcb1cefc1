// GitHub App authentication for private dataset repositories.

package release

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppAuth is a TokenSource backed by a GitHub App installation. It signs an
// app JWT, exchanges it for an installation access token, and caches the
// token until it nears expiry.
type AppAuth struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	httpClient     *http.Client
	baseURL        string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppAuth creates a TokenSource for the given app installation.
func NewAppAuth(appID, installationID int64, privateKey *rsa.PrivateKey) *AppAuth {
	return &AppAuth{
		appID:          appID,
		installationID: installationID,
		privateKey:     privateKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        "https://api.github.com",
	}
}

// appJWT creates a signed JWT for app authentication. GitHub requires a
// validity of at most 10 minutes; issuance is backdated 60s for clock drift.
func (a *AppAuth) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(a.appID, 10),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
}

// Token implements TokenSource, using the cached installation token when it
// expires more than 5 minutes from now.
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token != "" && time.Until(a.expires) > 5*time.Minute {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	signed, err := a.appJWT()
	if err != nil {
		return "", fmt.Errorf("generate app JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	a.mu.Lock()
	a.token = result.Token
	a.expires = result.ExpiresAt
	a.mu.Unlock()
	return result.Token, nil
}
