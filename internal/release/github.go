package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultPerPage is the number of releases fetched from the API.
	defaultPerPage = 30

	// maxJSONResponseBytes is the upper bound on a releases API response.
	maxJSONResponseBytes = 10 << 20

	defaultUserAgent = "handoff-updater"
)

type (
	// GitHubSource lists releases from a GitHub-compatible releases API.
	GitHubSource struct {
		httpClient *http.Client
		owner      string
		repo       string
		baseURL    string
		token      string
		userAgent  string
	}

	// GitHubOption configures a GitHubSource during construction.
	GitHubOption func(*GitHubSource)

	// RateLimitError is returned when the API rate limit is exhausted.
	RateLimitError struct {
		ResetAt time.Time
	}
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "release API rate limit exceeded"
	}
	return fmt.Sprintf("release API rate limit exceeded (resets at %s)", e.ResetAt.UTC().Format("15:04 UTC"))
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxies.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHubSource) {
		g.httpClient = c
	}
}

// WithBaseURL overrides the API base URL, primarily for test servers.
func WithBaseURL(base string) GitHubOption {
	return func(g *GitHubSource) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets a bearer token for authenticated requests.
func WithToken(token string) GitHubOption {
	return func(g *GitHubSource) {
		g.token = token
	}
}

// NewGitHubSource creates a source for owner/repo.
func NewGitHubSource(owner, repo string, opts ...GitHubOption) *GitHubSource {
	g := &GitHubSource{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		owner:      owner,
		repo:       repo,
		baseURL:    "https://api.github.com",
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListReleases fetches the most recent releases, newest first as published.
func (g *GitHubSource) ListReleases(ctx context.Context) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", g.baseURL, g.owner, g.repo, defaultPerPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching releases: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if isRateLimited(resp) {
		return nil, &RateLimitError{ResetAt: rateLimitReset(resp)}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("release API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var releases []Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}

	return releases, nil
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func rateLimitReset(resp *http.Response) time.Time {
	secs, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
