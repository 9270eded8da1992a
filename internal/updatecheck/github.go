package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAPIURL is the GitHub REST endpoint
	DefaultAPIURL = "https://api.github.com"

	// httpTimeout is the timeout for GitHub API requests
	httpTimeout = 10 * time.Second
)

// GitHubRelease is the subset of a GitHub release that is used.
type GitHubRelease struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

// GitHubClient handles communication with the GitHub Releases API.
type GitHubClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	repo       string
}

// NewGitHubClient creates a client for repo ("owner/name") at baseURL.
func NewGitHubClient(logger *zap.Logger, baseURL, repo string) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &GitHubClient{
		logger:     logger,
		httpClient: &http.Client{Timeout: httpTimeout},
		baseURL:    baseURL,
		repo:       repo,
	}
}

// GetRelease fetches the newest release, skipping prereleases unless
// includePrereleases is set.
func (c *GitHubClient) GetRelease(ctx context.Context, includePrereleases bool) (*GitHubRelease, error) {
	if !includePrereleases {
		var release GitHubRelease
		if err := c.get(ctx, "/releases/latest", &release); err != nil {
			return nil, err
		}
		return &release, nil
	}

	var releases []GitHubRelease
	if err := c.get(ctx, "/releases", &releases); err != nil {
		return nil, err
	}
	for i := range releases {
		if !releases[i].Draft {
			return &releases[i], nil
		}
	}
	return nil, fmt.Errorf("no releases found")
}

func (c *GitHubClient) get(ctx context.Context, path string, out any) error {
	url := fmt.Sprintf("%s/repos/%s%s", c.baseURL, c.repo, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Failed to fetch releases", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("failed to fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("GitHub API returned non-200 status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url))
		return fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode releases: %w", err)
	}
	return nil
}
