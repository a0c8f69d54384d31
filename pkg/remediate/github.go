package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PRState is the merge status of a remediation pull request
type PRState string

const (
	PROpen    PRState = "open"
	PRMerged  PRState = "merged"
	PRClosed  PRState = "closed"
	PRUnknown PRState = "unknown"
)

// GitHubClient polls pull-request merge status
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHubClient creates a PR status client. An empty baseURL selects
// the public GitHub API.
func NewGitHubClient(baseURL string) *GitHubClient {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PRStatus resolves a pull-request web URL to its merge status
func (g *GitHubClient) PRStatus(ctx context.Context, prURL, token string) (PRState, error) {
	owner, repo, num, err := ParsePRURL(prURL)
	if err != nil {
		return PRUnknown, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", g.baseURL, owner, repo, num)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return PRUnknown, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return PRUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PRUnknown, fmt.Errorf("pull request lookup: status %d", resp.StatusCode)
	}

	var pr struct {
		State  string `json:"state"`
		Merged bool   `json:"merged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return PRUnknown, err
	}

	switch {
	case pr.Merged:
		return PRMerged, nil
	case pr.State == "open":
		return PROpen, nil
	case pr.State == "closed":
		return PRClosed, nil
	default:
		return PRUnknown, nil
	}
}

// ParsePRURL extracts owner, repository, and PR number from a pull
// request web URL like https://github.com/acme/widgets/pull/42.
func ParsePRURL(prURL string) (owner, repo string, num int, err error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(prURL, "https://"), "http://")
	parts := strings.Split(strings.TrimSuffix(trimmed, "/"), "/")
	// host/owner/repo/pull/number
	if len(parts) != 5 || parts[3] != "pull" {
		return "", "", 0, fmt.Errorf("unrecognized pull request URL: %s", prURL)
	}
	num, err = strconv.Atoi(parts[4])
	if err != nil {
		return "", "", 0, fmt.Errorf("unrecognized pull request number in %s", prURL)
	}
	return parts[1], parts[2], num, nil
}
