package remediate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production remediation API endpoint
const DefaultBaseURL = "https://jules.googleapis.com/v1alpha"

// Session state values reported by the remediation API
const (
	SessionInProgress = "IN_PROGRESS"
	SessionCompleted  = "COMPLETED"
	SessionFailed     = "FAILED"
)

// Session is the remote view of one remediation work item
type Session struct {
	Name           string
	State          string
	PullRequestURL string // Set once the session has produced a PR
}

// RemediationError is a failed call to the remote remediation API
type RemediationError struct {
	Op     string
	Detail string
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("remediation %s failed: %s", e.Op, e.Detail)
}

// Client talks to the remote remediation service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a remediation API client. An empty baseURL selects
// the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithComponent("remediate"),
	}
}

type sourceEntry struct {
	Name       string `json:"name"`
	GitHubRepo struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	} `json:"githubRepo"`
}

type sourcesResponse struct {
	Sources       []sourceEntry `json:"sources"`
	NextPageToken string        `json:"nextPageToken"`
}

type sessionResponse struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Outputs []struct {
		PullRequest struct {
			URL string `json:"url"`
		} `json:"pullRequest"`
	} `json:"outputs"`
}

// OpenSession opens a remediation session describing a failure and
// returns the session identifier.
func (c *Client) OpenSession(ctx context.Context, apiKey, repoName, failureText string) (string, error) {
	if apiKey == "" {
		return "", &RemediationError{Op: "open_session", Detail: "no API key configured"}
	}

	source, err := c.findSource(ctx, apiKey, repoName)
	if err != nil {
		return "", err
	}
	if source == "" {
		// Source not listed; construct the conventional name and let the
		// remote side reject it if the repository was never installed
		c.logger.Warn().Str("repo", repoName).Msg("source not found, constructing name")
		source = "sources/github/" + repoName
	}

	payload := map[string]interface{}{
		"prompt": fmt.Sprintf("I encountered an error running the app. Here is the error log:\n\n%s\n\nPlease fix it.", failureText),
		"sourceContext": map[string]interface{}{
			"source": source,
			"githubRepoContext": map[string]string{
				"startingBranch": "main",
			},
		},
		"automationMode": "AUTO_CREATE_PR",
		"title":          "Fix build/run error for " + repoName,
	}

	var resp sessionResponse
	if err := c.do(ctx, apiKey, http.MethodPost, c.baseURL+"/sessions", payload, &resp); err != nil {
		return "", &RemediationError{Op: "open_session", Detail: err.Error()}
	}
	return resp.Name, nil
}

// GetSession fetches the current state of an open session
func (c *Client) GetSession(ctx context.Context, apiKey, id string) (*Session, error) {
	var resp sessionResponse
	if err := c.do(ctx, apiKey, http.MethodGet, c.baseURL+"/"+id, nil, &resp); err != nil {
		return nil, &RemediationError{Op: "get_session", Detail: err.Error()}
	}

	session := &Session{Name: resp.Name, State: resp.State}
	for _, out := range resp.Outputs {
		if out.PullRequest.URL != "" {
			session.PullRequestURL = out.PullRequest.URL
			break
		}
	}
	return session, nil
}

// findSource pages through the service's installed sources looking for a
// match on "owner/repo".
func (c *Client) findSource(ctx context.Context, apiKey, repoName string) (string, error) {
	pageToken := ""
	for {
		u := c.baseURL + "/sources"
		if pageToken != "" {
			u += "?pageToken=" + url.QueryEscape(pageToken)
		}

		var resp sourcesResponse
		if err := c.do(ctx, apiKey, http.MethodGet, u, nil, &resp); err != nil {
			return "", &RemediationError{Op: "list_sources", Detail: err.Error()}
		}

		for _, src := range resp.Sources {
			name := src.GitHubRepo.Owner + "/" + src.GitHubRepo.Repo
			if strings.EqualFold(name, repoName) {
				return src.Name, nil
			}
		}

		if resp.NextPageToken == "" {
			return "", nil
		}
		pageToken = resp.NextPageToken
	}
}

func (c *Client) do(ctx context.Context, apiKey, method, url string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
