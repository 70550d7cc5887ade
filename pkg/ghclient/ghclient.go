// Package ghclient wraps the GitHub API surface the Artifact Provider and
// Status Provider need: workflow-run artifact listing, combined status,
// check runs, and check suites. Authentication is resolved the way the
// teacher's CLI commands do it (github.com/cli/go-gh/v2's host-scoped
// token lookup), and calls are typed via google/go-github rather than
// hand-rolled REST, with every call passed through pkg/ratelimit's
// GitHub-API token bucket.
package ghclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	ghauth "github.com/cli/go-gh/v2/pkg/auth"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"

	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/ratelimit"
)

var log = logger.New("ghclient")

// Client is a repo-scoped GitHub API client.
type Client struct {
	gh    *github.Client
	Owner string
	Repo  string
}

// New resolves a GitHub token for github.com (GH_TOKEN/GITHUB_TOKEN env
// vars or the gh CLI's stored auth, via go-gh, then GITHUB_API_TOKEN when
// none of those yields one) and returns a Client scoped to owner/repo.
func New(owner, repo string) (*Client, error) {
	token, source := ghauth.TokenForHost("github.com")
	if token == "" {
		token, source = os.Getenv("GITHUB_API_TOKEN"), "GITHUB_API_TOKEN"
	}
	if token == "" {
		return nil, fmt.Errorf("no GitHub token found: set GITHUB_TOKEN or run `gh auth login`")
	}
	log.Printf("resolved GitHub token from %s", source)

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return &Client{gh: github.NewClient(httpClient), Owner: owner, Repo: repo}, nil
}

// NewWithHTTPClient builds a Client around an already-configured
// *http.Client, used by tests to inject a fake transport.
func NewWithHTTPClient(owner, repo string, httpClient *http.Client) *Client {
	return &Client{gh: github.NewClient(httpClient), Owner: owner, Repo: repo}
}

// SetBaseURL overrides the GitHub API base URL, used by tests (both in
// this package and in packages built on top of it, like pkg/artifacts)
// to point the client at an httptest.Server instead of api.github.com.
func (c *Client) SetBaseURL(base *url.URL) {
	c.gh.BaseURL = base
}

func (c *Client) withRateLimit(ctx context.Context, fn func() error) error {
	return ratelimit.ExecuteWithRetry(ctx, ratelimit.OperationGitHubAPI, fn)
}

// ListArtifacts lists the repository's workflow-run artifacts, newest
// first, one page at a time (the Named Artifact Lookup strategy).
func (c *Client) ListArtifacts(ctx context.Context, page, perPage int) ([]*github.Artifact, *github.Response, error) {
	var artifacts []*github.Artifact
	var resp *github.Response
	err := c.withRateLimit(ctx, func() error {
		opts := &github.ListArtifactsOptions{ListOptions: github.ListOptions{Page: page, PerPage: perPage}}
		list, r, err := c.gh.Actions.ListArtifacts(ctx, c.Owner, c.Repo, opts)
		resp = r
		if err != nil {
			return err
		}
		artifacts = list.Artifacts
		return nil
	})
	return artifacts, resp, err
}

// ListWorkflowRunsByHeadSHA lists workflow runs whose head_sha matches sha,
// paginated at 100 per the Workflow-run Lookup strategy.
func (c *Client) ListWorkflowRunsByHeadSHA(ctx context.Context, sha string, page int) ([]*github.WorkflowRun, *github.Response, error) {
	var runs []*github.WorkflowRun
	var resp *github.Response
	err := c.withRateLimit(ctx, func() error {
		opts := &github.ListWorkflowRunsOptions{
			HeadSHA:     sha,
			ListOptions: github.ListOptions{Page: page, PerPage: 100},
		}
		list, r, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.Owner, c.Repo, opts)
		resp = r
		if err != nil {
			return err
		}
		runs = list.WorkflowRuns
		return nil
	})
	return runs, resp, err
}

// ListWorkflowRunArtifacts lists the artifacts attached to a specific run.
func (c *Client) ListWorkflowRunArtifacts(ctx context.Context, runID int64, page int) ([]*github.Artifact, *github.Response, error) {
	var artifacts []*github.Artifact
	var resp *github.Response
	err := c.withRateLimit(ctx, func() error {
		opts := &github.ListArtifactsOptions{ListOptions: github.ListOptions{Page: page, PerPage: 100}}
		list, r, err := c.gh.Actions.ListWorkflowRunArtifacts(ctx, c.Owner, c.Repo, runID, opts)
		resp = r
		if err != nil {
			return err
		}
		artifacts = list.Artifacts
		return nil
	})
	return artifacts, resp, err
}

// ArtifactDownloadURL resolves the short-lived redirect URL a client must
// GET to fetch an artifact's zip content.
func (c *Client) ArtifactDownloadURL(ctx context.Context, artifactID int64) (string, error) {
	var downloadURL string
	err := c.withRateLimit(ctx, func() error {
		u, _, err := c.gh.Actions.DownloadArtifact(ctx, c.Owner, c.Repo, artifactID, 3)
		if err != nil {
			return err
		}
		downloadURL = u.String()
		return nil
	})
	return downloadURL, err
}

// GetCommit fetches a commit, used for the lazy one-shot commit-date fetch
// during the named-artifact pagination cutoff check.
func (c *Client) GetCommit(ctx context.Context, sha string) (*github.Commit, error) {
	var commit *github.Commit
	err := c.withRateLimit(ctx, func() error {
		rc, _, err := c.gh.Repositories.GetCommit(ctx, c.Owner, c.Repo, sha, nil)
		if err != nil {
			return err
		}
		commit = rc.Commit
		return nil
	})
	return commit, err
}

// GetCombinedStatus fetches the legacy combined commit-status for ref.
func (c *Client) GetCombinedStatus(ctx context.Context, ref string) (*github.CombinedStatus, error) {
	var status *github.CombinedStatus
	err := c.withRateLimit(ctx, func() error {
		s, _, err := c.gh.Repositories.GetCombinedStatus(ctx, c.Owner, c.Repo, ref, nil)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	return status, err
}

// ListCheckRunsForRef fetches every check run reported against ref.
func (c *Client) ListCheckRunsForRef(ctx context.Context, ref string) ([]*github.CheckRun, error) {
	var runs []*github.CheckRun
	err := c.withRateLimit(ctx, func() error {
		page := 1
		for {
			result, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.Owner, c.Repo, ref, &github.ListCheckRunsOptions{
				ListOptions: github.ListOptions{Page: page, PerPage: 100},
			})
			if err != nil {
				return err
			}
			runs = append(runs, result.CheckRuns...)
			if len(result.CheckRuns) < 100 {
				return nil
			}
			page++
		}
	})
	return runs, err
}

// ListCheckSuitesForRef fetches every check suite reported against ref.
func (c *Client) ListCheckSuitesForRef(ctx context.Context, ref string) ([]*github.CheckSuite, error) {
	var suites []*github.CheckSuite
	err := c.withRateLimit(ctx, func() error {
		result, _, err := c.gh.Checks.ListCheckSuitesForRef(ctx, c.Owner, c.Repo, ref, nil)
		if err != nil {
			return err
		}
		suites = result.CheckSuites
		return nil
	})
	return suites, err
}
