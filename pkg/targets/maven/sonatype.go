package maven

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
)

var sonatypeLog = logger.New("target:maven:sonatype")

// SonatypeClient is the process-wide (single-instance) staging-repository
// lifecycle client: legacy Nexus for bulk close/promote, the Central
// publisher API for "published?" checks and deployment-state polling.
type SonatypeClient struct {
	httpClient  *http.Client
	nexusBase   string
	centralBase string
	username    string
	password    string
}

// NewSonatypeClient builds a client. nexusBase/centralBase default to
// constants.DefaultSonatypeBaseURL/DefaultSonatypeCentralURL.
func NewSonatypeClient(httpClient *http.Client, nexusBase, centralBase, username, password string) *SonatypeClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if nexusBase == "" {
		nexusBase = constants.DefaultSonatypeBaseURL
	}
	if centralBase == "" {
		centralBase = constants.DefaultSonatypeCentralURL
	}
	return &SonatypeClient{httpClient: httpClient, nexusBase: nexusBase, centralBase: centralBase, username: username, password: password}
}

func (c *SonatypeClient) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "encode request body", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "build request to "+url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "request to "+url, err)
	}
	return resp, nil
}

type repositorySearchResponse struct {
	Data []struct {
		RepositoryID       string `json:"repositoryId"`
		Type               string `json:"type"`
		PortalDeploymentID string `json:"portal_deployment_id"`
	} `json:"data"`
}

// GetRepository requires exactly one active staging repository and returns
// it, failing otherwise per spec §4.6.
func (c *SonatypeClient) GetRepository(ctx context.Context) (craft.NexusRepository, error) {
	resp, err := c.do(ctx, http.MethodGet, c.nexusBase+"/manual/search/repositories", nil)
	if err != nil {
		return craft.NexusRepository{}, err
	}
	defer resp.Body.Close()

	var parsed repositorySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return craft.NexusRepository{}, errs.Wrap(errs.Transient, "decode repository search response", err)
	}

	var active []craft.NexusRepository
	for _, d := range parsed.Data {
		if d.Type != "open" && d.Type != "closed" {
			continue
		}
		active = append(active, craft.NexusRepository{
			RepositoryID: d.RepositoryID,
			DeploymentID: d.PortalDeploymentID,
			State:        craft.NexusState(d.Type),
		})
	}

	switch len(active) {
	case 0:
		return craft.NexusRepository{}, errs.New(errs.PreconditionFailed, "No available repositories")
	case 1:
		return active[0], nil
	default:
		return craft.NexusRepository{}, errs.New(errs.PreconditionFailed, "There are more than 1 active repositories")
	}
}

type bulkActionRequest struct {
	StagedRepositoryIDs  []string `json:"stagedRepositoryIds"`
	Description          string   `json:"description"`
	AutoDropAfterRelease bool     `json:"autoDropAfterRelease"`
}

// CloseRepository closes id and polls until its state is NexusClosed, per
// spec §4.6's 1-minute poll interval and 2-hour deadline.
func (c *SonatypeClient) CloseRepository(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, c.nexusBase+"/service/local/staging/bulk/close",
		bulkActionRequest{StagedRepositoryIDs: []string{id}, AutoDropAfterRelease: true})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errs.Newf(errs.PreconditionFailed, "close repository %s rejected: status %d", id, resp.StatusCode)
	}

	return c.pollUntil(ctx, constants.DefaultSonatypeStagingPollInterval, constants.DefaultSonatypeStagingTimeout, func() (bool, error) {
		repo, err := c.GetRepository(ctx)
		if err != nil {
			return false, err
		}
		return repo.State == craft.NexusClosed, nil
	})
}

type centralStatusResponse struct {
	DeploymentState string `json:"deploymentState"`
}

// ReleaseRepository promotes id via bulk/promote, then polls the Central
// publisher's deployment status until PUBLISHED.
func (c *SonatypeClient) ReleaseRepository(ctx context.Context, id, deploymentID string) error {
	resp, err := c.do(ctx, http.MethodPost, c.nexusBase+"/service/local/staging/bulk/promote",
		bulkActionRequest{StagedRepositoryIDs: []string{id}, AutoDropAfterRelease: true})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errs.Newf(errs.PreconditionFailed, "promote repository %s rejected: status %d", id, resp.StatusCode)
	}

	return c.pollUntil(ctx, constants.DefaultSonatypeStagingPollInterval, constants.DefaultSonatypeStagingTimeout, func() (bool, error) {
		resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/publisher/status?id=%s", c.centralBase, deploymentID), nil)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		var status centralStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false, errs.Wrap(errs.Transient, "decode deployment status", err)
		}
		switch status.DeploymentState {
		case "PUBLISHED":
			return true, nil
		case "VALIDATED", "PUBLISHING":
			return false, nil
		default:
			return false, errs.Newf(errs.PreconditionFailed, "deployment %s entered terminal state %q", deploymentID, status.DeploymentState)
		}
	})
}

// CloseAndReleaseRepository requires repo to be open, closes it, and (on
// success) releases it. A closeRepository rejection must not be followed
// by releaseRepository.
func (c *SonatypeClient) CloseAndReleaseRepository(ctx context.Context, repo craft.NexusRepository) error {
	if repo.State != craft.NexusOpen {
		return errs.Newf(errs.PreconditionFailed, "repository %s is not open (state=%s)", repo.RepositoryID, repo.State)
	}
	if err := c.CloseRepository(ctx, repo.RepositoryID); err != nil {
		return err
	}
	return c.ReleaseRepository(ctx, repo.RepositoryID, repo.DeploymentID)
}

// IsPublished queries the Central publisher's "published?" endpoint for
// (namespace, pkg, version), matching it strictly against the boolean true.
func (c *SonatypeClient) IsPublished(ctx context.Context, namespace, pkg, version string) (bool, error) {
	url := fmt.Sprintf("%s/publisher/published?namespace=%s&name=%s&version=%s", c.centralBase, namespace, pkg, version)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body struct {
		Published bool `json:"published"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, errs.Wrap(errs.Transient, "decode published? response", err)
	}
	return body.Published == true, nil
}

// pollUntil calls check every interval until it returns true, an error, or
// deadline elapses (returning a Deadline error).
func (c *SonatypeClient) pollUntil(ctx context.Context, interval, deadline time.Duration, check func() (bool, error)) error {
	cutoff := time.Now().Add(deadline)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(cutoff) {
			return errs.New(errs.Deadline, "Deadline for Nexus repository status change reached")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
