// Package artifacts implements the Artifact Provider: discovery of CI
// artifacts for a revision via two strategies (named-artifact lookup, then
// workflow-run lookup), idempotent concurrent download, and cached
// checksum computation. It is grounded on pkg/ghclient for GitHub API
// access and structurally satisfies pkg/targetdef.ArtifactProvider.
package artifacts

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/go-github/v84/github"
	"github.com/sourcegraph/conc/pool"

	"github.com/getsentry/craft/pkg/checksum"
	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/ghclient"
	"github.com/getsentry/craft/pkg/httputil"
	"github.com/getsentry/craft/pkg/logger"
)

var log = logger.New("artifacts")

// namedLookupAttempts and namedLookupSleep implement the "terminates after
// 3 attempts, emits exactly 2 sleeps" boundary behavior for the named
// artifact lookup strategy. namedLookupSleep is a var, not a const, so
// tests can shrink it instead of waiting out real 10-second sleeps.
const namedLookupAttempts = 3

var namedLookupSleep = 10 * time.Second

// Provider discovers, downloads, and checksums CI artifacts for one
// revision. A Provider is scoped to a single publish run: its download and
// checksum caches live for the run's lifetime and are never invalidated.
type Provider struct {
	gh             *ghclient.Client
	checksums      *checksum.Cache
	downloadClient *http.Client
	concurrency    int

	// downloadFn performs the actual network download; it is a field
	// rather than a direct call to doDownload so tests can substitute a
	// fake without standing up a real GitHub artifact-zip redirect.
	downloadFn func(ctx context.Context, artifact craft.RemoteArtifact, dstDir string) (string, error)

	mu            sync.Mutex
	downloadOnce  map[string]*sync.Once
	downloadCache map[string]string
	downloadErr   map[string]error

	commitDateOnce sync.Once
	commitDate     time.Time
	commitDateErr  error

	// globalFilters is the top-level .craft.yml "artifacts" config,
	// normalized (pkg/config.Config.ArtifactFilters). When set, it scopes
	// which workflow runs and artifact names the workflow-run lookup
	// strategy considers at all, ahead of each target's own
	// includeNames/excludeNames. Nil means no additional scoping.
	globalFilters []craft.ArtifactFilter
}

// SetGlobalFilters installs the normalized top-level artifact filter list
// (spec §4.1's config-normalization bullet). Call once, before Publish.
func (p *Provider) SetGlobalFilters(filters []craft.ArtifactFilter) {
	p.globalFilters = filters
}

// NewProvider builds a Provider. downloadClient may be nil to use
// http.DefaultClient; concurrency <= 0 falls back to
// constants.DefaultArtifactDownloadConcurrency.
func NewProvider(gh *ghclient.Client, downloadClient *http.Client, concurrency int) *Provider {
	if downloadClient == nil {
		downloadClient = http.DefaultClient
	}
	if concurrency <= 0 {
		concurrency = constants.DefaultArtifactDownloadConcurrency
	}
	p := &Provider{
		gh:             gh,
		checksums:      checksum.NewCache(),
		downloadClient: downloadClient,
		concurrency:    concurrency,
		downloadOnce:   make(map[string]*sync.Once),
		downloadCache:  make(map[string]string),
		downloadErr:    make(map[string]error),
	}
	p.downloadFn = p.doDownload
	return p
}

// FilterArtifactsForRevision discovers the artifacts matching filter for
// revision. It first tries the named-artifact lookup (a single artifact
// whose name equals the revision SHA, uploaded by a release-bundling CI
// step); if that comes up empty, it falls back to the workflow-run lookup,
// scanning runs triggered at that SHA and matching filter against both the
// run name (WorkflowPattern) and each artifact's name (ArtifactNames).
func (p *Provider) FilterArtifactsForRevision(ctx context.Context, revision craft.Revision, filter craft.ArtifactFilter) ([]craft.RemoteArtifact, error) {
	if artifact, err := p.findNamedArtifact(ctx, revision); err == nil {
		return []craft.RemoteArtifact{artifact}, nil
	} else if !errors.Is(err, errs.NotFoundErr) {
		return nil, err
	}
	return p.findByWorkflowRuns(ctx, revision, filter)
}

func (p *Provider) findNamedArtifact(ctx context.Context, revision craft.Revision) (craft.RemoteArtifact, error) {
	var lastErr error = errs.New(errs.NotFound, "no artifact named after revision")
	for attempt := 1; attempt <= namedLookupAttempts; attempt++ {
		artifact, found, err := p.searchNamedArtifactOnce(ctx, revision)
		switch {
		case err != nil:
			return craft.RemoteArtifact{}, err
		case found:
			return artifact, nil
		}
		if attempt < namedLookupAttempts {
			log.Printf("named artifact lookup attempt %d/%d missed for %s, sleeping", attempt, namedLookupAttempts, revision)
			select {
			case <-ctx.Done():
				return craft.RemoteArtifact{}, ctx.Err()
			case <-time.After(namedLookupSleep):
			}
		}
	}
	return craft.RemoteArtifact{}, lastErr
}

func (p *Provider) searchNamedArtifactOnce(ctx context.Context, revision craft.Revision) (craft.RemoteArtifact, bool, error) {
	page := 1
	for {
		list, resp, err := p.gh.ListArtifacts(ctx, page, 100)
		if err != nil {
			return craft.RemoteArtifact{}, false, errs.Wrap(errs.Transient, "list artifacts", err)
		}
		if len(list) == 0 {
			return craft.RemoteArtifact{}, false, nil
		}
		for _, a := range list {
			if a.GetName() == string(revision) {
				return toRemoteArtifact(a), true, nil
			}
		}
		revisionDate, err := p.getCommitDate(ctx, revision)
		if err != nil {
			return craft.RemoteArtifact{}, false, err
		}
		last := list[len(list)-1]
		if last.GetCreatedAt().Time.Before(revisionDate) {
			return craft.RemoteArtifact{}, false, nil
		}
		if resp == nil || resp.NextPage == 0 {
			return craft.RemoteArtifact{}, false, nil
		}
		page = resp.NextPage
	}
}

func (p *Provider) getCommitDate(ctx context.Context, revision craft.Revision) (time.Time, error) {
	p.commitDateOnce.Do(func() {
		commit, err := p.gh.GetCommit(ctx, string(revision))
		if err != nil {
			p.commitDateErr = errs.Wrap(errs.Transient, "get commit date", err)
			return
		}
		if commit.GetCommitter() != nil {
			p.commitDate = commit.GetCommitter().GetDate().Time
		} else if commit.GetAuthor() != nil {
			p.commitDate = commit.GetAuthor().GetDate().Time
		}
	})
	return p.commitDate, p.commitDateErr
}

func (p *Provider) findByWorkflowRuns(ctx context.Context, revision craft.Revision, filter craft.ArtifactFilter) ([]craft.RemoteArtifact, error) {
	seen := make(map[int64]bool)
	var out []craft.RemoteArtifact
	page := 1
	for {
		runs, resp, err := p.gh.ListWorkflowRunsByHeadSHA(ctx, string(revision), page)
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "list workflow runs", err)
		}
		for _, run := range runs {
			if !p.runQualifies(run.GetName(), filter) {
				continue
			}
			runArtifacts, err := p.listAllRunArtifacts(ctx, run.GetID())
			if err != nil {
				return nil, err
			}
			for _, a := range runArtifacts {
				if seen[a.GetID()] || !p.artifactQualifies(a.GetName(), filter) {
					continue
				}
				seen[a.GetID()] = true
				out = append(out, toRemoteArtifact(a))
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	if len(out) == 0 {
		return nil, errs.New(errs.NotFound, "no workflow-run artifacts matched revision")
	}
	return out, nil
}

// runQualifies reports whether a workflow run named runName should be
// scanned at all: its own WorkflowPattern (from the target's filter) must
// match, and, when a global artifacts config is set, at least one of its
// entries' WorkflowPattern must also match.
func (p *Provider) runQualifies(runName string, filter craft.ArtifactFilter) bool {
	if filter.WorkflowPattern != nil && !filter.WorkflowPattern.MatchString(runName) {
		return false
	}
	if len(p.globalFilters) == 0 {
		return true
	}
	for _, gf := range p.globalFilters {
		if gf.WorkflowPattern == nil || gf.WorkflowPattern.MatchString(runName) {
			return true
		}
	}
	return false
}

// artifactQualifies reports whether an artifact named name matches the
// target's own ArtifactNames and, when a global artifacts config is set,
// at least one of its entries too.
func (p *Provider) artifactQualifies(name string, filter craft.ArtifactFilter) bool {
	if !filter.Matches(name) {
		return false
	}
	if len(p.globalFilters) == 0 {
		return true
	}
	for _, gf := range p.globalFilters {
		if gf.Matches(name) {
			return true
		}
	}
	return false
}

func (p *Provider) listAllRunArtifacts(ctx context.Context, runID int64) ([]*github.Artifact, error) {
	var all []*github.Artifact
	page := 1
	for {
		list, resp, err := p.gh.ListWorkflowRunArtifacts(ctx, runID, page)
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "list workflow run artifacts", err)
		}
		all = append(all, list...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		page = resp.NextPage
	}
}

// DownloadArtifact downloads artifact's zip payload into dstDir and
// extracts it, returning the path to the extracted file matching
// artifact.Filename. Concurrent calls for the same (artifact ID, dstDir)
// pair are collapsed into a single download via sync.Once, so a target
// and a checksum computation racing for the same file never download it
// twice.
func (p *Provider) DownloadArtifact(ctx context.Context, artifact craft.RemoteArtifact, dstDir string) (string, error) {
	key := downloadKey(artifact, dstDir)

	p.mu.Lock()
	once, ok := p.downloadOnce[key]
	if !ok {
		once = &sync.Once{}
		p.downloadOnce[key] = once
	}
	p.mu.Unlock()

	once.Do(func() {
		path, err := p.downloadFn(ctx, artifact, dstDir)
		p.mu.Lock()
		if err != nil {
			p.downloadErr[key] = err
		} else {
			p.downloadCache[key] = path
		}
		p.mu.Unlock()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.downloadErr[key]; ok {
		return "", err
	}
	return p.downloadCache[key], nil
}

func downloadKey(artifact craft.RemoteArtifact, dstDir string) string {
	return fmt.Sprintf("%d:%s", artifact.ID, dstDir)
}

func (p *Provider) doDownload(ctx context.Context, artifact craft.RemoteArtifact, dstDir string) (string, error) {
	downloadURL, err := p.gh.ArtifactDownloadURL(ctx, artifact.ID)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "resolve artifact download URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "build artifact download request", err)
	}
	resp, err := p.downloadClient.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "download artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadResponseBody(resp)
		return "", errs.Wrap(errs.Transient, "download artifact", httputil.FormatHTTPError(resp.StatusCode, body, "artifact download"))
	}

	tmp, err := os.CreateTemp("", "craft-artifact-*.zip")
	if err != nil {
		return "", errs.Wrap(errs.Transient, "create temp file for artifact download", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return "", errs.Wrap(errs.Transient, "write artifact download", err)
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", errs.Wrap(errs.Transient, "create artifact destination dir", err)
	}
	return extractZip(tmp.Name(), dstDir, artifact.Filename)
}

// extractZip unpacks every entry of the zip at zipPath into dstDir and
// returns the path of the extracted entry whose base name matches
// preferName, falling back to the first extracted file.
func extractZip(zipPath, dstDir, preferName string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "open artifact zip", err)
	}
	defer r.Close()

	var first, preferred string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dstPath := filepath.Join(dstDir, filepath.Base(f.Name))
		if err := extractZipEntry(f, dstPath); err != nil {
			return "", err
		}
		if first == "" {
			first = dstPath
		}
		if preferName != "" && filepath.Base(f.Name) == preferName {
			preferred = dstPath
		}
	}
	if preferred != "" {
		return preferred, nil
	}
	if first == "" {
		return "", errs.New(errs.Transient, "artifact zip contained no files")
	}
	return first, nil
}

func extractZipEntry(f *zip.File, dstPath string) error {
	src, err := f.Open()
	if err != nil {
		return errs.Wrap(errs.Transient, "open artifact zip entry", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "create extracted artifact file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.Wrap(errs.Transient, "extract artifact zip entry", err)
	}
	return nil
}

// GetChecksum returns artifact's checksum in the requested algorithm and
// format, computed from its downloaded file and cached per
// (artifact, algorithm, format) for the life of the Provider. artifact
// must have already been downloaded (its StoredFile set).
func (p *Provider) GetChecksum(ctx context.Context, artifact craft.RemoteArtifact, algo craft.ChecksumAlgorithm, format craft.ChecksumFormat) (string, error) {
	if artifact.StoredFile == nil {
		return "", errs.New(errs.Transient, "GetChecksum called before artifact was downloaded")
	}
	sum, err := p.checksums.Get(artifact.StoredFile.DownloadFilepath, algo, format)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "compute checksum", err)
	}
	return sum, nil
}

// DownloadAll downloads every artifact in batch into dstDir concurrently,
// bounded by the Provider's configured concurrency, and returns each
// artifact with StoredFile populated. Partial failures abort the whole
// batch: a release must not publish with some artifacts silently missing.
func (p *Provider) DownloadAll(ctx context.Context, batch []craft.RemoteArtifact, dstDir string) ([]craft.RemoteArtifact, error) {
	out := make([]craft.RemoteArtifact, len(batch))
	wp := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(p.concurrency)
	for i, artifact := range batch {
		i, artifact := i, artifact
		wp.Go(func(ctx context.Context) error {
			path, err := p.DownloadArtifact(ctx, artifact, dstDir)
			if err != nil {
				return err
			}
			info, statErr := os.Stat(path)
			var size int64
			if statErr == nil {
				size = info.Size()
			}
			artifact.StoredFile = &craft.StoredFile{
				DownloadFilepath: path,
				Filename:         filepath.Base(path),
				Size:             size,
			}
			out[i] = artifact
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func toRemoteArtifact(a *github.Artifact) craft.RemoteArtifact {
	return craft.RemoteArtifact{
		ID:       a.GetID(),
		Filename: a.GetName(),
		MimeType: "application/zip",
	}
}
