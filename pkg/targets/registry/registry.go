// Package registry implements the release-registry publish target (spec
// §4.8): writes version manifests and updates latest/major/minor symlinks
// in a central registry repo, one shared clone and commit per release no
// matter how many package entries it carries.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	plumbinghttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/repoutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
)

var log = logger.New("target:registry")

func init() {
	targetdef.Register(targetdef.Registration{
		Name:     string(constants.TargetRegistry),
		New:      New,
		Priority: constants.PriorityRegistry,
	})
}

// Entry is one package's registry publication within this release.
type Entry struct {
	Type            string // "sdk" or "app"
	Canonical       string
	Name            string
	RepoURL         string
	PackageURL      string
	MainDocsURL     string
	APIDocsURL      string
	URLTemplate     string // legacy file_urls, app-type only
	Checksums       []craft.ChecksumSpec
	IncludeNames    string
	ExcludeNames    string
	OnlyIfPresent   string
	LinkPrereleases bool
}

// Target publishes one or more Entry manifests to a single registry repo
// clone, with one shared commit and push across every entry. Spec §5
// describes cross-entry coordination as a mutex around the clone/commit/
// push critical section; since every entry here is decoded from a single
// TargetConfig's "entries" list rather than spread across several separate
// registry TargetConfig blocks, the single Publish call already owns that
// critical section end to end and no cross-instance mutex is needed (see
// DESIGN.md).
type Target struct {
	repoSlug string
	entries  []Entry
}

// New constructs a registry Target. Config keys: "repo" (default
// "getsentry/sentry-release-registry"), "entries" (required, a list of
// maps with keys: type, canonical, name, repoUrl, packageUrl, mainDocsUrl,
// apiDocsUrl, urlTemplate, checksums (["sha256-hex", ...]), includeNames,
// excludeNames, onlyIfPresent, linkPrereleases (default true)).
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	entries, err := decodeEntries(cfg)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.Configurationf("entries", "registry target requires at least one entry")
	}
	return &Target{
		repoSlug: cfg.StringDefault("repo", constants.DefaultRegistryRepo),
		entries:  entries,
	}, nil
}

func decodeEntries(cfg craft.TargetConfig) ([]Entry, error) {
	raw, ok := cfg.Extra["entries"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errs.Configurationf("entries", "registry target's \"entries\" must be a list")
	}

	out := make([]Entry, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.Configurationf("entries", "entries[%d] must be a map", i)
		}
		e := Entry{
			Type:            stringField(m, "type", "sdk"),
			Canonical:       stringField(m, "canonical", ""),
			Name:            stringField(m, "name", ""),
			RepoURL:         stringField(m, "repoUrl", ""),
			PackageURL:      stringField(m, "packageUrl", ""),
			MainDocsURL:     stringField(m, "mainDocsUrl", ""),
			APIDocsURL:      stringField(m, "apiDocsUrl", ""),
			URLTemplate:     stringField(m, "urlTemplate", ""),
			IncludeNames:    stringField(m, "includeNames", ""),
			ExcludeNames:    stringField(m, "excludeNames", ""),
			OnlyIfPresent:   stringField(m, "onlyIfPresent", ""),
			LinkPrereleases: boolField(m, "linkPrereleases", true),
		}
		if e.Canonical == "" {
			return nil, errs.Configurationf("entries", "entries[%d] is missing \"canonical\"", i)
		}
		if e.Type != "sdk" && e.Type != "app" {
			return nil, errs.Configurationf("entries", "entries[%d] has invalid type %q, want \"sdk\" or \"app\"", i, e.Type)
		}
		specs, err := checksumSpecs(m)
		if err != nil {
			return nil, err
		}
		e.Checksums = specs
		out = append(out, e)
	}
	return out, nil
}

func stringField(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func boolField(m map[string]interface{}, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func checksumSpecs(m map[string]interface{}) ([]craft.ChecksumSpec, error) {
	raw, ok := m["checksums"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errs.Configurationf("checksums", "\"checksums\" must be a list of \"<algo>-<format>\" strings")
	}
	re := regexp.MustCompile(`^([a-z0-9]+)-([a-z0-9]+)$`)
	out := make([]craft.ChecksumSpec, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errs.Configurationf("checksums", "checksum spec %v is not a string", item)
		}
		match := re.FindStringSubmatch(s)
		if match == nil {
			return nil, errs.Configurationf("checksums", "checksum spec %q is not \"<algo>-<format>\"", s)
		}
		out = append(out, craft.ChecksumSpec{Algorithm: craft.ChecksumAlgorithm(match[1]), Format: craft.ChecksumFormat(match[2])})
	}
	return out, nil
}

// Publish writes every configured entry's manifest into one shared clone of
// the registry repo, then commits and pushes once.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	pending := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		skip, err := t.shouldSkip(ctx, e, req)
		if err != nil {
			return err
		}
		if skip {
			log.Printf("skipping registry entry %s/%s", e.Type, e.Canonical)
			continue
		}
		pending = append(pending, e)
	}
	if len(pending) == 0 {
		log.Printf("no registry entries to publish this run")
		return nil
	}

	cloneDir := filepath.Join(req.WorkDir, "registry-clone")
	repo, err := repoutil.CloneBranch(ctx, t.repoSlug, "master", cloneDir)
	if err != nil {
		return err
	}

	changed := false
	for _, e := range pending {
		wrote, err := t.writeEntry(ctx, cloneDir, e, req)
		if err != nil {
			return err
		}
		changed = changed || wrote
	}
	if !changed {
		log.Printf("registry entries produced no changes this run")
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return errs.Wrap(errs.Transient, "open registry worktree", err)
	}
	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return errs.Wrap(errs.Transient, "stage registry changes", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return errs.Wrap(errs.Transient, "read registry worktree status", err)
	}
	if status.IsClean() {
		log.Printf("registry worktree has no changes to commit")
		return nil
	}

	message := fmt.Sprintf("craft: release %q, version %q", t.repoSlug, req.Version.String())
	if _, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "craft", Email: "craft@sentry.io", When: time.Now()},
	}); err != nil {
		return errs.Wrap(errs.Transient, "commit registry changes", err)
	}

	if req.DryRun {
		log.Printf("dry-run: would pull --rebase and push registry changes")
		return nil
	}

	return retry.SpawnProcess.Execute(ctx, nil, func() error {
		return pullRebasePush(ctx, repo)
	}, nil)
}

func (t *Target) shouldSkip(ctx context.Context, e Entry, req targetdef.PublishRequest) (bool, error) {
	if !e.LinkPrereleases && req.Version.IsPreview() {
		return true, nil
	}
	if e.OnlyIfPresent == "" {
		return false, nil
	}

	re, err := regexp.Compile(e.OnlyIfPresent)
	if err != nil {
		return false, errs.Wrap(errs.Configuration, "compile onlyIfPresent", err)
	}
	matches, err := req.Artifacts.FilterArtifactsForRevision(ctx, req.Revision, craft.ArtifactFilter{ArtifactNames: []*regexp.Regexp{re}})
	if err != nil {
		return false, err
	}
	return len(matches) == 0, nil
}

// entryConfig builds the TargetConfig common.SelectAndDownload needs to
// select this entry's own artifacts, distinct from any sibling entry's.
func entryConfig(e Entry) craft.TargetConfig {
	return craft.TargetConfig{
		Name:         "registry",
		ID:           e.Canonical,
		IncludeNames: e.IncludeNames,
		ExcludeNames: e.ExcludeNames,
	}
}

func pullRebasePush(ctx context.Context, repo *gogit.Repository) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return errs.Wrap(errs.Transient, "open worktree", err)
	}
	if err := worktree.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin", Auth: githubAuth()}); err != nil && err != gogit.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.Transient, "git pull --rebase origin master", err)
	}
	if err := repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/master:refs/heads/master"},
		Auth:       githubAuth(),
	}); err != nil {
		return errs.Wrap(errs.Transient, "git push origin master", err)
	}
	return nil
}

func githubAuth() *plumbinghttp.BasicAuth {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil
	}
	return &plumbinghttp.BasicAuth{Username: "x-access-token", Password: token}
}
