// Package prepare implements the pre-publish preparation pipeline (spec
// §4.9): resolves the release version, opens an isolated release worktree,
// cuts a release branch, updates the changelog, sweeps every configured
// target's bumpVersion, runs the user's preReleaseCommand, and either
// diffs (dry-run) or commits and pushes (live) the result. It never
// touches the caller's working tree directly; all mutation happens in a
// throwaway clone.
package prepare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gogitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/getsentry/craft/pkg/config"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/stringutil"
	"github.com/getsentry/craft/pkg/targetdef"
)

var log = logger.New("prepare")

// Options configures one Prepare invocation.
type Options struct {
	// Version is the explicit target version, or "" to derive one from
	// cfg.VersioningPolicy.
	Version string
	DryRun  bool
	// NoInput disables anything that would otherwise prompt interactively;
	// craft has no interactive prompts left to suppress today, but the
	// flag is threaded through so callers don't need to know that.
	NoInput bool
}

// Result is what one Prepare invocation produced.
type Result struct {
	PreviousVersion craft.Version
	Version         craft.Version
	Branch          string
	// Diff is the unified diff of the worktree against HEAD, populated
	// only in dry-run.
	Diff string
	// Messages is the ordered set of human-readable status lines the
	// caller (cmd/craft) should print, including the dry-run git.push
	// interception notice.
	Messages []string
}

// Pipeline runs the preparation pipeline against one local repository.
type Pipeline struct {
	RepoDir string
	Config  *config.Config
}

// New constructs a Pipeline.
func New(repoDir string, cfg *config.Config) *Pipeline {
	return &Pipeline{RepoDir: repoDir, Config: cfg}
}

// Prepare runs the full pipeline and returns its Result.
func (p *Pipeline) Prepare(ctx context.Context, opts Options) (*Result, error) {
	repo, err := gogit.PlainOpen(p.RepoDir)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "open repository at "+p.RepoDir, err)
	}

	if !opts.DryRun {
		if err := requireCleanWorktree(repo); err != nil {
			return nil, err
		}
	}
	if _, err := repo.Remote("origin"); err != nil {
		return nil, errs.Wrap(errs.Configuration, `repository has no "origin" remote`, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "resolve HEAD", err)
	}

	previous, err := latestVersionTag(repo)
	if err != nil {
		return nil, err
	}

	version, err := p.resolveVersion(repo, head, previous, opts.Version)
	if err != nil {
		return nil, err
	}
	if p.Config.MinVersion != "" {
		minVersion, err := craft.ParseVersion(p.Config.MinVersion)
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, "parse minVersion", err)
		}
		if version.LessThan(minVersion) {
			return nil, errs.Newf(errs.PreconditionFailed, "version %s is below minVersion %s", version.String(), minVersion.String())
		}
	}

	result := &Result{
		PreviousVersion: previous,
		Version:         version,
		Branch:          "release/" + version.String(),
		Messages:        []string{fmt.Sprintf("Releasing version %s", version.String())},
	}

	prefix := "craft-prepare-"
	if opts.DryRun {
		prefix = "craft-dry-run-"
	}
	workDir, err := os.MkdirTemp("", prefix+"*")
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "create release worktree directory", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("best-effort cleanup of %s failed: %v", workDir, err)
		}
	}()

	worktreeRepo, err := gogit.PlainClone(workDir, false, &gogit.CloneOptions{URL: p.RepoDir})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "clone release worktree", err)
	}
	worktree, err := worktreeRepo.Worktree()
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "open release worktree", err)
	}
	if err := worktree.Checkout(&gogit.CheckoutOptions{
		Hash:   head.Hash(),
		Branch: plumbing.NewBranchReferenceName(result.Branch),
		Create: true,
	}); err != nil {
		return nil, errs.Wrap(errs.Transient, "create release branch", err)
	}

	if err := p.applyChangelog(workDir, version); err != nil {
		return nil, err
	}
	if err := p.bumpVersions(workDir, version); err != nil {
		return nil, err
	}
	if p.Config.PreReleaseCommand != "" {
		if _, err := procutil.Run(ctx, workDir, nil, "sh", "-c", p.Config.PreReleaseCommand, "--", previous.String(), version.String()); err != nil {
			return nil, errs.Wrap(errs.Transient, "run preReleaseCommand", err)
		}
	}

	if opts.DryRun {
		diff, err := diffAgainstHead(worktree, worktreeRepo, head.Hash())
		if err != nil {
			return nil, err
		}
		result.Diff = diff
		result.Messages = append(result.Messages, "Here's what would change:\n"+diff)
		result.Messages = append(result.Messages, fmt.Sprintf("[dry-run] Would execute git.push origin %s", result.Branch))
		return result, nil
	}

	if err := commitAll(worktree, version); err != nil {
		return nil, err
	}
	refSpec := gogitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", result.Branch, result.Branch))
	if err := worktreeRepo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gogitconfig.RefSpec{refSpec},
	}); err != nil {
		return nil, errs.Wrap(errs.Transient, "push release branch", err)
	}
	result.Messages = append(result.Messages, fmt.Sprintf("Pushed branch %s", result.Branch))
	return result, nil
}

func requireCleanWorktree(repo *gogit.Repository) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return errs.Wrap(errs.Transient, "open worktree", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return errs.Wrap(errs.Transient, "read worktree status", err)
	}
	if !status.IsClean() {
		return errs.New(errs.PreconditionFailed, "working tree has uncommitted changes; commit or stash before preparing a release")
	}
	return nil
}

// latestVersionTag returns the highest SemVer-parseable tag in repo, or
// 0.0.0 if none exists (a project's first-ever release).
func latestVersionTag(repo *gogit.Repository) (craft.Version, error) {
	tags, err := repo.Tags()
	if err != nil {
		return craft.Version{}, errs.Wrap(errs.Transient, "list tags", err)
	}
	var best craft.Version
	if err := tags.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		v, err := craft.ParseVersion(trimTagPrefix(name))
		if err != nil {
			return nil
		}
		if best.IsZero() || best.LessThan(v) {
			best = v
		}
		return nil
	}); err != nil {
		return craft.Version{}, errs.Wrap(errs.Transient, "walk tags", err)
	}
	if best.IsZero() {
		return craft.MustParseVersion("0.0.0"), nil
	}
	return best, nil
}

func trimTagPrefix(name string) string {
	if len(name) > 0 && name[0] == 'v' {
		return name[1:]
	}
	return name
}

// tagCommitHash resolves ref to the commit it ultimately names: an
// annotated tag's reference hash is the tag object's own hash, not the
// commit's, so it must be dereferenced one level; a lightweight tag's
// reference hash already is the commit hash.
func tagCommitHash(repo *gogit.Repository, ref *plumbing.Reference) plumbing.Hash {
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		return tagObj.Target
	}
	return ref.Hash()
}

func (p *Pipeline) resolveVersion(repo *gogit.Repository, head *plumbing.Reference, previous craft.Version, explicit string) (craft.Version, error) {
	if explicit != "" {
		v, err := craft.ParseVersion(explicit)
		if err != nil {
			return craft.Version{}, errs.Wrap(errs.Configuration, "parse version argument", err)
		}
		return v, nil
	}

	switch p.Config.VersioningPolicy {
	case config.VersioningPolicySimple:
		return simpleBump(previous), nil
	case config.VersioningPolicyAuto:
		messages, err := commitMessagesSince(repo, head, previous)
		if err != nil {
			return craft.Version{}, err
		}
		return deriveNextVersion(previous, messages), nil
	default:
		return craft.Version{}, errs.New(errs.Configuration, "no version given and versioningPolicy is \"none\"")
	}
}

// commitMessagesSince returns every commit message reachable from head
// that isn't also reachable from the commit previous's tag points at (or
// every commit reachable from head, if previous is the zero version with
// no matching tag).
func commitMessagesSince(repo *gogit.Repository, head *plumbing.Reference, previous craft.Version) ([]string, error) {
	var boundary plumbing.Hash
	if !previous.IsZero() {
		tags, err := repo.Tags()
		if err == nil {
			_ = tags.ForEach(func(ref *plumbing.Reference) error {
				if trimTagPrefix(ref.Name().Short()) == previous.String() {
					boundary = tagCommitHash(repo, ref)
				}
				return nil
			})
		}
	}

	commitIter, err := repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "walk commit log", err)
	}
	var messages []string
	err = commitIter.ForEach(func(c *object.Commit) error {
		if !boundary.IsZero() && c.Hash == boundary {
			return storer.ErrStop
		}
		messages = append(messages, c.Message)
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return nil, errs.Wrap(errs.Transient, "read commit log", err)
	}
	return messages, nil
}

func diffAgainstHead(worktree *gogit.Worktree, repo *gogit.Repository, headHash plumbing.Hash) (string, error) {
	headCommit, err := repo.CommitObject(headHash)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "load HEAD commit", err)
	}

	// A throwaway commit captures the worktree's current state so it can
	// be diffed against HEAD with go-git's own patch machinery; it is
	// never pushed and is discarded with the worktree directory.
	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", errs.Wrap(errs.Transient, "stage dry-run changes", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", errs.Wrap(errs.Transient, "read worktree status", err)
	}
	if status.IsClean() {
		return "(no changes)", nil
	}
	sig := &object.Signature{Name: "craft", Email: "craft@sentry.io", When: time.Now()}
	commitHash, err := worktree.Commit("dry-run preview", &gogit.CommitOptions{Author: sig})
	if err != nil {
		return "", errs.Wrap(errs.Transient, "create dry-run preview commit", err)
	}
	previewCommit, err := repo.CommitObject(commitHash)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "load dry-run preview commit", err)
	}

	patch, err := headCommit.Patch(previewCommit)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "diff dry-run preview against HEAD", err)
	}
	return patch.String(), nil
}

func commitAll(worktree *gogit.Worktree, version craft.Version) error {
	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return errs.Wrap(errs.Transient, "stage release changes", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return errs.Wrap(errs.Transient, "read worktree status", err)
	}
	if status.IsClean() {
		return nil
	}
	sig := &object.Signature{Name: "craft", Email: "craft@sentry.io", When: time.Now()}
	message := fmt.Sprintf("release: %s", version.String())
	_, err = worktree.Commit(message, &gogit.CommitOptions{Author: sig})
	if err != nil {
		return errs.Wrap(errs.Transient, "commit release branch", err)
	}
	return nil
}

// bumpVersions sweeps every registered target kind's BumpVersion in
// ascending Registration.Priority order, de-duplicated by kind name (spec
// §4.9 step 5). Targets without a BumpVersion capability are skipped.
func (p *Pipeline) bumpVersions(workDir string, version craft.Version) error {
	seen := make(map[string]bool, len(p.Config.Targets))
	var kinds []targetdef.Registration
	for _, cfg := range p.Config.Targets {
		if seen[cfg.Name] {
			continue
		}
		seen[cfg.Name] = true
		reg, ok := targetdef.Lookup(cfg.Name)
		if !ok || reg.BumpVersion == nil {
			continue
		}
		kinds = append(kinds, reg)
	}
	sort.SliceStable(kinds, func(i, j int) bool { return kinds[i].Priority < kinds[j].Priority })

	for _, reg := range kinds {
		if _, err := reg.BumpVersion(workDir, version); err != nil {
			return errs.Wrap(errs.Transient, fmt.Sprintf("Automatic version bump failed for %q target", reg.Name), err)
		}
	}
	return nil
}

// applyChangelog updates CHANGELOG.md per p.Config.ChangelogPolicy.
// ChangelogPolicyNone leaves the file untouched. ChangelogPolicySimple
// prepends a bare version heading if the file exists. ChangelogPolicyAuto
// does the same but also creates the file if it doesn't exist yet.
func (p *Pipeline) applyChangelog(workDir string, version craft.Version) error {
	if p.Config.ChangelogPolicy == config.ChangelogPolicyNone {
		return nil
	}
	path := filepath.Join(workDir, "CHANGELOG.md")
	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return errs.Wrap(errs.Transient, "read CHANGELOG.md", err)
		}
		if p.Config.ChangelogPolicy != config.ChangelogPolicyAuto {
			return nil
		}
		existing = []byte("# Changelog\n")
	}
	heading := fmt.Sprintf("## %s\n\n", version.String())
	updated := stringutil.NormalizeWhitespace(heading + string(existing))
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return errs.Wrap(errs.Transient, "write CHANGELOG.md", err)
	}
	return nil
}
