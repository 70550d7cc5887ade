package repoutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	plumbinghttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
)

// CloneAtRevision clones repoSlug into dstDir and checks out revision,
// authenticating with the GITHUB_TOKEN environment variable when set
// (grounded on the installation-token clone pattern: a bot identity
// username paired with the token as password). repoSlug is normally
// "owner/repo", resolved against github.com; a value that already names a
// scheme (e.g. "file://..." in tests, or an explicit https:// mirror) is
// used as-is and left unauthenticated.
func CloneAtRevision(ctx context.Context, repoSlug string, revision craft.Revision, dstDir string) error {
	url := repoSlug
	var auth *plumbinghttp.BasicAuth
	if !strings.Contains(url, "://") {
		url = fmt.Sprintf("https://github.com/%s", repoSlug)
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			auth = &plumbinghttp.BasicAuth{Username: "x-access-token", Password: token}
		}
	}

	repo, err := git.PlainCloneContext(ctx, dstDir, false, &git.CloneOptions{URL: url, Auth: auth})
	if err != nil {
		return errs.Wrap(errs.Transient, "clone "+repoSlug, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return errs.Wrap(errs.Transient, "open worktree for "+repoSlug, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(revision.String())}); err != nil {
		return errs.Wrap(errs.Transient, "checkout "+revision.String(), err)
	}
	return nil
}

// CloneBranch clones repoSlug into dstDir and checks out branch (creating
// it locally tracking the remote branch), for targets that publish new
// commits onto a branch rather than inspecting a fixed revision.
// Authentication follows CloneAtRevision's rules.
func CloneBranch(ctx context.Context, repoSlug, branch, dstDir string) (*git.Repository, error) {
	url := repoSlug
	var auth *plumbinghttp.BasicAuth
	if !strings.Contains(url, "://") {
		url = fmt.Sprintf("https://github.com/%s", repoSlug)
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			auth = &plumbinghttp.BasicAuth{Username: "x-access-token", Password: token}
		}
	}

	repo, err := git.PlainCloneContext(ctx, dstDir, false, &git.CloneOptions{
		URL:           url,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "clone "+repoSlug+" branch "+branch, err)
	}
	return repo, nil
}
