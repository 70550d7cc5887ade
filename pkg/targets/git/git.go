// Package git implements the git-repository publish target (spec §4.7):
// publish a tarball as the entire contents of a branch.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	plumbinghttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/repoutil"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

var log = logger.New("target:git")

func init() {
	targetdef.Register(targetdef.Registration{
		Name: string(constants.TargetGit),
		New:  New,
	})
}

// Target replaces a branch's contents with a release tarball's contents,
// commits, optionally tags, and force-pushes.
type Target struct {
	repo            string
	branch          string
	stripComponents int
	tagFormat       string
	pushTags        bool
	authorName      string
	authorEmail     string
}

// New constructs a git Target. Config keys: "repo" (required,
// "owner/name"), "branch" (default "master"), "stripComponents" (int,
// default 0), "tagFormat" (template rendered with {version}; empty means no
// tag), "pushTags" (bool, default false).
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	repo, ok := cfg.String("repo")
	if !ok || repo == "" {
		return nil, errs.Configurationf("repo", "git target requires \"repo\"")
	}
	return &Target{
		repo:            repo,
		branch:          cfg.StringDefault("branch", "master"),
		stripComponents: cfg.IntDefault("stripComponents", 0),
		tagFormat:       cfg.StringDefault("tagFormat", ""),
		pushTags:        cfg.BoolDefault("pushTags", false),
		authorName:      cfg.StringDefault("authorName", "craft"),
		authorEmail:     cfg.StringDefault("authorEmail", "craft@sentry.io"),
	}, nil
}

// Publish downloads the single matched tarball artifact, clones the target
// branch, replaces its tracked contents with the tarball's, commits,
// optionally tags, and pushes (force, to allow history rewrites).
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		return errs.New(errs.NotFound, "git target found no matching tarball artifact")
	}
	if len(downloaded) > 1 {
		return errs.Newf(errs.Configuration, "git target matched %d artifacts, expected exactly one tarball", len(downloaded))
	}
	tarPath := downloaded[0].Path

	tag := ""
	if t.tagFormat != "" {
		tag = renderTag(t.tagFormat, req.Version)
	}

	if req.DryRun {
		log.Printf("dry-run: would replace %s@%s with %s (tag=%q)", t.repo, t.branch, tarPath, tag)
		return nil
	}

	cloneDir := filepath.Join(req.WorkDir, "clone")
	repo, err := repoutil.CloneBranch(ctx, t.repo, t.branch, cloneDir)
	if err != nil {
		return err
	}

	if err := replaceContents(cloneDir, tarPath, t.stripComponents); err != nil {
		return err
	}

	hash, err := commitAll(repo, fmt.Sprintf("release: %s", req.Version), t.authorName, t.authorEmail)
	if err != nil {
		return err
	}

	if tag != "" {
		if _, err := repo.CreateTag(tag, hash, nil); err != nil {
			return errs.Wrap(errs.Transient, "create tag "+tag, err)
		}
	}

	auth := githubAuth()
	if err := repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", t.branch, t.branch))},
		Auth:       auth,
		Force:      true,
	}); err != nil {
		return errs.Wrap(errs.Transient, "push "+t.branch, err)
	}

	if tag != "" && t.pushTags {
		if err := repo.PushContext(ctx, &gogit.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("refs/tags/%s:refs/tags/%s", tag, tag))},
			Auth:       auth,
		}); err != nil {
			return errs.Wrap(errs.Transient, "push tag "+tag, err)
		}
	}

	return nil
}

func renderTag(format string, version craft.Version) string {
	out := ""
	for i := 0; i < len(format); i++ {
		if i+9 <= len(format) && format[i:i+9] == "{version}" {
			out += version.String()
			i += 8
			continue
		}
		out += string(format[i])
	}
	return out
}

// replaceContents removes every tracked entry in cloneDir (except .git)
// and extracts tarPath into it, the equivalent of "git rm -r . && tar -x".
func replaceContents(cloneDir, tarPath string, stripComponents int) error {
	entries, err := os.ReadDir(cloneDir)
	if err != nil {
		return errs.Wrap(errs.Transient, "list clone dir", err)
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(cloneDir, e.Name())); err != nil {
			return errs.Wrap(errs.Transient, "remove "+e.Name(), err)
		}
	}
	return untar(tarPath, cloneDir, stripComponents)
}

func commitAll(repo *gogit.Repository, message, authorName, authorEmail string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, errs.Wrap(errs.Transient, "open worktree", err)
	}
	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, errs.Wrap(errs.Transient, "stage changes", err)
	}
	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()},
	})
	if err != nil {
		return plumbing.ZeroHash, errs.Wrap(errs.Transient, "commit", err)
	}
	return hash, nil
}

func githubAuth() *plumbinghttp.BasicAuth {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil
	}
	return &plumbinghttp.BasicAuth{Username: "x-access-token", Password: token}
}
