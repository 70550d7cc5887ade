package main

import (
	"fmt"
	"net/http"

	gogit "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/getsentry/craft/pkg/artifacts"
	"github.com/getsentry/craft/pkg/config"
	"github.com/getsentry/craft/pkg/console"
	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/ghclient"
	"github.com/getsentry/craft/pkg/orchestrator"
	"github.com/getsentry/craft/pkg/repoutil"
	"github.com/getsentry/craft/pkg/sliceutil"
	"github.com/getsentry/craft/pkg/status"
)

func newPublishCommand() *cobra.Command {
	var targetNames []string
	var revision string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "publish <version>",
		Short: "Publish a prepared release to every configured target",
		Long: `publish fetches the revision's build artifacts and drives each
configured target's publication protocol. Targets run sequentially, in
ascending priority order; a fatal error in live mode aborts the remaining
targets, while dry-run keeps going so every target can be checked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := craft.ParseVersion(args[0])
			if err != nil {
				return errs.Wrap(errs.Configuration, "parse version argument", err)
			}

			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			owner, repo, err := repoutil.SplitRepoSlug(cfg.GitHubRepo)
			if err != nil {
				return errs.Wrap(errs.Configuration, "parse config githubRepo", err)
			}

			rev, err := resolveRevision(revision)
			if err != nil {
				return err
			}

			gh, err := ghclient.New(owner, repo)
			if err != nil {
				return err
			}

			if err := checkRevisionStatus(cmd, gh, cfg, rev); err != nil {
				return err
			}

			artifactProvider := artifacts.NewProvider(gh, http.DefaultClient, constants.DefaultArtifactDownloadConcurrency)
			globalFilters, err := cfg.ArtifactFilters()
			if err != nil {
				return err
			}
			artifactProvider.SetGlobalFilters(globalFilters)

			selected := selectTargets(cfg.Targets, targetNames)
			if len(targetNames) > 0 && len(selected) == 0 {
				return errs.Newf(errs.Configuration, "no configured target matches %v", targetNames)
			}

			rc := craft.ReleaseContext{
				Version:    version,
				Revision:   rev,
				GitHubRepo: cfg.GitHubRepo,
				DryRun:     dryRun,
				Targets:    selected,
			}

			orch := orchestrator.New(artifactProvider)
			result, err := orch.Publish(cmd.Context(), rc, "")
			if err != nil {
				return err
			}

			for _, outcome := range result.Outcomes {
				if outcome.Err != nil {
					console.PrintError(fmt.Sprintf("%s: %v", outcome.Target.Key(), outcome.Err))
					continue
				}
				console.PrintSuccess(fmt.Sprintf("%s published", outcome.Target.Key()))
			}
			if result.Failed() {
				return errs.New(errs.Upstream, "one or more targets failed to publish")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&targetNames, "target", nil, "publish only the named target(s) (default: all configured targets)")
	cmd.Flags().StringVar(&revision, "rev", "", "git revision to publish (default: current HEAD)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run every target's publish logic without performing side effects")
	return cmd
}

// resolveRevision returns explicit if set, otherwise the local repository's
// current HEAD commit hash.
func resolveRevision(explicit string) (craft.Revision, error) {
	if explicit != "" {
		return craft.Revision(explicit), nil
	}
	repo, err := gogit.PlainOpen(".")
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "open repository to resolve HEAD", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "resolve HEAD", err)
	}
	return craft.Revision(head.Hash().String()), nil
}

// checkRevisionStatus waits on the configured status provider's verdict
// before publish proceeds, when one is configured.
func checkRevisionStatus(cmd *cobra.Command, gh *ghclient.Client, cfg *config.Config, rev craft.Revision) error {
	if cfg.StatusProvider.Name == "" {
		return nil
	}
	provider := status.NewProvider(gh, "github.com")
	verdict, err := provider.GetRevisionStatus(cmd.Context(), rev, cfg.StatusProvider.Contexts)
	if err != nil {
		return errs.Wrap(errs.Transient, "check revision status", err)
	}
	switch verdict {
	case status.Success:
		return nil
	case status.Pending:
		return errs.New(errs.PreconditionFailed, "revision status is still pending")
	default:
		details, detailErr := provider.GetFailureDetails(cmd.Context(), rev, gh.Owner, gh.Repo)
		if detailErr != nil {
			return errs.New(errs.PreconditionFailed, "revision status is failing")
		}
		msg := "revision status is failing"
		for _, line := range details {
			msg += "\n" + line
		}
		return errs.New(errs.PreconditionFailed, msg)
	}
}

// selectTargets narrows cfg.Targets to the requested names, or returns every
// configured target when none were named.
func selectTargets(all []craft.TargetConfig, names []string) []craft.TargetConfig {
	if len(names) == 0 {
		return all
	}
	var out []craft.TargetConfig
	for _, t := range all {
		if sliceutil.Contains(names, t.Name) {
			out = append(out, t)
		}
	}
	return out
}
