package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getsentry/craft/pkg/config"
	"github.com/getsentry/craft/pkg/console"
	"github.com/getsentry/craft/pkg/prepare"
)

func newPrepareCommand() *cobra.Command {
	var dryRun bool
	var noInput bool

	cmd := &cobra.Command{
		Use:   "prepare [<version>]",
		Short: "Cut a release branch, update the changelog, and bump target versions",
		Long: `prepare derives (or accepts) the release version, opens an isolated
release worktree, updates CHANGELOG.md, bumps every configured target's
version files, and pushes a "release/<version>" branch for review.

With --dry-run, every step runs against a throwaway worktree and the
result is printed as a diff instead of being pushed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version string
			if len(args) == 1 {
				version = args[0]
			}

			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}

			pipeline := prepare.New(".", cfg)
			result, err := pipeline.Prepare(cmd.Context(), prepare.Options{
				Version: version,
				DryRun:  dryRun,
				NoInput: noInput,
			})
			if err != nil {
				return err
			}

			for _, msg := range result.Messages {
				fmt.Println(msg)
			}
			console.PrintSuccess(fmt.Sprintf("prepared release %s on branch %s", result.Version.String(), result.Branch))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without pushing")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "never prompt interactively")
	return cmd
}
