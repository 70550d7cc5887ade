// Package main is the "craft" CLI entry point: prepare, publish, config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getsentry/craft/pkg/console"
	"github.com/getsentry/craft/pkg/gitutil"

	// Every built-in target registers itself with pkg/targetdef on import;
	// the CLI is the one place that needs all of them linked in.
	_ "github.com/getsentry/craft/pkg/targets/crates"
	_ "github.com/getsentry/craft/pkg/targets/gcs"
	_ "github.com/getsentry/craft/pkg/targets/gem"
	_ "github.com/getsentry/craft/pkg/targets/git"
	_ "github.com/getsentry/craft/pkg/targets/hex"
	_ "github.com/getsentry/craft/pkg/targets/maven"
	_ "github.com/getsentry/craft/pkg/targets/npm"
	_ "github.com/getsentry/craft/pkg/targets/nuget"
	_ "github.com/getsentry/craft/pkg/targets/pubdev"
	_ "github.com/getsentry/craft/pkg/targets/pypi"
	_ "github.com/getsentry/craft/pkg/targets/registry"
)

// version is set by the release process; "dev" otherwise.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "craft",
	Short:   "Release automation for Sentry SDKs and tools",
	Version: version,
	Long: `craft prepares and publishes releases across a project's configured
targets (npm, PyPI, crates.io, RubyGems, Hex, NuGet, Maven Central, GCS,
git mirrors, and the Sentry release registry).

Common tasks:
  craft prepare 1.2.3       # cut a release branch and changelog
  craft prepare --dry-run   # preview what "prepare" would change
  craft publish 1.2.3       # publish a prepared release to every target
  craft config              # print the effective configuration`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.SetOut(os.Stderr)
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s\n", console.FormatInfoMessage("craft version {{.Version}}")))

	rootCmd.AddCommand(newPrepareCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newConfigCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if gitutil.IsAuthError(err.Error()) {
			fmt.Fprintln(os.Stderr, console.FormatErrorWithSuggestions(err.Error(), []string{
				"set GITHUB_TOKEN (or GITHUB_API_TOKEN) to a token with repo access",
				"or run `gh auth login` to authenticate the gh CLI",
			}))
		} else {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		}
		os.Exit(1)
	}
}
