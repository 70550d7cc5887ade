// Package hex implements the Hex.pm publish target (spec §4.4): clone the
// repo into a scratch dir, run the local Hex/Rebar/deps toolchain, then
// "mix hex.publish --yes"; bumpVersion edits mix.exs's version fields.
package hex

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/repoutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
)

var log = logger.New("target:hex")

var alreadyPublished = regexp.MustCompile(`(?i)has already been published`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name:        string(constants.TargetHex),
		New:         New,
		BumpVersion: BumpVersion,
	})
}

// Target publishes a Mix package to Hex.pm.
type Target struct {
	bin string
}

// New constructs a Hex Target. Config key: "bin" (default "mix").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{bin: cfg.StringDefault("bin", constants.DefaultMixBin)}, nil
}

// Publish clones githubRepo at revision into a scratch dir under WorkDir,
// then runs mix's local toolchain setup followed by hex.publish.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	apiKey := os.Getenv("HEX_API_KEY")
	if apiKey == "" {
		return errs.Configurationf("HEX_API_KEY", "HEX_API_KEY must be set to publish to Hex.pm")
	}
	repo, ok := req.Config.String("githubRepo")
	if !ok || repo == "" {
		return errs.Configurationf("githubRepo", "hex target requires \"githubRepo\" (owner/repo)")
	}

	cloneDir := filepath.Join(req.WorkDir, "hex-clone")
	if err := repoutil.CloneAtRevision(ctx, repo, req.Revision, cloneDir); err != nil {
		return err
	}

	env := []string{"HEX_API_KEY=" + apiKey}
	steps := [][]string{
		{"local.hex", "--force"},
		{"local.rebar", "--force"},
		{"deps.get"},
	}
	for _, args := range steps {
		if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, nil, cloneDir, env, t.bin, args...); err != nil {
			return errs.Wrap(errs.Transient, "mix "+args[0], err)
		}
	}

	if req.DryRun {
		log.Printf("dry-run: would run %s hex.publish --yes", t.bin)
		return nil
	}
	if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, cloneDir, env, t.bin, "hex.publish", "--yes"); err != nil {
		return errs.Wrap(errs.Transient, "mix hex.publish", err)
	}
	return nil
}

var mixVersionLine = regexp.MustCompile(`(?m)^(\s*version:\s*)(["'])[^"']*(["'])`)
var moduleAttrVersion = regexp.MustCompile(`(?m)^(\s*@version\s+)(["'])[^"']*(["'])`)

// BumpVersion rewrites mix.exs's "version:" keyword entry and/or
// "@version" module attribute in rootDir.
func BumpVersion(rootDir string, version craft.Version) (bool, error) {
	path := filepath.Join(rootDir, "mix.exs")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.Transient, "read mix.exs", err)
	}

	updated := data
	changed := false
	for _, pattern := range []*regexp.Regexp{mixVersionLine, moduleAttrVersion} {
		if pattern.Match(updated) {
			next := pattern.ReplaceAll(updated, []byte(`${1}${2}`+version.String()+`${3}`))
			if string(next) != string(updated) {
				changed = true
			}
			updated = next
		}
	}
	if !changed {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "stat mix.exs", err)
	}
	if err := os.WriteFile(path, updated, info.Mode()); err != nil {
		return false, errs.Wrap(errs.Transient, "write mix.exs", err)
	}
	return true, nil
}
