// Package pypi implements the PyPI publish target (spec §4.4): a single
// twine upload carrying every matched file, never one invocation per file.
package pypi

import (
	"context"
	"os"
	"regexp"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

var log = logger.New("target:pypi")

// DefaultIncludePattern is the filename filter applied when a target block
// doesn't set its own includeNames.
const DefaultIncludePattern = `/^.*\d\.\d.*(\.whl|\.gz|\.zip)$/`

var alreadyPublished = regexp.MustCompile(`(?i)file already exists`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name: string(constants.TargetPyPI),
		New:  New,
	})
}

// Target publishes wheels/sdists to PyPI via twine.
type Target struct {
	bin string
}

// New constructs a PyPI Target. Config key: "bin" (default "twine").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{bin: cfg.StringDefault("bin", constants.DefaultTwineBin)}, nil
}

// Publish downloads every matched distribution file and uploads all of
// them in a single "twine upload" invocation.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	cfg := req.Config
	if cfg.IncludeNames == "" {
		cfg.IncludeNames = DefaultIncludePattern
	}

	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, cfg, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching PyPI distributions for revision %s", req.Revision)
		return nil
	}

	username, err := requireEnv("TWINE_USERNAME")
	if err != nil {
		return err
	}
	password, err := requireEnv("TWINE_PASSWORD")
	if err != nil {
		return err
	}

	args := append([]string{"upload"}, common.Paths(downloaded)...)
	if req.DryRun {
		log.Printf("dry-run: would run %s %v", t.bin, args)
		return nil
	}

	env := []string{"TWINE_USERNAME=" + username, "TWINE_PASSWORD=" + password}
	if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, req.WorkDir, env, t.bin, args...); err != nil {
		return errs.Wrap(errs.Transient, "twine upload", err)
	}
	return nil
}

func requireEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", errs.Configurationf(name, "%s must be set to publish to PyPI", name)
	}
	return v, nil
}
