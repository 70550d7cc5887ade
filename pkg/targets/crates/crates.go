// Package crates implements the Crates.io publish target (spec §4.4): one
// "cargo publish" per crate, and a bumpVersion hook backed by
// "cargo set-version".
package crates

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

var log = logger.New("target:crates")

var alreadyPublished = regexp.MustCompile(`(?i)already (uploaded|exists)`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name:        string(constants.TargetCrates),
		New:         New,
		BumpVersion: BumpVersion,
	})
}

// Target publishes crate packages to crates.io via cargo.
type Target struct {
	bin string
}

// New constructs a Crates Target. Config key: "bin" (default "cargo").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{bin: cfg.StringDefault("bin", constants.DefaultCargoBin)}, nil
}

// Publish runs one "cargo publish --manifest-path <file>" per matched,
// downloaded artifact, with WorkDir (the download destination) as the
// working directory. No "manifestDir" config key is read.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching crate archives for revision %s", req.Revision)
		return nil
	}

	token, err := requireToken()
	if err != nil {
		return err
	}
	env := []string{"CARGO_REGISTRY_TOKEN=" + token}

	for _, d := range downloaded {
		args := []string{"publish", "--manifest-path", d.Path}
		if req.DryRun {
			log.Printf("dry-run: would run %s %v", t.bin, args)
			continue
		}
		if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, req.WorkDir, env, t.bin, args...); err != nil {
			return errs.Wrap(errs.Transient, "cargo publish "+d.Artifact.Filename, err)
		}
	}
	return nil
}

// BumpVersion runs "cargo set-version <v>" at rootDir.
func BumpVersion(rootDir string, version craft.Version) (bool, error) {
	res, err := procutil.Run(context.Background(), rootDir, nil, constants.DefaultCargoBin, "set-version", version.String())
	if err != nil {
		return false, errs.Wrap(errs.Transient, "cargo set-version", err)
	}
	_ = res
	return true, nil
}

func requireToken() (string, error) {
	token := os.Getenv("CARGO_REGISTRY_TOKEN")
	if token == "" {
		return "", errs.Configurationf("CARGO_REGISTRY_TOKEN", "CARGO_REGISTRY_TOKEN must be set to publish to crates.io")
	}
	return token, nil
}
