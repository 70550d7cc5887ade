// Package pubdev implements the pub.dev publish target (spec §4.4): one
// "dart pub publish --force" run in WorkDir, with no artifact matching or
// download, and a bumpVersion hook that rewrites pubspec.yaml's "version:"
// field.
package pubdev

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
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
)

var log = logger.New("target:pubdev")

func init() {
	targetdef.Register(targetdef.Registration{
		Name:        string(constants.TargetPubDev),
		New:         New,
		BumpVersion: BumpVersion,
	})
}

// Target publishes a Dart package to pub.dev.
type Target struct {
	bin string
}

// New constructs a PubDev Target. Config key: "bin" (default "dart").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{bin: cfg.StringDefault("bin", constants.DefaultDartBin)}, nil
}

// Publish runs "dart pub publish --force" at WorkDir, which must already
// hold the prepared package (pub.dev publishes a package directory, not a
// downloaded archive, unlike the tarball-based targets).
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	if req.DryRun {
		log.Printf("dry-run: would run %s pub publish --force in %s", t.bin, req.WorkDir)
		return nil
	}
	if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, nil, req.WorkDir, nil, t.bin, "pub", "publish", "--force"); err != nil {
		return errs.Wrap(errs.Transient, "dart pub publish", err)
	}
	return nil
}

var pubspecVersion = regexp.MustCompile(`(?m)^(version:\s*)\S+`)

// BumpVersion rewrites pubspec.yaml's top-level "version:" field in rootDir.
func BumpVersion(rootDir string, version craft.Version) (bool, error) {
	path := filepath.Join(rootDir, "pubspec.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.Transient, "read pubspec.yaml", err)
	}
	if !pubspecVersion.Match(data) {
		return false, nil
	}
	updated := pubspecVersion.ReplaceAll(data, []byte("${1}"+version.String()))
	if string(updated) == string(data) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "stat pubspec.yaml", err)
	}
	if err := os.WriteFile(path, updated, info.Mode()); err != nil {
		return false, errs.Wrap(errs.Transient, "write pubspec.yaml", err)
	}
	return true, nil
}
