// Package npm implements the npm/yarn publish target (spec §4.4): publish
// every matched tarball with npm, tagging previews "next" and superseded
// releases "old" so a re-publish of an old version never demotes "latest".
package npm

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

var log = logger.New("target:npm")

// alreadyPublished matches npm's idempotence signal: re-running a publish
// for a version already on the registry must be treated as success.
var alreadyPublished = regexp.MustCompile(`(?i)cannot publish over (the )?previously published version`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name: string(constants.TargetNpm),
		New:  New,
	})
}

// Target publishes tarballs to an npm-compatible registry.
type Target struct {
	bin      string
	registry string
}

// New constructs an npm Target. Config keys: "bin" (default "npm", or
// "yarn" when the USE_YARN env var is set and "bin" wasn't given
// explicitly), "registry" (default npm's own config), "access"
// ("public"/"restricted").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	defaultBin := constants.DefaultNpmBin
	if useYarn() {
		defaultBin = "yarn"
	}
	return &Target{
		bin:      cfg.StringDefault("bin", defaultBin),
		registry: cfg.StringDefault("registry", ""),
	}, nil
}

// useYarn reports whether USE_YARN is set to a non-falsy value.
func useYarn() bool {
	v := strings.ToLower(os.Getenv("USE_YARN"))
	return v != "" && v != "0" && v != "false"
}

// useOTP reports whether CRAFT_NPM_USE_OTP is set to a non-falsy value.
func useOTP() bool {
	v := strings.ToLower(os.Getenv("CRAFT_NPM_USE_OTP"))
	return v != "" && v != "0" && v != "false"
}

// Publish downloads every matched tarball and runs one "npm publish" per
// file, sequentially, each with its own auth file and tag decision.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching npm tarballs for revision %s", req.Revision)
		return nil
	}

	access, _ := req.Config.String("access")

	npmrc, cleanup, err := writeAuthFile(req.WorkDir, t.registry)
	if err != nil {
		return err
	}
	defer cleanup()

	var otp string
	if useOTP() && !req.DryRun {
		otp, err = promptOTP()
		if err != nil {
			return err
		}
	}

	for _, d := range downloaded {
		tag := t.resolveTag(ctx, req.Version, req.Config, d.Path)
		args := []string{"publish", d.Path, "--userconfig=" + npmrc}
		if access != "" {
			args = append(args, "--access="+access)
		}
		if tag != "" {
			args = append(args, "--tag="+tag)
		}
		if otp != "" {
			args = append(args, "--otp="+otp)
		}
		if req.DryRun {
			log.Printf("dry-run: would run %s %v", t.bin, args)
			continue
		}

		if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, req.WorkDir, nil, t.bin, args...); err != nil {
			return errs.Wrap(errs.Transient, fmt.Sprintf("npm publish %s", d.Artifact.Filename), err)
		}
	}
	return nil
}

// promptOTP reads a one-time password from stdin for CRAFT_NPM_USE_OTP,
// since npm accepts the OTP only as a CLI flag, never interactively when
// stdin isn't a TTY the publisher controls.
func promptOTP() (string, error) {
	fmt.Fprint(os.Stderr, "npm one-time password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errs.Wrap(errs.Configuration, "read npm OTP", err)
	}
	return strings.TrimSpace(line), nil
}

// resolveTag implements the preview/"old" tagging rule: previews always get
// "next"; a version strictly less than the registry's current "latest"
// gets "old" to avoid demoting "latest". The current latest comes from the
// "currentLatest" config override when the caller already knows it,
// otherwise from a live "npm view <pkg> version" query (spec §9's open
// question: "current code compares against whatever npm info <pkg> version
// returns").
func (t *Target) resolveTag(ctx context.Context, version craft.Version, cfg craft.TargetConfig, tarballPath string) string {
	if version.IsPreview() {
		return "next"
	}
	latest, ok := cfg.String("currentLatest")
	if !ok || latest == "" {
		latest = t.queryCurrentLatest(ctx, tarballPath)
	}
	if latest == "" {
		return ""
	}
	if currentLatest, err := craft.ParseVersion(latest); err == nil && version.LessThan(currentLatest) {
		return "old"
	}
	return ""
}

// queryCurrentLatest shells out to "<bin> view <pkg> version" to read the
// registry's current "latest" dist-tag version, deriving <pkg> from the
// tarball's own package.json. Returns "" (never demotes to "old") when the
// package name can't be determined or the query fails, e.g. a package
// being published for the first time has no "latest" to protect.
func (t *Target) queryCurrentLatest(ctx context.Context, tarballPath string) string {
	name, err := packageNameFromTarball(tarballPath)
	if err != nil || name == "" {
		return ""
	}

	args := []string{"view", name, "version"}
	if t.registry != "" {
		args = append(args, "--registry="+t.registry)
	}
	res, err := procutil.Run(ctx, "", nil, t.bin, args...)
	if err != nil {
		log.Printf("%s view %s version failed, publishing without a latest-demotion check: %v", t.bin, name, err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// packageNameFromTarball reads the "name" field out of the package.json
// entry of an npm tarball (the standard "package/package.json" layout).
func packageNameFromTarball(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.Transient, "open "+path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "gunzip "+path, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", errs.New(errs.NotFound, "tarball has no package/package.json")
		}
		if err != nil {
			return "", errs.Wrap(errs.Configuration, "read "+path, err)
		}
		if hdr.Name != "package/package.json" {
			continue
		}
		var manifest struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
			return "", errs.Wrap(errs.Configuration, "parse package.json in "+path, err)
		}
		return manifest.Name, nil
	}
}

// writeAuthFile writes a per-invocation .npmrc under dir, pointing at
// registry (if set) and reading the token from NPM_TOKEN, so a publish
// invocation never mutates the user's ~/.npmrc. Returns the file path and a
// cleanup func that removes it.
func writeAuthFile(dir, registry string) (string, func(), error) {
	token := os.Getenv("NPM_TOKEN")
	if token == "" {
		return "", func() {}, errs.Configurationf("NPM_TOKEN", "NPM_TOKEN must be set to publish to npm")
	}

	host := "registry.npmjs.org"
	regLine := ""
	if registry != "" {
		host = stripScheme(registry)
		regLine = fmt.Sprintf("registry=%s\n", registry)
	}

	content := fmt.Sprintf("%s//%s/:_authToken=%s\n", regLine, host, token)
	path := filepath.Join(dir, ".npmrc.craft")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", func() {}, errs.Wrap(errs.Transient, "write npm auth file", err)
	}
	return path, func() { os.Remove(path) }, nil
}

func stripScheme(url string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return trimTrailingSlash(url[len(prefix):])
		}
	}
	return trimTrailingSlash(url)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
