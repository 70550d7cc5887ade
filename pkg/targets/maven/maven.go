// Package maven implements the Maven/Gradle publish target against Sonatype
// OSSRH: per-artifact signed deploys plus the staging-repository lifecycle
// (close, release) that makes a multi-module Maven release atomic.
package maven

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

var log = logger.New("target:maven")

// deployRetry is the "longer base delay" variant of the standard subprocess
// retry envelope spec §4.6 calls for (mvn deploys hit a slower, rate-limited
// upstream than npm/twine/cargo invocations).
var deployRetry = retry.Policy{
	MaxRetries:   5,
	InitialDelay: 10 * retry.SpawnProcess.InitialDelay,
	Multiplier:   retry.SpawnProcess.Multiplier,
	MaxDelay:     15 * time.Minute,
}

func init() {
	targetdef.Register(targetdef.Registration{
		Name:     string(constants.TargetMaven),
		New:      New,
		Priority: constants.PriorityMaven,
	})
}

// Target publishes Maven/Gradle modules to Sonatype OSSRH via mvn's
// gpg:sign-and-deploy-file goal, then closes and releases the staging
// repository produced by those deploys.
type Target struct {
	bin          string
	repositoryID string
	deployURL    string
	namespace    string
	sonatype     *SonatypeClient
}

// New constructs a Maven Target. Config keys: "repositoryId" (default
// constants.DefaultMavenRepositoryID), "url" (deploy URL, default
// constants.DefaultSonatypeDeployURL), "namespace" (Central publisher
// namespace, default "io.sentry").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{
		bin:          cfg.StringDefault("mvnBin", "mvn"),
		repositoryID: cfg.StringDefault("repositoryId", constants.DefaultMavenRepositoryID),
		deployURL:    cfg.StringDefault("url", constants.DefaultSonatypeDeployURL),
		namespace:    cfg.StringDefault("namespace", constants.DefaultMavenNamespace),
	}, nil
}

func (t *Target) client() *SonatypeClient {
	if t.sonatype == nil {
		t.sonatype = NewSonatypeClient(nil, "", "", sonatypeCredential("MAVEN_CENTRAL_USERNAME", "OSSRH_USERNAME"), sonatypeCredential("MAVEN_CENTRAL_PASSWORD", "OSSRH_PASSWORD"))
	}
	return t.sonatype
}

// sonatypeCredential reads the current env var name, falling back to the
// legacy OSSRH_* pair also named in spec §6 for projects that haven't
// migrated their CI secrets yet.
func sonatypeCredential(current, legacy string) string {
	if v := os.Getenv(current); v != "" {
		return v
	}
	return os.Getenv(legacy)
}

// Publish implements spec §4.6's full sequence: import the signing key,
// deploy every not-yet-published module (BOM or Ordinary), then close and
// release the staging repository those deploys produced (skipped entirely
// if every artifact was already published).
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	key, err := importSigningKey(ctx, os.Getenv("GPG_PRIVATE_KEY"))
	if err != nil {
		return err
	}
	defer key.Close(ctx)

	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching artifacts for revision %s", req.Revision)
		return nil
	}

	passphrase := os.Getenv("GPG_PASSPHRASE")
	client := t.client()

	newDeploys := 0
	for _, d := range downloaded {
		extractDir := filepath.Join(req.WorkDir, "extract")
		pkg, moduleDir, err := ExtractArtifactZip(d.Path, extractDir)
		if err != nil {
			return err
		}

		published, err := client.IsPublished(ctx, t.namespace, pkg, req.Version.String())
		if err != nil {
			return err
		}
		if published {
			log.Printf("%s@%s already published, skipping", pkg, req.Version)
			continue
		}

		module, err := Classify(moduleDir, pkg)
		if err != nil {
			return err
		}

		if req.DryRun {
			log.Printf("dry-run: would deploy %s (%v)", module.Primary, module.Kind)
			newDeploys++
			continue
		}

		if err := t.deploy(ctx, module, passphrase); err != nil {
			return err
		}
		newDeploys++
	}

	if newDeploys == 0 {
		log.Printf("no new deploys this run, skipping staging repository close/release")
		return nil
	}
	if req.DryRun {
		log.Printf("dry-run: would close and release the staging repository")
		return nil
	}

	repo, err := client.GetRepository(ctx)
	if err != nil {
		return err
	}
	return client.CloseAndReleaseRepository(ctx, repo)
}

func (t *Target) deploy(ctx context.Context, m Module, passphrase string) error {
	settings := os.Getenv("MAVEN_SETTINGS_PATH")

	if m.Kind == BOM {
		args := []string{
			"org.apache.maven.plugins:maven-gpg-plugin:sign-and-deploy-file",
			"-Dfile=" + m.Primary,
			"-DpomFile=" + m.Primary,
			"-Dgpg.passphrase=" + passphrase,
			"-DrepositoryId=" + t.repositoryID,
			"-Durl=" + t.deployURL,
		}
		if settings != "" {
			args = append(args, "--settings", settings)
		}
		_, err := procutil.RunRetrying(ctx, deployRetry, nil, alreadyReleasedPattern, "", nil, t.bin, args...)
		return wrapDeployErr(err, m.Primary)
	}

	args := []string{
		"org.apache.maven.plugins:maven-gpg-plugin:sign-and-deploy-file",
		"-Dfile=" + m.Primary,
		"-Dgpg.passphrase=" + passphrase,
		"-DrepositoryId=" + t.repositoryID,
		"-Durl=" + t.deployURL,
	}
	if len(m.Files) > 0 {
		args = append(args,
			"-Dfiles="+joinComma(m.Files),
			"-Dclassifiers="+joinComma(m.Classifiers),
			"-Dtypes="+joinComma(m.Types),
		)
	}
	if settings != "" {
		args = append(args, "--settings", settings)
	}
	_, err := procutil.RunRetrying(ctx, deployRetry, nil, alreadyReleasedPattern, "", nil, t.bin, args...)
	return wrapDeployErr(err, m.Primary)
}

var alreadyReleasedPattern = regexp.MustCompile(`(?i)cannot (re-?deploy|redeploy) released`)

func wrapDeployErr(err error, primary string) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.Transient, "deploy "+primary, err)
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
