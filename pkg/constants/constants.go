// Package constants centralizes default values shared across the publish
// pipeline: registry endpoints, timeouts, artifact naming, and the typed
// enums used to keep target configuration self-documenting.
package constants

import "time"

// Version is a semantic-version-like string. No target pins a CLI tool
// version with it; each target runs whatever binary it resolves on PATH.
type Version string

// TargetType identifies one of the built-in release targets a TargetConfig
// selects via its "name" field.
type TargetType string

const (
	TargetNpm      TargetType = "npm"
	TargetPyPI     TargetType = "pypi"
	TargetCrates   TargetType = "crates"
	TargetGem      TargetType = "gem"
	TargetHex      TargetType = "hex"
	TargetNuget    TargetType = "nuget"
	TargetPubDev   TargetType = "pub-dev"
	TargetGCS      TargetType = "gcs"
	TargetMaven    TargetType = "maven"
	TargetGit      TargetType = "git"
	TargetRegistry TargetType = "registry"
)

// FeatureFlag is a typed string naming an opt-in pipeline behavior. The
// config loader has no "features" key, so nothing in the pipeline reads
// these flags.
type FeatureFlag string

const (
	// ChangelogPolicyFeatureFlag enables strict CHANGELOG.md policy checks
	// during the preparation pipeline.
	ChangelogPolicyFeatureFlag FeatureFlag = "changelog-policy"
	// GitHubReleaseNotesFeatureFlag enables generating release notes from
	// GitHub's auto-generated notes API instead of CHANGELOG.md.
	GitHubReleaseNotesFeatureFlag FeatureFlag = "github-release-notes"
)

// Default registry endpoints. Each target's own config can override these;
// these are the values used when a .craft.yml target block omits them.
const (
	DefaultNpmRegistryURL     = "https://registry.npmjs.org"
	DefaultPyPIRepositoryURL  = "https://upload.pypi.org/legacy/"
	DefaultCratesRegistryURL  = "https://crates.io"
	DefaultRubyGemsHost       = "https://rubygems.org"
	DefaultHexRegistryURL     = "https://hex.pm/api"
	DefaultNugetSourceURL     = "https://api.nuget.org/v3/index.json"
	DefaultPubDevURL          = "https://pub.dev"
	DefaultMavenCentralURL    = "https://repo1.maven.org/maven2"
	DefaultSonatypeBaseURL    = "https://oss.sonatype.org"
	DefaultSonatypeCentralURL = "https://central.sonatype.com"
	DefaultSonatypeDeployURL  = "https://oss.sonatype.org/service/local/staging/deploy/maven2"
	DefaultMavenRepositoryID  = "ossrh"
	DefaultMavenNamespace     = "io.sentry"
	DefaultRegistryRepo       = "getsentry/sentry-release-registry"
)

// Publish-ordering priorities (spec §9 open question 1): targets whose
// output other targets depend on (registry manifests reference published
// URLs; a Maven release is only meaningful once every deploy it depends on
// is live) run last within a release. Lower values run first.
const (
	DefaultPriority  = 0
	PriorityMaven    = 100
	PriorityRegistry = 200
)

// Default CLI binaries invoked by each registry target, resolved against
// PATH unless a target config overrides "bin".
const (
	DefaultNpmBin    = "npm"
	DefaultTwineBin  = "twine"
	DefaultCargoBin  = "cargo"
	DefaultGemBin    = "gem"
	DefaultMixBin    = "mix"
	DefaultDotnetBin = "dotnet"
	DefaultDartBin   = "dart"
	DefaultMvnBin    = "mvn"
	DefaultGpgBin    = "gpg"
	DefaultGsutilBin = "gsutil"
)

// DefaultChecksumAlgorithms names a default checksum algorithm set. No
// code path computes it automatically: checksums are computed only for the
// ChecksumSpecs a target requests.
var DefaultChecksumAlgorithms = []string{"sha256", "sha384"}

// Artifact and status-check names. Neither provider reads them: the Status
// Provider checks the contexts listed under statusProvider.contexts, and
// no checksum manifest file is written.
const (
	// DefaultRevisionStatusContext names a GitHub combined-status context.
	DefaultRevisionStatusContext = "craft/publish"
	// ChecksumsFileName names a per-artifact checksum manifest file.
	ChecksumsFileName = "checksums.txt"
)

// Timeout defaults, following the teacher's pattern of pairing a
// time.Duration constant with a legacy int-seconds/minutes constant derived
// from it, so call sites can use either without a conversion helper.
const (
	DefaultArtifactDownloadTimeout        = 5 * time.Minute
	DefaultArtifactDownloadTimeoutSeconds = int(DefaultArtifactDownloadTimeout / time.Second)

	DefaultRevisionStatusPollInterval        = 10 * time.Second
	DefaultRevisionStatusPollIntervalSeconds = int(DefaultRevisionStatusPollInterval / time.Second)

	DefaultRevisionStatusTimeout        = 60 * time.Minute
	DefaultRevisionStatusTimeoutSeconds = int(DefaultRevisionStatusTimeout / time.Second)

	DefaultSonatypeStagingPollInterval        = 1 * time.Minute
	DefaultSonatypeStagingPollIntervalSeconds = int(DefaultSonatypeStagingPollInterval / time.Second)

	DefaultSonatypeStagingTimeout        = 2 * time.Hour
	DefaultSonatypeStagingTimeoutSeconds = int(DefaultSonatypeStagingTimeout / time.Second)

	DefaultGitCloneTimeout        = 10 * time.Minute
	DefaultGitCloneTimeoutSeconds = int(DefaultGitCloneTimeout / time.Second)
)

// DefaultArtifactDownloadConcurrency bounds how many artifacts the Artifact
// Provider downloads in parallel via the sourcegraph/conc worker pool.
const DefaultArtifactDownloadConcurrency = 5

// DefaultConfigFileName is the project-relative config file every craft
// command loads; the CLI has no flag to choose another file.
const DefaultConfigFileName = ".craft.yml"

// DefaultStatusProviderCacheFileName names an on-disk status cache file.
// The Status Provider caches results in memory only and never writes it.
const DefaultStatusProviderCacheFileName = ".craft-status-cache.json"
