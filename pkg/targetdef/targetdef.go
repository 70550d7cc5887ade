// Package targetdef defines the Target contract every publication protocol
// implements, and a name-keyed dynamic registry of target constructors.
// Per the design note "no runtime reflection": dispatch is a map lookup to
// plain function values, not a type switch or reflect-based instantiation.
package targetdef

import (
	"context"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
)

// ArtifactProvider is the subset of the Artifact Provider contract a target
// needs to fetch the files it publishes. pkg/artifacts.Provider satisfies
// this structurally; targets never import pkg/artifacts directly.
type ArtifactProvider interface {
	FilterArtifactsForRevision(ctx context.Context, revision craft.Revision, filter craft.ArtifactFilter) ([]craft.RemoteArtifact, error)
	DownloadArtifact(ctx context.Context, artifact craft.RemoteArtifact, dstDir string) (string, error)
	GetChecksum(ctx context.Context, artifact craft.RemoteArtifact, algo craft.ChecksumAlgorithm, format craft.ChecksumFormat) (string, error)
}

// PublishRequest carries everything a Target needs to publish one release.
type PublishRequest struct {
	Version   craft.Version
	Revision  craft.Revision
	Config    craft.TargetConfig
	DryRun    bool
	Artifacts ArtifactProvider
	// WorkDir is a target-scoped temp directory, created and cleaned up by
	// the orchestrator around the Publish call.
	WorkDir string
}

// Target is the contract every publication protocol implements: publish is
// required; detect and bumpVersion are optional capabilities surfaced
// through the registry, not through type assertions on a Target value.
type Target interface {
	// Publish performs the target's side effects. It must be idempotent
	// at the release granularity: re-running with the same inputs either
	// succeeds because the release is already published at the
	// destination, or is a no-op. It returns an *errs.Error tagged
	// Configuration (fatal) or Transient (retryable).
	Publish(ctx context.Context, req PublishRequest) error
}

// Detection is the result of a Target's optional project-introspection
// step: a candidate config, a priority used to order auto-detected targets,
// and the environment secrets the target will need.
type Detection struct {
	Config          map[string]interface{}
	Priority        int
	RequiredSecrets []string
}

// NewFunc constructs a configured Target from a TargetConfig.
type NewFunc func(cfg craft.TargetConfig) (Target, error)

// DetectFunc inspects rootDir and returns a Detection, or nil if this
// target doesn't apply to the project. Detection is independent of any
// configured Target instance, matching the "factory plus detect/bumpVersion
// method values" design note.
type DetectFunc func(ctx context.Context, rootDir string) (*Detection, error)

// BumpVersionFunc deterministically rewrites a target's manifest files to
// the new version, without performing network I/O. It returns true iff at
// least one file was changed.
type BumpVersionFunc func(rootDir string, version craft.Version) (bool, error)

// Registration is everything the registry knows about one target kind.
type Registration struct {
	Name        string
	New         NewFunc
	Detect      DetectFunc      // nil if this target has no auto-detection
	BumpVersion BumpVersionFunc // nil if this target has no manifest to bump
	// Priority is the static ordering used both by the preparation
	// pipeline for bumpVersion application and by the orchestrator for
	// publish order; lower values run first. It is set per registration;
	// no config key overrides it.
	Priority int
}

var registry = map[string]Registration{}

// Register adds (or replaces) a target kind in the registry. Called from
// each pkg/targets/* package's init().
func Register(r Registration) {
	registry[r.Name] = r
}

// Lookup returns the Registration for name, if any.
func Lookup(name string) (Registration, bool) {
	r, ok := registry[name]
	return r, ok
}

// New constructs a configured Target for cfg.Name, or a Configuration error
// if no target of that kind is registered.
func New(cfg craft.TargetConfig) (Target, error) {
	r, ok := Lookup(cfg.Name)
	if !ok {
		return nil, errs.Configurationf("name", "unknown target kind %q", cfg.Name)
	}
	return r.New(cfg)
}

// Names returns every registered target kind name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// All returns every Registration, in no particular order.
func All() []Registration {
	out := make([]Registration, 0, len(registry))
	for _, r := range registry {
		out = append(out, r)
	}
	return out
}
