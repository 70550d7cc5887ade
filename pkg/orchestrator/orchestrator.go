// Package orchestrator runs the publish pipeline's per-target loop (spec
// §2, §5): resolves which configured targets participate in a release,
// orders them by priority, publishes each inside its own scoped work
// directory, and aggregates every target's outcome for the run.
package orchestrator

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/targetdef"
)

var log = logger.New("orchestrator")

// Outcome records what happened when one target was considered for this
// release.
type Outcome struct {
	Target craft.TargetConfig
	Err    error
}

// Result aggregates every target's Outcome for one Publish call.
type Result struct {
	Outcomes []Outcome
}

// Failed reports whether any Outcome recorded a fatal error.
func (r *Result) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			if kind, ok := errs.Of(o.Err); ok && errs.IsFatal(kind) {
				return true
			}
		}
	}
	return false
}

// Orchestrator owns the resources shared across targets in one release:
// the Artifact Provider every target downloads through, and the
// process-wide Maven staging-repository lock (spec §5 "the Sonatype
// staging repository is a process-wide singleton resource; only one Maven
// target may hold it at a time").
type Orchestrator struct {
	Artifacts targetdef.ArtifactProvider
	// WorkDirRoot is the parent directory each target's scoped work
	// directory is created under; defaults to os.TempDir() if empty.
	WorkDirRoot string

	mavenMu sync.Mutex
}

// New constructs an Orchestrator around the given Artifact Provider.
func New(artifacts targetdef.ArtifactProvider) *Orchestrator {
	return &Orchestrator{Artifacts: artifacts}
}

// Publish runs every target in rc.Targets matching targetName (empty
// matches all), in ascending Registration.Priority order (ties broken by
// declaration order, per DESIGN.md's open-question decisions #1 and #2).
// Targets publish sequentially (spec §5 "targets publish in config order
// by default"); a fatal error aborts the run immediately unless rc.DryRun,
// in which case the error is recorded and the loop continues so dry-run
// surfaces as many problems as possible in one invocation.
func (o *Orchestrator) Publish(ctx context.Context, rc craft.ReleaseContext, targetName string) (*Result, error) {
	selected := selectTargets(rc.Targets, targetName)
	if targetName != "" && len(selected) == 0 {
		return nil, errs.Newf(errs.Configuration, "no configured target matches %q", targetName)
	}
	ordered := orderByPriority(selected)

	result := &Result{}
	for _, cfg := range ordered {
		outcome := o.publishOne(ctx, rc, cfg)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Err == nil {
			continue
		}
		kind, _ := errs.Of(outcome.Err)
		if !errs.IsFatal(kind) {
			continue
		}
		if rc.DryRun {
			log.Printf("dry-run: %s failed (%v), continuing so remaining targets are also checked", cfg.Key(), outcome.Err)
			continue
		}
		return result, outcome.Err
	}
	return result, nil
}

func (o *Orchestrator) publishOne(ctx context.Context, rc craft.ReleaseContext, cfg craft.TargetConfig) Outcome {
	log.Printf("publishing target %s", cfg.Key())

	target, err := targetdef.New(cfg)
	if err != nil {
		return Outcome{Target: cfg, Err: err}
	}

	if cfg.Name == "maven" {
		if !o.mavenMu.TryLock() {
			return Outcome{Target: cfg, Err: errs.New(errs.PreconditionFailed, "another Maven target already holds the Sonatype staging lock")}
		}
		defer o.mavenMu.Unlock()
	}

	workDir, err := os.MkdirTemp(o.workDirRoot(), "craft-"+sanitize(cfg.Key())+"-*")
	if err != nil {
		return Outcome{Target: cfg, Err: errs.Wrap(errs.Transient, "create target work directory", err)}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("best-effort cleanup of %s failed: %v", workDir, err)
		}
	}()

	req := targetdef.PublishRequest{
		Version:   rc.Version,
		Revision:  rc.Revision,
		Config:    cfg,
		DryRun:    rc.DryRun,
		Artifacts: o.Artifacts,
		WorkDir:   workDir,
	}

	if err := target.Publish(ctx, req); err != nil {
		return Outcome{Target: cfg, Err: err}
	}
	return Outcome{Target: cfg}
}

func (o *Orchestrator) workDirRoot() string {
	if o.WorkDirRoot != "" {
		return o.WorkDirRoot
	}
	return os.TempDir()
}

func sanitize(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func selectTargets(all []craft.TargetConfig, name string) []craft.TargetConfig {
	if name == "" {
		return all
	}
	out := make([]craft.TargetConfig, 0, 1)
	for _, cfg := range all {
		if cfg.Name == name {
			out = append(out, cfg)
		}
	}
	return out
}

// orderByPriority stable-sorts cfgs ascending by their registered target
// kind's Registration.Priority (unregistered kinds sort at
// constants.DefaultPriority); ties keep their original (declaration)
// order, matching spec.md §9's "input data, not hard-coded rules" note.
func orderByPriority(cfgs []craft.TargetConfig) []craft.TargetConfig {
	out := make([]craft.TargetConfig, len(cfgs))
	copy(out, cfgs)
	priority := func(cfg craft.TargetConfig) int {
		if reg, ok := targetdef.Lookup(cfg.Name); ok {
			return reg.Priority
		}
		return 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priority(out[i]) < priority(out[j])
	})
	return out
}
