// Package config decodes .craft.yml into the typed structures the rest of
// the publish pipeline consumes: target configuration, the changelog
// policy, the status-provider contexts list, and artifact filter config.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/getsentry/craft/pkg/artifacts"
	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
)

// ChangelogPolicy selects how release notes are assembled.
type ChangelogPolicy string

const (
	ChangelogPolicyAuto   ChangelogPolicy = "auto"
	ChangelogPolicySimple ChangelogPolicy = "simple"
	ChangelogPolicyNone   ChangelogPolicy = "none"
)

// VersioningPolicy selects how the next version is derived when the
// caller doesn't pass one to "craft prepare" explicitly.
type VersioningPolicy string

const (
	// VersioningPolicyAuto derives the next version from conventional
	// commits since the last tag (breaking -> major, feat -> minor,
	// everything else -> patch).
	VersioningPolicyAuto VersioningPolicy = "auto"
	// VersioningPolicySimple bumps the patch component of the last tag.
	VersioningPolicySimple VersioningPolicy = "simple"
	// VersioningPolicyNone requires an explicit version argument.
	VersioningPolicyNone VersioningPolicy = "none"
)

// StatusProviderConfig names the revision-status check to wait on before
// publish, and an optional fixed list of required contexts (§4.2).
type StatusProviderConfig struct {
	Name     string   `yaml:"name,omitempty"`
	Contexts []string `yaml:"contexts,omitempty"`
}

// Config is the decoded form of .craft.yml.
type Config struct {
	MinVersion        string               `yaml:"minVersion,omitempty" json:"minVersion,omitempty"`
	GitHubRepo        string               `yaml:"githubRepo,omitempty" json:"githubRepo,omitempty"`
	VersioningPolicy  VersioningPolicy     `yaml:"versioningPolicy,omitempty" json:"versioningPolicy,omitempty"`
	ChangelogPolicy   ChangelogPolicy      `yaml:"changelogPolicy,omitempty" json:"changelogPolicy,omitempty"`
	PreReleaseCommand string               `yaml:"preReleaseCommand,omitempty" json:"preReleaseCommand,omitempty"`
	StatusProvider    StatusProviderConfig `yaml:"statusProvider,omitempty" json:"statusProvider"`
	Targets           []craft.TargetConfig `yaml:"-" json:"targets"`
	Artifacts         interface{}          `yaml:"-" json:"artifacts,omitempty"`
}

// rawConfig mirrors the YAML shape before target/artifact entries are
// normalized into their typed forms; "targets" entries are
// shape-heterogeneous per target kind, so they're decoded as generic maps
// first and converted by convertTarget.
type rawConfig struct {
	MinVersion        string                   `yaml:"minVersion"`
	GitHubRepo        string                   `yaml:"githubRepo"`
	VersioningPolicy  string                   `yaml:"versioningPolicy"`
	ChangelogPolicy   string                   `yaml:"changelogPolicy"`
	PreReleaseCommand string                   `yaml:"preReleaseCommand"`
	StatusProvider    StatusProviderConfig     `yaml:"statusProvider"`
	Targets           []map[string]interface{} `yaml:"targets"`
	Artifacts         interface{}              `yaml:"artifacts"`
}

// Load reads and decodes path (normally constants.DefaultConfigFileName).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "read config file", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.Configuration, "parse config YAML", err)
	}

	targets := make([]craft.TargetConfig, 0, len(raw.Targets))
	for i, m := range raw.Targets {
		tc, err := convertTarget(m)
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("targets[%d]", i), err)
		}
		targets = append(targets, tc)
	}

	cfg := &Config{
		MinVersion:        raw.MinVersion,
		GitHubRepo:        raw.GitHubRepo,
		VersioningPolicy:  VersioningPolicy(raw.VersioningPolicy),
		ChangelogPolicy:   ChangelogPolicy(raw.ChangelogPolicy),
		PreReleaseCommand: raw.PreReleaseCommand,
		StatusProvider:    raw.StatusProvider,
		Targets:           targets,
		Artifacts:         raw.Artifacts,
	}
	if cfg.VersioningPolicy == "" {
		cfg.VersioningPolicy = VersioningPolicyAuto
	}
	if cfg.ChangelogPolicy == "" {
		cfg.ChangelogPolicy = ChangelogPolicyAuto
	}
	return cfg, nil
}

// convertTarget promotes a target map's well-known fields (name, id,
// includeNames, excludeNames) to craft.TargetConfig's named fields and
// keeps everything else in Extra, matching TargetConfig's design.
func convertTarget(m map[string]interface{}) (craft.TargetConfig, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return craft.TargetConfig{}, errs.Configurationf("name", "target entry is missing required \"name\"")
	}
	id, _ := m["id"].(string)
	includeNames, _ := m["includeNames"].(string)
	excludeNames, _ := m["excludeNames"].(string)

	extra := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "name", "id", "includeNames", "excludeNames":
			continue
		default:
			extra[k] = v
		}
	}

	return craft.TargetConfig{
		Name:         name,
		ID:           id,
		IncludeNames: includeNames,
		ExcludeNames: excludeNames,
		Extra:        extra,
	}, nil
}

// ArtifactFilters normalizes c.Artifacts (the .craft.yml top-level
// "artifacts" key) into the provider-ready filter list the workflow-run
// lookup strategy uses to scope which runs and artifact names count as
// release artifacts at all (spec §4.1 strategy 2), ahead of each target's
// own includeNames/excludeNames. Returns nil, nil when unset.
func (c *Config) ArtifactFilters() ([]craft.ArtifactFilter, error) {
	if c.Artifacts == nil {
		return nil, nil
	}
	return artifacts.NormalizeFilterConfig(c.Artifacts)
}

// Effective renders cfg as indented JSON, backing the "craft config" CLI
// command (spec §6 External Interfaces, supplemented feature).
func (c *Config) Effective() (string, error) {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "render effective config", err)
	}
	return string(out), nil
}

// DefaultPath returns the conventional config file name.
func DefaultPath() string {
	return constants.DefaultConfigFileName
}
