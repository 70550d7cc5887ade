// Package craft holds the data model shared by every publish-pipeline
// component: versions, revisions, artifacts, target configuration, and the
// release context threaded through a single "craft publish" invocation.
package craft

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is an immutable, totally ordered SemVer value. It is a preview
// (pre-release) version iff its pre-release identifier is non-empty.
type Version struct {
	inner *semver.Version
	raw   string
}

// ParseVersion parses a SemVer string into a Version. On failure, callers
// wrap the error as a Configuration error (errs.Wrap(errs.Configuration, ...));
// this package itself stays error-kind agnostic and returns a
// plain error, matching the low-level-parser convention the rest of the
// pipeline wraps at its call sites.
func ParseVersion(raw string) (Version, error) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return Version{inner: v, raw: raw}, nil
}

// MustParseVersion is ParseVersion but panics on error; used for constants
// and tests where the version is known to be valid.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the original, as-parsed version string.
func (v Version) String() string {
	if v.inner == nil {
		return ""
	}
	return v.raw
}

// Major, Minor, Patch expose the numeric SemVer components.
func (v Version) Major() uint64 { return v.inner.Major() }
func (v Version) Minor() uint64 { return v.inner.Minor() }
func (v Version) Patch() uint64 { return v.inner.Patch() }

// Prerelease returns the pre-release identifier, or "" if this is a
// release version.
func (v Version) Prerelease() string { return v.inner.Prerelease() }

// Metadata returns the build-metadata identifier, or "".
func (v Version) Metadata() string { return v.inner.Metadata() }

// IsPreview reports whether this version has a non-empty pre-release
// identifier. Preview versions are excluded from "latest" npm tags and from
// certain registry entries unless a target opts in via linkPrereleases.
func (v Version) IsPreview() bool { return v.Prerelease() != "" }

// IsZero reports whether this Version was never successfully parsed.
func (v Version) IsZero() bool { return v.inner == nil }

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater than
// other, following SemVer precedence rules (pre-release < release).
func (v Version) Compare(other Version) int {
	return v.inner.Compare(other.inner)
}

// LessThan reports whether v sorts strictly before other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// MajorMinor returns the "<major>.<minor>" string used for registry symlink
// naming (packages/{type}/{canonical}/<major>.<minor>.json).
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// MajorString returns the "<major>" string used for registry symlink naming.
func (v Version) MajorString() string {
	return fmt.Sprintf("%d", v.Major())
}
