package prepare

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getsentry/craft/pkg/craft"
)

// bump is the SemVer component a conventional-commit subject line implies.
type bump int

const (
	bumpNone bump = iota
	bumpPatch
	bumpMinor
	bumpMajor
)

func (b bump) max(other bump) bump {
	if other > b {
		return other
	}
	return b
}

// conventionalSubject matches a conventional-commit header: "type(scope)!: subject".
var conventionalSubject = regexp.MustCompile(`^([a-zA-Z]+)(\([^)]*\))?(!)?:\s`)

// classifyCommit returns the bump a single commit message implies, per the
// conventional-commits convention: a "!" after the type/scope or a
// "BREAKING CHANGE:" footer forces a major bump, "feat" implies minor,
// everything else conventional-commit-shaped implies patch, and a message
// that doesn't match the convention at all implies no bump.
func classifyCommit(message string) bump {
	if strings.Contains(message, "BREAKING CHANGE:") {
		return bumpMajor
	}
	m := conventionalSubject.FindStringSubmatch(message)
	if m == nil {
		return bumpNone
	}
	if m[3] == "!" {
		return bumpMajor
	}
	switch m[1] {
	case "feat":
		return bumpMinor
	default:
		return bumpPatch
	}
}

// deriveNextVersion applies versioning.policy == auto: the loudest bump
// implied by any commit since the previous release wins, falling back to a
// patch bump when there is history but nothing conventional-commit-shaped
// in it (craft still needs to cut a release).
func deriveNextVersion(previous craft.Version, commitMessages []string) craft.Version {
	b := bumpNone
	for _, msg := range commitMessages {
		b = b.max(classifyCommit(msg))
	}
	if b == bumpNone && len(commitMessages) > 0 {
		b = bumpPatch
	}
	return applyBump(previous, b)
}

// applyBump bumps previous by b, resetting lower components per SemVer
// (a minor bump zeroes patch, a major bump zeroes minor and patch).
func applyBump(previous craft.Version, b bump) craft.Version {
	major, minor, patch := previous.Major(), previous.Minor(), previous.Patch()
	switch b {
	case bumpNone:
		return previous
	case bumpMajor:
		major, minor, patch = major+1, 0, 0
	case bumpMinor:
		minor, patch = minor+1, 0
	default:
		patch++
	}
	return craft.MustParseVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
}

// simpleBump implements versioning.policy == simple: always a patch bump.
func simpleBump(previous craft.Version) craft.Version {
	return applyBump(previous, bumpPatch)
}
