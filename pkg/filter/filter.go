// Package filter compiles the three pattern forms craft's config accepts
// for artifact and workflow-run matching — a regex literal ("/…/flags"), a
// glob ("*"/"?"), or an exact string — into a single *regexp.Regexp at
// config load time, per spec's "filter-string union" design note.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Compile parses pattern and returns the equivalent *regexp.Regexp.
//
//   - "/re/flags"  -> the regex literal "re", with Go-translated inline flags
//     (only "i" is recognized, matching the reference implementation's
//     JS-flavored regex literals).
//   - contains '*' or '?' and isn't a regex literal -> compiled as a glob,
//     where '*' matches any run of characters and '?' matches exactly one.
//   - anything else -> compiled as the exact string, anchored (^...$).
func Compile(pattern string) (*regexp.Regexp, error) {
	if lit, flags, ok := parseRegexLiteral(pattern); ok {
		expr := lit
		if strings.Contains(flags, "i") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regex literal %q: %w", pattern, err)
		}
		return re, nil
	}

	if strings.ContainsAny(pattern, "*?") {
		return regexp.Compile("^" + globToRegex(pattern) + "$")
	}

	return regexp.Compile("^" + regexp.QuoteMeta(pattern) + "$")
}

// CompileAll compiles every pattern in patterns, short-circuiting on the
// first error.
func CompileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// parseRegexLiteral recognizes a "/body/flags" literal, returning its body
// and flags. The body must not itself contain an unescaped '/'.
func parseRegexLiteral(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 || pattern[0] != '/' {
		return "", "", false
	}
	// Find the closing slash, respecting backslash escapes.
	for i := len(pattern) - 1; i > 0; i-- {
		if pattern[i] == '/' && pattern[i-1] != '\\' {
			return pattern[1:i], pattern[i+1:], true
		}
	}
	return "", "", false
}

// globToRegex translates a shell-style glob ('*' any run, '?' one char)
// into an unanchored regex body; the caller anchors it.
func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
