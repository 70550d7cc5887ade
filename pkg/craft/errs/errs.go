// Package errs models the publish pipeline's error kinds as sentinel values
// usable with errors.Is/errors.As, the way pkg/ratelimit models
// ErrRateLimitExceeded: callers branch on kind, not on string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the publish pipeline's error kinds, as distinct from a Go
// error type: every error constructed by this package wraps exactly one
// Kind, and callers test for it with errors.Is(err, errs.ConfigurationErr).
type Kind int

const (
	// Configuration is an invalid or missing configuration value. Fatal,
	// surfaced immediately with the offending field name.
	Configuration Kind = iota
	// NotFound is a missing artifact or resource. Per-target configurable
	// to be fatal or to skip.
	NotFound
	// Transient is a network error, 5xx response, or non-zero process
	// exit that is worth retrying.
	Transient
	// PreconditionFailed is a state-machine invariant violation (e.g. a
	// Maven staging repository that isn't open). Fatal, never retried.
	PreconditionFailed
	// Deadline is a polling loop that exceeded its bound. Fatal.
	Deadline
	// Upstream is an external tool reporting a recognizable "already
	// done" signal, normalized to success by the caller.
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "Configuration"
	case NotFound:
		return "NotFound"
	case Transient:
		return "Transient"
	case PreconditionFailed:
		return "PreconditionFailed"
	case Deadline:
		return "Deadline"
	case Upstream:
		return "Upstream"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error. Use errors.Is(err, errs.ConfigurationErr)
// (etc.) to test the kind; Error.Kind is also directly comparable via errors.As.
type Error struct {
	Kind  Kind
	Msg   string
	Field string // set for Configuration errors naming the offending field
	Err   error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is implements the errors.Is protocol against the package-level sentinel
// values (ConfigurationErr, NotFoundErr, ...), so errors.Is(err,
// errs.TransientErr) works without exposing *Error's fields to callers.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == k.kind
}

// kindSentinel wraps a Kind so it can serve as an errors.Is target.
type kindSentinel struct{ kind Kind }

func (s kindSentinel) Error() string { return s.kind.String() }

// The package-level values used as errors.Is targets, one per Kind:
// errors.Is(err, errs.ConfigurationErr).
var (
	ConfigurationErr      error = kindSentinel{Configuration}
	NotFoundErr           error = kindSentinel{NotFound}
	TransientErr          error = kindSentinel{Transient}
	PreconditionFailedErr error = kindSentinel{PreconditionFailed}
	DeadlineErr           error = kindSentinel{Deadline}
	UpstreamErr           error = kindSentinel{Upstream}
)

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Configurationf constructs a Configuration error naming the offending field.
func Configurationf(field, format string, args ...interface{}) *Error {
	return &Error{Kind: Configuration, Msg: fmt.Sprintf(format, args...), Field: field}
}

// Of reports the Kind of err, walking wrapped errors via errors.As. The
// second return is false if err is nil or not one of ours.
func Of(err error) (Kind, bool) {
	var e *Error
	if err == nil {
		return 0, false
	}
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsFatal reports whether a Kind is always fatal to the run (as opposed to
// Transient, which is retried internally before escalating).
func IsFatal(kind Kind) bool {
	switch kind {
	case Configuration, PreconditionFailed, Deadline:
		return true
	default:
		return false
	}
}
