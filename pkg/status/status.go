// Package status implements the Status Provider: revision CI status
// resolution against GitHub's three overlapping status surfaces (legacy
// combined status, check suites, check runs), combined per spec's
// contexts-list / no-contexts algorithm and cached per revision.
package status

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-github/v84/github"
	"golang.org/x/sync/errgroup"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/ghclient"
	"github.com/getsentry/craft/pkg/logger"
)

var log = logger.New("status")

// Status is the combined verdict getRevisionStatus returns.
type Status int

const (
	Success Status = iota
	Pending
	Failure
	NotFound
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Pending:
		return "Pending"
	case Failure:
		return "Failure"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// raw holds the three API surfaces' results for one revision, fetched
// concurrently and cached for the life of the Provider.
type raw struct {
	combined    *github.CombinedStatus
	checkRuns   []*github.CheckRun
	checkSuites []*github.CheckSuite
}

// Provider resolves and caches revision status from GitHub.
type Provider struct {
	gh   *ghclient.Client
	host string // e.g. "github.com", used to build the getFailureDetails link

	mu    sync.Mutex
	cache map[craft.Revision]*raw
}

// NewProvider builds a Provider. host is the GitHub host used to build the
// "See all checks" link (normally "github.com").
func NewProvider(gh *ghclient.Client, host string) *Provider {
	if host == "" {
		host = "github.com"
	}
	return &Provider{gh: gh, host: host, cache: make(map[craft.Revision]*raw)}
}

func (p *Provider) fetch(ctx context.Context, revision craft.Revision) (*raw, error) {
	p.mu.Lock()
	if r, ok := p.cache[revision]; ok {
		p.mu.Unlock()
		return r, nil
	}
	p.mu.Unlock()

	r := &raw{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		combined, err := p.gh.GetCombinedStatus(gctx, string(revision))
		if err != nil {
			return errs.Wrap(errs.Transient, "get combined status", err)
		}
		r.combined = combined
		return nil
	})
	g.Go(func() error {
		runs, err := p.gh.ListCheckRunsForRef(gctx, string(revision))
		if err != nil {
			return errs.Wrap(errs.Transient, "list check runs", err)
		}
		r.checkRuns = runs
		return nil
	})
	g.Go(func() error {
		suites, err := p.gh.ListCheckSuitesForRef(gctx, string(revision))
		if err != nil {
			return errs.Wrap(errs.Transient, "list check suites", err)
		}
		r.checkSuites = suites
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[revision] = r
	p.mu.Unlock()
	return r, nil
}

// GetRevisionStatus resolves revision's combined CI status. When contexts
// is non-empty, each named context is evaluated independently against both
// legacy statuses and check runs, short-circuiting on the first Failure and
// returning Pending on the first in-flight context. When contexts is
// empty, legacy state and check-run state are combined per spec's fallback
// rules, with precedence Failure > Pending > Success.
func (p *Provider) GetRevisionStatus(ctx context.Context, revision craft.Revision, contexts []string) (Status, error) {
	r, err := p.fetch(ctx, revision)
	if err != nil {
		return NotFound, err
	}
	if len(contexts) > 0 {
		return evaluateContexts(r, contexts), nil
	}
	return evaluateNoContexts(r), nil
}

func evaluateContexts(r *raw, contexts []string) Status {
	for _, ctxName := range contexts {
		legacy, legacyFound := findLegacyStatus(r.combined, ctxName)
		run, runFound := findCheckRun(r.checkRuns, ctxName)

		if !legacyFound && !runFound {
			return NotFound
		}
		if legacyFound && isLegacyFailure(legacy) {
			return Failure
		}
		if runFound && isRunFailure(run) {
			return Failure
		}
		if legacyFound && legacy.GetState() == "pending" {
			return Pending
		}
		if runFound && run.GetStatus() != "completed" {
			return Pending
		}
	}
	return Success
}

func findLegacyStatus(combined *github.CombinedStatus, contextName string) (*github.RepoStatus, bool) {
	if combined == nil {
		return nil, false
	}
	for _, s := range combined.Statuses {
		if s.GetContext() == contextName {
			return s, true
		}
	}
	return nil, false
}

func findCheckRun(runs []*github.CheckRun, name string) (*github.CheckRun, bool) {
	for _, r := range runs {
		if r.GetName() == name {
			return r, true
		}
	}
	return nil, false
}

func isLegacyFailure(s *github.RepoStatus) bool {
	state := s.GetState()
	return state != "success" && state != "pending"
}

func isRunFailure(r *github.CheckRun) bool {
	if r.GetStatus() != "completed" {
		return false
	}
	conclusion := r.GetConclusion()
	return conclusion != "success" && conclusion != "skipped"
}

// evaluateNoContexts combines legacy and check-run state without a
// configured contexts list. A legacy state of "pending" with zero
// statuses reported is treated as "no legacy checks configured", falling
// back to check-runs alone.
func evaluateNoContexts(r *raw) Status {
	hasLegacy := r.combined != nil && r.combined.GetTotalCount() > 0
	legacyFailure := hasLegacy && r.combined.GetState() != "success" && r.combined.GetState() != "pending"
	legacyPending := hasLegacy && r.combined.GetState() == "pending"

	var runFailure, runPending, anyRun bool
	for _, run := range r.checkRuns {
		anyRun = true
		if isRunFailure(run) {
			runFailure = true
		}
		if run.GetStatus() != "completed" {
			runPending = true
		}
	}

	pendingSuite := false
	for _, suite := range r.checkSuites {
		if suite.GetStatus() != "completed" {
			pendingSuite = true
		}
	}

	if !hasLegacy && !anyRun {
		if pendingSuite {
			return Pending
		}
		return Failure
	}

	if legacyFailure || runFailure {
		return Failure
	}
	if legacyPending || runPending || pendingSuite {
		return Pending
	}
	return Success
}

// GetFailureDetails returns formatted failure-detail lines for revision,
// reusing the cached raw status (issuing the same three concurrent calls
// as GetRevisionStatus if not already cached). The last line is always
// "See all checks: <url>".
func (p *Provider) GetFailureDetails(ctx context.Context, revision craft.Revision, owner, repo string) ([]string, error) {
	r, err := p.fetch(ctx, revision)
	if err != nil {
		return nil, err
	}

	var lines []string
	if r.combined != nil {
		for _, s := range r.combined.Statuses {
			state := s.GetState()
			if state != "failure" && state != "error" {
				continue
			}
			if url := s.GetTargetURL(); url != "" {
				lines = append(lines, fmt.Sprintf("  %s: %s → %s", state, s.GetContext(), url))
			} else {
				lines = append(lines, fmt.Sprintf("  %s: %s", state, s.GetContext()))
			}
		}
	}
	for _, run := range r.checkRuns {
		if run.GetStatus() != "completed" {
			continue
		}
		conclusion := run.GetConclusion()
		if conclusion == "success" || conclusion == "skipped" {
			continue
		}
		if url := run.GetHTMLURL(); url != "" {
			lines = append(lines, fmt.Sprintf("  %s: %s → %s", conclusion, run.GetName(), url))
		} else {
			lines = append(lines, fmt.Sprintf("  %s: %s", conclusion, run.GetName()))
		}
	}

	lines = append(lines, fmt.Sprintf("See all checks: https://%s/%s/%s/commit/%s", p.host, owner, repo, revision))
	log.Printf("collected %d failure detail line(s) for %s", len(lines)-1, revision)
	return lines, nil
}
