package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/ghclient"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *int64) {
	t.Helper()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	gh := ghclient.NewWithHTTPClient("getsentry", "craft", server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	gh.SetBaseURL(base)

	return NewProvider(gh, "github.com"), &calls
}

func respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestGetRevisionStatus_NoContexts_AllSuccess(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":1,"check_runs":[{"id":1,"name":"test","status":"completed","conclusion":"success"}]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"success","total_count":1,"statuses":[{"state":"success","context":"ci/build"}]}`)
		}
	})

	status, err := p.GetRevisionStatus(context.Background(), "deadbeef", nil)
	require.NoError(t, err)
	require.Equal(t, Success, status)
}

func TestGetRevisionStatus_NoContexts_LegacyPendingZeroTotalFallsBackToCheckRuns(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":1,"check_runs":[{"id":1,"name":"test","status":"completed","conclusion":"success"}]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"pending","total_count":0,"statuses":[]}`)
		}
	})

	status, err := p.GetRevisionStatus(context.Background(), "deadbeef", nil)
	require.NoError(t, err)
	require.Equal(t, Success, status)
}

func TestGetRevisionStatus_NoContexts_NoChecksAtAllIsFailure(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":0,"check_runs":[]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"pending","total_count":0,"statuses":[]}`)
		}
	})

	status, err := p.GetRevisionStatus(context.Background(), "deadbeef", nil)
	require.NoError(t, err)
	require.Equal(t, Failure, status)
}

func TestGetRevisionStatus_Contexts_FailureShortCircuits(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":0,"check_runs":[]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"failure","total_count":2,"statuses":[{"state":"failure","context":"ci/a"},{"state":"success","context":"ci/b"}]}`)
		}
	})

	status, err := p.GetRevisionStatus(context.Background(), "deadbeef", []string{"ci/a", "ci/b"})
	require.NoError(t, err)
	require.Equal(t, Failure, status)
}

func TestGetRevisionStatus_Contexts_NotFound(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":0,"check_runs":[]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"success","total_count":0,"statuses":[]}`)
		}
	})

	status, err := p.GetRevisionStatus(context.Background(), "deadbeef", []string{"ci/missing"})
	require.NoError(t, err)
	require.Equal(t, NotFound, status)
}

func TestFetch_IsCachedPerRevision(t *testing.T) {
	p, calls := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":0,"check_runs":[]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"success","total_count":1,"statuses":[{"state":"success","context":"ci/build"}]}`)
		}
	})

	ctx := context.Background()
	_, err := p.GetRevisionStatus(ctx, "deadbeef", nil)
	require.NoError(t, err)
	first := atomic.LoadInt64(calls)

	_, err = p.GetFailureDetails(ctx, "deadbeef", "getsentry", "craft")
	require.NoError(t, err)
	require.Equal(t, first, atomic.LoadInt64(calls))
}

func TestGetFailureDetails_FormatsLinesAndTrailer(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/check-runs"):
			respond(w, `{"total_count":1,"check_runs":[{"id":1,"name":"lint","status":"completed","conclusion":"failure","html_url":"https://github.com/x/y/runs/1"}]}`)
		case strings.Contains(r.URL.Path, "/check-suites"):
			respond(w, `{"total_count":0,"check_suites":[]}`)
		case strings.Contains(r.URL.Path, "/commits/"):
			respond(w, `{"state":"failure","total_count":1,"statuses":[{"state":"failure","context":"ci/build","target_url":"https://ci.example/build/1"}]}`)
		}
	})

	lines, err := p.GetFailureDetails(context.Background(), craft.Revision("deadbeef"), "getsentry", "craft")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "ci/build")
	require.Contains(t, lines[1], "lint")
	require.Equal(t, "See all checks: https://github.com/getsentry/craft/commit/deadbeef", lines[2])
}
