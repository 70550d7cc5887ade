package maven

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetRepository_RequiresExactlyOneActive(t *testing.T) {
	cases := []struct {
		name    string
		entries []map[string]string
		wantErr bool
	}{
		{"none", nil, true},
		{"one", []map[string]string{{"repositoryId": "repo-1", "type": "open", "portal_deployment_id": "dep-1"}}, false},
		{"two", []map[string]string{
			{"repositoryId": "repo-1", "type": "open"},
			{"repositoryId": "repo-2", "type": "closed"},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data := make([]map[string]string, 0, len(tc.entries))
				data = append(data, tc.entries...)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
			}))
			defer srv.Close()

			client := NewSonatypeClient(srv.Client(), srv.URL, srv.URL, "u", "p")
			repo, err := client.GetRepository(context.Background())
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, "repo-1", repo.RepositoryID)
			}
		})
	}
}

func TestCloseRepository_SucceedsWhenStateFlipsToClosed(t *testing.T) {
	state := "open"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			state = "closed"
			w.WriteHeader(http.StatusOK)
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{
				{"repositoryId": "repo-1", "type": state},
			}})
		}
	}))
	defer srv.Close()

	client := NewSonatypeClient(srv.Client(), srv.URL, srv.URL, "u", "p")
	err := client.CloseRepository(context.Background(), "repo-1")
	require.NoError(t, err)
}

func TestCloseRepository_RejectedStatusIsPreconditionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewSonatypeClient(srv.Client(), srv.URL, srv.URL, "u", "p")
	err := client.CloseRepository(context.Background(), "repo-1")
	require.Error(t, err)
}

func TestPollUntil_ReturnsDeadlineErrorWhenNeverDone(t *testing.T) {
	client := NewSonatypeClient(http.DefaultClient, "http://example.invalid", "http://example.invalid", "u", "p")
	err := client.pollUntil(context.Background(), time.Millisecond, 5*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	require.Error(t, err)
}

func TestIsPublished_ParsesBooleanField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"published": true})
	}))
	defer srv.Close()

	client := NewSonatypeClient(srv.Client(), srv.URL, srv.URL, "u", "p")
	published, err := client.IsPublished(context.Background(), "io.sentry", "sentry", "1.0.0")
	require.NoError(t, err)
	require.True(t, published)
}
