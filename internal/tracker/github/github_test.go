package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/implflow/internal/config"
)

func newTestSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	s, err := NewWithClient(client, config.GitHubConfig{
		Owner:          "acme",
		Repo:           "web",
		MaxRetries:     2,
		InitialBackoff: config.Duration(time.Millisecond),
	}, nil)
	require.NoError(t, err)
	return s
}

func TestSource_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/issues/101", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"number":     101,
			"title":      "Add login rate limiting",
			"state":      "open",
			"html_url":   "https://github.com/acme/web/issues/101",
			"updated_at": "2026-03-01T10:00:00Z",
			"body":       "Lock accounts.\n\n- [ ] Five failed logins lock the account\n- [x] Lockout is logged",
			"labels":     []map[string]string{{"name": "security"}},
		})
	})

	item, err := newTestSource(t, mux).Fetch(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "101", item.ID)
	assert.Equal(t, "Issue", item.Type)
	assert.Equal(t, "Add login rate limiting", item.Title)
	assert.Equal(t, []string{"Five failed logins lock the account", "Lockout is logged"}, item.AcceptanceCriteria)
	assert.Equal(t, "https://github.com/acme/web/issues/101", item.URL)
	assert.NotZero(t, item.Revision)
	require.Len(t, item.Links, 1)
	assert.Equal(t, "security", item.Links[0].Title)
}

func TestSource_FetchRetriesServerErrors(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/issues/7", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"number": 7, "title": "t"}`)
	})

	item, err := newTestSource(t, mux).Fetch(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", item.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSource_FetchDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/issues/7", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "Not Found"}`)
	})

	_, err := newTestSource(t, mux).Fetch(context.Background(), "7")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSource_PostComment(t *testing.T) {
	var body string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/issues/101/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var c github.IssueComment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		body = c.GetBody()
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 1}`)
	})

	require.NoError(t, newTestSource(t, mux).PostComment(context.Background(), "101", "## Implementation Plan"))
	assert.Equal(t, "## Implementation Plan", body)
}

func TestSource_InvalidNumber(t *testing.T) {
	s := newTestSource(t, http.NewServeMux())
	_, err := s.Fetch(context.Background(), "AB-1")
	assert.ErrorContains(t, err, "invalid issue number")
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := &RetryConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)

	cfg = &RetryConfig{MaxRetries: 5, BackoffMultiplier: 3}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 3.0, cfg.BackoffMultiplier)
}

func TestRetryable(t *testing.T) {
	resp := func(code int) *github.Response {
		return &github.Response{Response: &http.Response{StatusCode: code}}
	}
	err := assert.AnError

	assert.True(t, retryable(err, nil))
	assert.True(t, retryable(err, resp(http.StatusTooManyRequests)))
	assert.True(t, retryable(err, resp(http.StatusServiceUnavailable)))
	assert.False(t, retryable(err, resp(http.StatusNotFound)))
	assert.False(t, retryable(err, resp(http.StatusForbidden)))
	assert.False(t, retryable(nil, resp(http.StatusBadGateway)))

	limited := resp(http.StatusForbidden)
	limited.Rate = github.Rate{Limit: 5000, Remaining: 0}
	assert.True(t, retryable(err, limited))
}
