package githubinput

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverdev/rover/internal/logging"
)

func TestParseIssueRef(t *testing.T) {
	ref, err := ParseIssueRef("roverdev/rover#42")
	require.NoError(t, err)
	assert.Equal(t, IssueRef{Owner: "roverdev", Repo: "rover", Number: 42}, ref)

	for _, bad := range []string{"", "rover#1", "roverdev/rover", "roverdev/rover#zero", "roverdev/rover#-1", "/#1"} {
		_, err := ParseIssueRef(bad)
		assert.ErrorIs(t, err, ErrBadIssueRef, bad)
	}
}

func testFetcher(t *testing.T, handler http.Handler) (*Fetcher, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	var slept []time.Duration
	f := &Fetcher{
		client: client,
		logger: logging.NewNop(),
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return f, &slept
}

func TestFetchIssue(t *testing.T) {
	f, slept := testFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/roverdev/rover/issues/7", r.URL.Path)
		fmt.Fprint(w, `{"number": 7, "title": "Fix login", "body": "It breaks.", "html_url": "https://github.com/roverdev/rover/issues/7"}`)
	}))

	issue, err := f.FetchIssue(t.Context(), IssueRef{Owner: "roverdev", Repo: "rover", Number: 7})
	require.NoError(t, err)
	assert.Equal(t, "Fix login", issue.Title)
	assert.Equal(t, "It breaks.", issue.Body)
	assert.Equal(t, 7, issue.Number)
	assert.Empty(t, *slept)
}

func TestFetchIssue_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	f, slept := testFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"number": 7, "title": "Fix login", "body": ""}`)
	}))

	issue, err := f.FetchIssue(t.Context(), IssueRef{Owner: "o", Repo: "r", Number: 7})
	require.NoError(t, err)
	assert.Equal(t, "Fix login", issue.Title)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{baseBackoff, 2 * baseBackoff}, *slept)
}

func TestFetchIssue_DoesNotRetryNotFound(t *testing.T) {
	attempts := 0
	f, slept := testFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))

	_, err := f.FetchIssue(t.Context(), IssueRef{Owner: "o", Repo: "r", Number: 404})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestFetchIssue_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	f, _ := testFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := f.FetchIssue(t.Context(), IssueRef{Owner: "o", Repo: "r", Number: 1})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, attempts)
}

func TestRetryBackoff_Caps(t *testing.T) {
	assert.Equal(t, baseBackoff, retryBackoff(1, nil))
	assert.Equal(t, maxBackoffCap, retryBackoff(10, nil))
}
