// Package githubinput turns a GitHub issue into task-creation input.
package githubinput

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/roverdev/rover/internal/logging"
)

const (
	// tokenEnvVar is checked first; GITHUB_TOKEN is the fallback most CI
	// environments already export.
	tokenEnvVar         = "ROVER_GITHUB_TOKEN"
	fallbackTokenEnvVar = "GITHUB_TOKEN"

	maxAttempts   = 4
	baseBackoff   = 500 * time.Millisecond
	maxBackoffCap = 8 * time.Second
)

// ErrBadIssueRef indicates the issue reference is not owner/repo#number.
var ErrBadIssueRef = errors.New("invalid issue reference (want owner/repo#number)")

// Issue is the subset of a GitHub issue the create flow consumes.
type Issue struct {
	Owner  string
	Repo   string
	Number int
	Title  string
	Body   string
	URL    string
}

// IssueRef is a parsed owner/repo#number reference.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParseIssueRef parses "owner/repo#123".
func ParseIssueRef(ref string) (IssueRef, error) {
	repoPart, numberPart, ok := strings.Cut(ref, "#")
	if !ok {
		return IssueRef{}, fmt.Errorf("%w: %q", ErrBadIssueRef, ref)
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" {
		return IssueRef{}, fmt.Errorf("%w: %q", ErrBadIssueRef, ref)
	}
	number, err := strconv.Atoi(numberPart)
	if err != nil || number <= 0 {
		return IssueRef{}, fmt.Errorf("%w: %q", ErrBadIssueRef, ref)
	}
	return IssueRef{Owner: owner, Repo: repo, Number: number}, nil
}

// Fetcher retrieves issues from the GitHub API with retry on transient
// failures.
type Fetcher struct {
	client *github.Client
	logger *logging.Logger
	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a Fetcher. A token from ROVER_GITHUB_TOKEN or
// GITHUB_TOKEN is used when present; public repositories work without one.
func NewFetcher(ctx context.Context, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	httpClient := http.DefaultClient
	if token := authToken(); token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return &Fetcher{
		client: github.NewClient(httpClient),
		logger: logger.Named("githubinput"),
		sleep:  sleepCtx,
	}
}

// FetchIssue retrieves one issue, retrying rate limits and transient
// server errors with exponential backoff.
func (f *Fetcher) FetchIssue(ctx context.Context, ref IssueRef) (*Issue, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		issue, resp, err := f.client.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		if err == nil {
			return &Issue{
				Owner:  ref.Owner,
				Repo:   ref.Repo,
				Number: ref.Number,
				Title:  issue.GetTitle(),
				Body:   issue.GetBody(),
				URL:    issue.GetHTMLURL(),
			}, nil
		}
		lastErr = err
		if !isRetryable(resp, err) || attempt == maxAttempts {
			break
		}
		backoff := retryBackoff(attempt, resp)
		f.logger.Warn("github issue fetch failed, retrying",
			zap.String("issue", fmt.Sprintf("%s/%s#%d", ref.Owner, ref.Repo, ref.Number)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := f.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch issue %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, lastErr)
}

// isRetryable reports whether the failure is worth another attempt.
func isRetryable(resp *github.Response, err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	if resp == nil {
		// Network-level failure with no response.
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryBackoff doubles per attempt, honoring a rate-limit reset when the
// API supplies one.
func retryBackoff(attempt int, resp *github.Response) time.Duration {
	if resp != nil && resp.Rate.Remaining == 0 && !resp.Rate.Reset.IsZero() {
		if until := time.Until(resp.Rate.Reset.Time); until > 0 && until < maxBackoffCap {
			return until
		}
	}
	backoff := baseBackoff << (attempt - 1)
	if backoff > maxBackoffCap {
		backoff = maxBackoffCap
	}
	return backoff
}

func authToken() string {
	if token := os.Getenv(tokenEnvVar); token != "" {
		return token
	}
	return os.Getenv(fallbackTokenEnvVar)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
