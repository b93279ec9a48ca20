package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/github/githubtest"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *githubtest.Server) {
	srv := githubtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("tok", "octo")
	return NewClient(srv.URL, srv.Client()), srv
}

func TestGetUser(t *testing.T) {
	c, srv := newTestClient(t)

	user, err := c.GetUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "octo", user.Login)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok", reqs[0].Auth)

	_, err = c.GetUser(context.Background(), "bad")
	var readErr *errors.ErrRemoteRead
	require.True(t, stderrors.As(err, &readErr))
	assert.Equal(t, "identity", readErr.Operation)
	assert.Equal(t, http.StatusUnauthorized, readErr.StatusCode)
}

func TestRequestsRequireToken(t *testing.T) {
	c, srv := newTestClient(t)

	_, err := c.GetUser(context.Background(), "")
	var notAuth *errors.ErrNotAuthenticated
	assert.True(t, stderrors.As(err, &notAuth))
	assert.Empty(t, srv.Requests())
}

func TestHeaders(t *testing.T) {
	var got http.Header
	c := NewClient("http://example.invalid", doerFunc(func(r *http.Request) (*http.Response, error) {
		got = r.Header.Clone()
		return nil, stderrors.New("offline")
	}))

	_, err := c.GetUser(context.Background(), "tok")
	var netErr *errors.ErrNetwork
	require.True(t, stderrors.As(err, &netErr))
	assert.Equal(t, "get_user", netErr.Operation)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "application/vnd.github.v3+json", got.Get("Accept"))
}

func TestRepositoryLifecycle(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	repo, err := c.GetRepository(ctx, "tok", "octo", "links")
	require.NoError(t, err)
	assert.Nil(t, repo)

	require.NoError(t, c.CreateRepository(ctx, "tok", CreateRepositoryRequest{Name: "links", Description: "d", Private: true}))
	assert.True(t, srv.HasRepo("octo", "links"))

	var body map[string]interface{}
	for _, r := range srv.Requests() {
		if r.Method == http.MethodPost {
			require.NoError(t, json.Unmarshal(r.Body, &body))
		}
	}
	assert.Equal(t, true, body["private"])
	assert.Equal(t, "links", body["name"])

	repo, err = c.GetRepository(ctx, "tok", "octo", "links")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "octo/links", repo.FullName)

	err = c.CreateRepository(ctx, "tok", CreateRepositoryRequest{Name: "links"})
	var check *errors.ErrRepositoryCheck
	require.True(t, stderrors.As(err, &check))
	assert.Equal(t, "create", check.Operation)
	assert.Equal(t, http.StatusUnprocessableEntity, check.StatusCode)
}

func TestGetRepositoryError(t *testing.T) {
	c, srv := newTestClient(t)
	srv.ForceStatus(http.MethodGet, "/repos/octo/links", http.StatusForbidden)

	_, err := c.GetRepository(context.Background(), "tok", "octo", "links")
	var check *errors.ErrRepositoryCheck
	require.True(t, stderrors.As(err, &check))
	assert.Equal(t, http.StatusForbidden, check.StatusCode)
	assert.Contains(t, err.Error(), "failed to check repository octo/links")
}

func TestFileRoundTrip(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	srv.AddRepo("octo", "links")

	file, err := c.GetFile(ctx, "tok", "octo", "links", "links.json")
	require.NoError(t, err)
	assert.Nil(t, file)

	// long enough to be wrapped by the fake at 60 columns
	content := []byte(`[{"url":"https://example.com/a/very/long/path/that/wraps/the/base64/output"}]`)
	sha, err := c.UpdateFile(ctx, "tok", "octo", "links", "links.json", UpdateFileRequest{Message: "Update links", Content: content})
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	file, err = c.GetFile(ctx, "tok", "octo", "links", "links.json")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, sha, file.SHA)
	assert.Equal(t, content, file.Content)

	_, err = c.UpdateFile(ctx, "tok", "octo", "links", "links.json", UpdateFileRequest{Message: "m", Content: []byte("[]"), SHA: "stale"})
	var writeErr *errors.ErrRemoteWrite
	require.True(t, stderrors.As(err, &writeErr))
	assert.True(t, writeErr.Conflict())
}

func TestGetFileError(t *testing.T) {
	c, srv := newTestClient(t)
	srv.ForceStatus(http.MethodGet, "/repos/octo/links/contents/links.json", http.StatusInternalServerError)

	_, err := c.GetFile(context.Background(), "tok", "octo", "links", "links.json")
	var readErr *errors.ErrRemoteRead
	require.True(t, stderrors.As(err, &readErr))
	assert.Equal(t, "links.json", readErr.Path)
	assert.Equal(t, http.StatusInternalServerError, readErr.StatusCode)
}

func TestMetricsRecorded(t *testing.T) {
	srv := githubtest.NewServer()
	defer srv.Close()
	srv.AddUser("tok", "octo")
	m := metrics.NewMetrics("gh")

	c := NewClient(srv.URL, srv.Client(), WithMetrics(m))
	_, err := c.GetUser(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequests.WithLabelValues("get_user", "200")))
}

func TestRateLimitTracked(t *testing.T) {
	m := metrics.NewMetrics("gh")
	c := NewClient("http://example.invalid", doerFunc(func(r *http.Request) (*http.Response, error) {
		h := http.Header{}
		h.Set("X-RateLimit-Limit", "5000")
		h.Set("X-RateLimit-Remaining", "4321")
		h.Set("X-RateLimit-Resource", "core")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader(`{"login":"octo","id":1}`)),
			Request:    r,
		}, nil
	}), WithMetrics(m))

	_, ok := c.RateLimit()
	assert.False(t, ok)

	_, err := c.GetUser(context.Background(), "tok")
	require.NoError(t, err)

	rl, ok := c.RateLimit()
	require.True(t, ok)
	assert.Equal(t, int64(4321), rl.Remaining)
	assert.Equal(t, float64(4321), testutil.ToFloat64(m.RateLimitRemaining.WithLabelValues("core")))
}

func cannedDoer(status int, h http.Header, body string) doerFunc {
	return func(r *http.Request) (*http.Response, error) {
		if h == nil {
			h = http.Header{}
		}
		return &http.Response{
			StatusCode: status,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	}
}

func TestCheckToken(t *testing.T) {
	c, srv := newTestClient(t)
	require.NoError(t, c.CheckToken(context.Background(), "tok"))

	err := c.CheckToken(context.Background(), "bad")
	var readErr *errors.ErrRemoteRead
	require.True(t, stderrors.As(err, &readErr))
	assert.Equal(t, http.StatusUnauthorized, readErr.StatusCode)
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/user"))

	// a success without a login is still an accepted token
	c = NewClient("http://example.invalid", cannedDoer(http.StatusOK, nil, `{}`))
	assert.NoError(t, c.CheckToken(context.Background(), "tok"))
	_, err = c.GetUser(context.Background(), "tok")
	assert.Error(t, err, "identity still needs a login")
}

func TestGetRepositoryUndecodableBody(t *testing.T) {
	c := NewClient("http://example.invalid", cannedDoer(http.StatusOK, nil, `{"full_name":`))

	_, err := c.GetRepository(context.Background(), "tok", "octo", "links")
	var check *errors.ErrRepositoryCheck
	require.True(t, stderrors.As(err, &check))
	assert.Equal(t, "octo/links", check.Repository)
	assert.Error(t, check.Unwrap())
}

func TestRateLimitedErrorsCarryRetryAfter(t *testing.T) {
	ctx := context.Background()

	h := http.Header{}
	h.Set("Retry-After", "30")
	c := NewClient("http://example.invalid", cannedDoer(http.StatusForbidden, h, `{"message":"secondary rate limit"}`))
	_, err := c.UpdateFile(ctx, "tok", "octo", "links", "links.json", UpdateFileRequest{Content: []byte("[]")})
	var writeErr *errors.ErrRemoteWrite
	require.True(t, stderrors.As(err, &writeErr))
	assert.Equal(t, 30*time.Second, writeErr.RetryAfter)
	assert.False(t, writeErr.Conflict())

	h = http.Header{}
	h.Set("X-RateLimit-Limit", "5000")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10))
	c = NewClient("http://example.invalid", cannedDoer(http.StatusTooManyRequests, h, `{}`))
	_, err = c.GetFile(ctx, "tok", "octo", "links", "links.json")
	var readErr *errors.ErrRemoteRead
	require.True(t, stderrors.As(err, &readErr))
	assert.InDelta(t, (10 * time.Minute).Seconds(), readErr.RetryAfter.Seconds(), 5)

	c = NewClient("http://example.invalid", cannedDoer(http.StatusInternalServerError, h, `{}`))
	_, err = c.GetFile(ctx, "tok", "octo", "links", "links.json")
	require.True(t, stderrors.As(err, &readErr))
	assert.Zero(t, readErr.RetryAfter, "only 403 and 429 carry a back-off")
}

func TestContentsPathEscapes(t *testing.T) {
	assert.Equal(t, "/repos/octo/links/contents/dir/my%20file.json", contentsPath("octo", "links", "/dir/my file.json"))
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
