package auth

import (
	"context"
	stderrors "errors"
	"net/url"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/github"
	"github.com/linkstash/linkstash/internal/github/githubtest"
	"github.com/linkstash/linkstash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher answers the authorization URL with a scripted redirect.
type fakeLauncher struct {
	redirect func(authURL *url.URL) string
	err      error
	block    bool
	seen     string
}

func (l *fakeLauncher) RedirectURL() string {
	return "http://127.0.0.1:8765/oauth/callback"
}

func (l *fakeLauncher) Launch(ctx context.Context, authURL string) (string, error) {
	l.seen = authURL
	if l.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if l.err != nil {
		return "", l.err
	}
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	return l.redirect(u), nil
}

func redirectWithCode(code string) func(*url.URL) string {
	return func(u *url.URL) string {
		return "http://127.0.0.1:8765/oauth/callback?code=" + code + "&state=" + u.Query().Get("state")
	}
}

func newTestWebFlow(t *testing.T, launcher Launcher, timeout time.Duration) (*WebFlow, *Session, *store.MemoryStore, *githubtest.Server) {
	srv := githubtest.NewServer()
	t.Cleanup(srv.Close)
	kv := store.NewMemoryStore()
	session := NewSession(kv, github.NewClient(srv.URL, srv.Client()))
	flow := NewWebFlow(WebFlowConfig{
		ClientID:     "web-client",
		ClientSecret: "web-secret",
		OAuthBaseURL: srv.URL,
		Timeout:      timeout,
	}, session, launcher, WithWebHTTPClient(srv.Client()))
	return flow, session, kv, srv
}

func TestWebFlow_Success(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{redirect: redirectWithCode("good-code")}
	flow, session, kv, srv := newTestWebFlow(t, launcher, time.Minute)
	srv.AddCode("good-code", "gho_token")

	assert.Equal(t, StateIdle, flow.State())
	token, err := flow.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gho_token", token)
	assert.Equal(t, StateAuthenticated, flow.State())
	assert.Equal(t, "gho_token", session.AccessToken())

	stored, ok, err := kv.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gho_token", stored)

	auth, err := url.Parse(launcher.seen)
	require.NoError(t, err)
	assert.Equal(t, "/login/oauth/authorize", auth.Path)
	assert.Equal(t, "web-client", auth.Query().Get("client_id"))
	assert.Equal(t, "repo", auth.Query().Get("scope"))
	assert.Equal(t, launcher.RedirectURL(), auth.Query().Get("redirect_uri"))
	assert.NotEmpty(t, auth.Query().Get("state"))

	exchanges := 0
	for _, r := range srv.Requests() {
		if r.Path == "/login/oauth/access_token" {
			exchanges++
			form, err := url.ParseQuery(string(r.Body))
			require.NoError(t, err)
			assert.Equal(t, "web-client", form.Get("client_id"))
			assert.Equal(t, "web-secret", form.Get("client_secret"))
			assert.Equal(t, "good-code", form.Get("code"))
		}
	}
	assert.Equal(t, 1, exchanges)
}

func TestWebFlow_MissingCode(t *testing.T) {
	launcher := &fakeLauncher{redirect: func(*url.URL) string {
		return "http://127.0.0.1:8765/oauth/callback?error=access_denied"
	}}
	flow, session, _, srv := newTestWebFlow(t, launcher, time.Minute)

	_, err := flow.Authenticate(context.Background())
	var missing *errors.ErrMissingCode
	require.True(t, stderrors.As(err, &missing))
	assert.Equal(t, "access_denied", missing.Reason)
	assert.Equal(t, StateFailed, flow.State())
	assert.Empty(t, session.AccessToken())
	assert.Zero(t, srv.Count("POST", "/login/oauth/access_token"))
}

func TestWebFlow_StateMismatch(t *testing.T) {
	launcher := &fakeLauncher{redirect: func(*url.URL) string {
		return "http://127.0.0.1:8765/oauth/callback?code=x&state=forged"
	}}
	flow, _, _, _ := newTestWebFlow(t, launcher, time.Minute)

	_, err := flow.Authenticate(context.Background())
	var missing *errors.ErrMissingCode
	require.True(t, stderrors.As(err, &missing))
	assert.Equal(t, "state mismatch", missing.Reason)
}

func TestWebFlow_ExchangeRejected(t *testing.T) {
	launcher := &fakeLauncher{redirect: redirectWithCode("expired")}
	flow, session, _, _ := newTestWebFlow(t, launcher, time.Minute)

	_, err := flow.Authenticate(context.Background())
	var exchange *errors.ErrTokenExchange
	require.True(t, stderrors.As(err, &exchange))
	assert.Equal(t, "bad_verification_code", exchange.Code)
	assert.Contains(t, exchange.Error(), "incorrect or expired")
	assert.Empty(t, session.AccessToken())
}

func TestWebFlow_Timeout(t *testing.T) {
	launcher := &fakeLauncher{block: true}
	flow, _, _, _ := newTestWebFlow(t, launcher, 20*time.Millisecond)

	_, err := flow.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "not completed within")
	assert.Equal(t, StateFailed, flow.State())
}

func TestWebFlow_LauncherAborted(t *testing.T) {
	launcher := &fakeLauncher{err: stderrors.New("window closed")}
	flow, _, _, _ := newTestWebFlow(t, launcher, time.Minute)

	_, err := flow.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window closed")
}

func TestCodeFromRedirect(t *testing.T) {
	code, err := codeFromRedirect("http://x/cb?code=abc&state=s1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "abc", code)

	_, err = codeFromRedirect("http://x/cb?state=s1", "s1")
	var missing *errors.ErrMissingCode
	assert.True(t, stderrors.As(err, &missing))

	_, err = codeFromRedirect("http://x/cb?error=access_denied&error_description=nope", "s1")
	require.True(t, stderrors.As(err, &missing))
	assert.Equal(t, "access_denied: nope", missing.Reason)
}

func TestEndpointFor(t *testing.T) {
	ep := endpointFor("")
	assert.Equal(t, "https://github.com/login/oauth/access_token", ep.TokenURL)

	ep = endpointFor("http://127.0.0.1:9000/")
	assert.Equal(t, "http://127.0.0.1:9000/login/oauth/authorize", ep.AuthURL)
	assert.Equal(t, "http://127.0.0.1:9000/login/device/code", ep.DeviceAuthURL)
}
