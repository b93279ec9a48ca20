package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"golang.org/x/oauth2"
)

// Launcher presents an authorization URL to the user and captures the
// redirect that the provider sends back.
type Launcher interface {
	// RedirectURL is the callback address registered with the OAuth app.
	RedirectURL() string
	// Launch blocks until the redirect arrives, the user aborts, or ctx is done.
	// It returns the full redirect URL including its query string.
	Launch(ctx context.Context, authURL string) (string, error)
}

// WebFlowConfig holds the OAuth app settings for the redirect flow.
type WebFlowConfig struct {
	ClientID     string
	ClientSecret string
	OAuthBaseURL string
	Scope        string
	// Timeout bounds the wait for the redirect.
	Timeout time.Duration
}

// WebFlow runs the interactive authorization-code flow.
type WebFlow struct {
	stateHolder

	cfg        WebFlowConfig
	session    *Session
	launcher   Launcher
	httpClient *http.Client
	newState   func() string
	logger     *logging.Logger
	audit      logging.AuditSink
	metrics    *metrics.Metrics
}

// WebFlowOption configures a WebFlow.
type WebFlowOption func(*WebFlow)

// WithWebHTTPClient sets the client used for the code exchange.
func WithWebHTTPClient(c *http.Client) WebFlowOption {
	return func(f *WebFlow) {
		f.httpClient = c
	}
}

func WithWebLogger(logger *logging.Logger) WebFlowOption {
	return func(f *WebFlow) {
		f.logger = logger
	}
}

func WithWebAudit(sink logging.AuditSink) WebFlowOption {
	return func(f *WebFlow) {
		f.audit = sink
	}
}

func WithWebMetrics(m *metrics.Metrics) WebFlowOption {
	return func(f *WebFlow) {
		f.metrics = m
	}
}

// withStateGenerator replaces the random state parameter; tests only.
func withStateGenerator(fn func() string) WebFlowOption {
	return func(f *WebFlow) {
		f.newState = fn
	}
}

// NewWebFlow creates the redirect flow.
func NewWebFlow(cfg WebFlowConfig, session *Session, launcher Launcher, opts ...WebFlowOption) *WebFlow {
	if cfg.Scope == "" {
		cfg.Scope = "repo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	f := &WebFlow{
		cfg:      cfg,
		session:  session,
		launcher: launcher,
		newState: randomState,
		logger:   logging.Nop(),
		audit:    logging.NopAuditSink{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *WebFlow) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint:     endpointFor(f.cfg.OAuthBaseURL),
		RedirectURL:  f.launcher.RedirectURL(),
		Scopes:       []string{f.cfg.Scope},
	}
}

// Authenticate runs the flow and returns the stored access token.
// Concurrent calls share one attempt.
func (f *WebFlow) Authenticate(ctx context.Context) (string, error) {
	return f.session.Serialize("web", func() (string, error) {
		token, err := f.authenticate(ctx)
		if err != nil {
			f.audit.Record(logging.NewAuditEvent(logging.AuthFailure, "webFlow", logging.StatusFailure).WithError(err))
			return "", err
		}
		f.audit.Record(logging.NewAuditEvent(logging.AuthSuccess, "webFlow", logging.StatusSuccess))
		return token, nil
	})
}

func (f *WebFlow) authenticate(ctx context.Context) (string, error) {
	conf := f.oauthConfig()
	state := f.newState()
	authURL := conf.AuthCodeURL(state)

	f.set(StateAwaitingRedirect)
	f.logger.InfoWithContext(ctx, "waiting for authorization redirect", "redirect_uri", conf.RedirectURL)

	launchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	redirect, err := f.launcher.Launch(launchCtx, authURL)
	if err != nil {
		f.set(StateFailed)
		if launchCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("authorization not completed within %s: %w", f.cfg.Timeout, err)
		}
		return "", fmt.Errorf("authorization aborted: %w", err)
	}

	code, err := codeFromRedirect(redirect, state)
	if err != nil {
		f.set(StateFailed)
		return "", err
	}

	f.set(StateExchangingCode)
	tok, err := conf.Exchange(withHTTPClient(ctx, f.httpClient), code)
	if err != nil {
		f.set(StateFailed)
		f.metrics.RecordProviderRequest("token_exchange", "error")
		return "", exchangeError(ctx, "token exchange", err)
	}
	f.metrics.RecordProviderRequest("token_exchange", "200")

	if err := f.session.SetToken(ctx, tok.AccessToken); err != nil {
		f.set(StateFailed)
		return "", err
	}

	f.set(StateAuthenticated)
	f.logger.InfoWithContext(ctx, "web flow authenticated")
	return tok.AccessToken, nil
}

// codeFromRedirect extracts the authorization code, rejecting provider
// errors and state mismatches.
func codeFromRedirect(redirect, wantState string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", &errors.ErrMissingCode{Reason: "unparseable redirect"}
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		if d := q.Get("error_description"); d != "" {
			return "", &errors.ErrMissingCode{Reason: e + ": " + d}
		}
		return "", &errors.ErrMissingCode{Reason: e}
	}
	code := q.Get("code")
	if code == "" {
		return "", &errors.ErrMissingCode{}
	}
	if wantState != "" && q.Get("state") != wantState {
		return "", &errors.ErrMissingCode{Reason: "state mismatch"}
	}
	return code, nil
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
