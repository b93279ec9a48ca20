package auth

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/internal/models"
	"golang.org/x/oauth2"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	slowDownStep    = 5 * time.Second
)

// DeviceFlowConfig holds the OAuth app settings and polling limits.
type DeviceFlowConfig struct {
	ClientID        string
	ClientSecret    string
	OAuthBaseURL    string
	Scope           string
	MaxAttempts     int
	DefaultInterval time.Duration
	MinInterval     time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DeviceFlow runs the device-code flow: the user enters a short code on
// another device while this process polls for the token.
type DeviceFlow struct {
	stateHolder

	cfg        DeviceFlowConfig
	session    *Session
	httpClient *http.Client
	sleep      SleepFunc
	logger     *logging.Logger
	audit      logging.AuditSink
	metrics    *metrics.Metrics
}

// DeviceFlowOption configures a DeviceFlow.
type DeviceFlowOption func(*DeviceFlow)

// WithDeviceHTTPClient sets the client for the code request and the polls.
func WithDeviceHTTPClient(c *http.Client) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.httpClient = c
	}
}

// WithSleep replaces the wait between polls.
func WithSleep(fn SleepFunc) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.sleep = fn
	}
}

func WithDeviceLogger(logger *logging.Logger) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.logger = logger
	}
}

func WithDeviceAudit(sink logging.AuditSink) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.audit = sink
	}
}

func WithDeviceMetrics(m *metrics.Metrics) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.metrics = m
	}
}

// NewDeviceFlow creates the device-code flow.
func NewDeviceFlow(cfg DeviceFlowConfig, session *Session, opts ...DeviceFlowOption) *DeviceFlow {
	if cfg.Scope == "" {
		cfg.Scope = "repo"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	f := &DeviceFlow{
		cfg:        cfg,
		session:    session,
		httpClient: http.DefaultClient,
		sleep:      sleepContext,
		logger:     logging.Nop(),
		audit:      logging.NopAuditSink{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *DeviceFlow) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint:     endpointFor(f.cfg.OAuthBaseURL),
		Scopes:       []string{f.cfg.Scope},
	}
}

// RequestDeviceCode asks the provider for a device and user code.
func (f *DeviceFlow) RequestDeviceCode(ctx context.Context) (*models.DeviceSession, error) {
	resp, err := f.oauthConfig().DeviceAuth(withHTTPClient(ctx, f.httpClient))
	if err != nil {
		f.set(StateFailed)
		var retrieveErr *oauth2.RetrieveError
		if stderrors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			f.metrics.RecordProviderRequest("device_code", fmt.Sprintf("%d", retrieveErr.Response.StatusCode))
			return nil, &errors.ErrDeviceCodeRequest{StatusCode: retrieveErr.Response.StatusCode, Err: err}
		}
		f.metrics.RecordProviderRequest("device_code", "error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errors.ErrDeviceCodeRequest{Err: err}
	}
	f.metrics.RecordProviderRequest("device_code", "200")

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = f.cfg.DefaultInterval
	}
	f.set(StateCodeRequested)
	return &models.DeviceSession{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURL: resp.VerificationURI,
		Interval:        interval,
		ExpiresAt:       resp.Expiry,
	}, nil
}

// StartDeviceFlow requests a device code without polling.
func (f *DeviceFlow) StartDeviceFlow(ctx context.Context) (*models.DeviceSession, error) {
	return f.RequestDeviceCode(ctx)
}

// Authenticate requests a code, hands it to present and polls until the
// user finishes. Concurrent calls share one attempt.
func (f *DeviceFlow) Authenticate(ctx context.Context, present func(models.DeviceSession)) (string, error) {
	return f.session.Serialize("device", func() (string, error) {
		ds, err := f.RequestDeviceCode(ctx)
		if err != nil {
			return "", err
		}
		if present != nil {
			present(*ds)
		}
		return f.PollForToken(ctx, ds.DeviceCode, ds.Interval, f.cfg.MaxAttempts)
	})
}

type tokenPollResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int    `json:"interval"`
}

// PollForToken polls the token endpoint until the user authorizes, an
// error ends the flow, or maxAttempts pending answers have been seen.
// interval <= 0 and maxAttempts <= 0 fall back to the configured defaults.
// slow_down answers do not consume an attempt. Concurrent calls for the
// same device code share one polling loop and one token write.
func (f *DeviceFlow) PollForToken(ctx context.Context, deviceCode string, interval time.Duration, maxAttempts int) (string, error) {
	if interval <= 0 {
		interval = f.cfg.DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = f.cfg.MaxAttempts
	}

	return f.session.Serialize("device:"+deviceCode, func() (string, error) {
		f.set(StatePolling)
		token, err := f.poll(ctx, deviceCode, interval, maxAttempts)
		if err != nil {
			f.audit.Record(logging.NewAuditEvent(logging.AuthFailure, "deviceFlow", logging.StatusFailure).WithError(err))
			return "", err
		}
		f.audit.Record(logging.NewAuditEvent(logging.AuthSuccess, "deviceFlow", logging.StatusSuccess))
		return token, nil
	})
}

func (f *DeviceFlow) poll(ctx context.Context, deviceCode string, interval time.Duration, maxAttempts int) (string, error) {
	attempts := 0
	// slow_down answers have their own cap of maxAttempts
	slowDowns := 0

	for attempts < maxAttempts {
		result, err := f.requestToken(ctx, deviceCode)
		if err != nil {
			f.set(StateFailed)
			return "", err
		}

		if result.Error == "" && result.AccessToken != "" {
			f.metrics.RecordDevicePoll("success")
			if err := f.session.SetToken(ctx, result.AccessToken); err != nil {
				f.set(StateFailed)
				return "", err
			}
			f.set(StateAuthenticated)
			f.logger.InfoWithContext(ctx, "device flow authenticated", "attempts", attempts+1)
			return result.AccessToken, nil
		}

		f.metrics.RecordDevicePoll(nonEmpty(result.Error, "empty_response"))
		switch result.Error {
		case "authorization_pending":
			attempts++
			f.logger.DebugWithContext(ctx, "authorization pending", "attempt", attempts, "max_attempts", maxAttempts)
			if attempts < maxAttempts {
				if err := f.sleep(ctx, interval); err != nil {
					f.set(StateFailed)
					return "", err
				}
			}
		case "slow_down":
			slowDowns++
			if slowDowns > maxAttempts {
				f.set(StateTimedOut)
				return "", &errors.ErrPollingTimeout{Attempts: attempts}
			}
			if result.Interval > 0 {
				interval = time.Duration(result.Interval) * time.Second
			} else {
				interval += slowDownStep
			}
			if interval < f.cfg.MinInterval {
				interval = f.cfg.MinInterval
			}
			f.logger.InfoWithContext(ctx, "provider asked to slow down", "interval", interval.String())
			if err := f.sleep(ctx, interval); err != nil {
				f.set(StateFailed)
				return "", err
			}
		case "access_denied":
			f.set(StateDenied)
			return "", &errors.ErrDeviceFlow{Code: result.Error, Description: result.ErrorDescription}
		case "":
			f.set(StateFailed)
			return "", &errors.ErrDeviceFlow{Code: "empty_response", Description: "token response carried neither a token nor an error"}
		default:
			f.set(StateFailed)
			return "", &errors.ErrDeviceFlow{Code: result.Error, Description: result.ErrorDescription}
		}
	}

	f.set(StateTimedOut)
	return "", &errors.ErrPollingTimeout{Attempts: maxAttempts}
}

func (f *DeviceFlow) requestToken(ctx context.Context, deviceCode string) (*tokenPollResponse, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     f.cfg.ClientID,
		"client_secret": f.cfg.ClientSecret,
		"device_code":   deviceCode,
		"grant_type":    deviceGrantType,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointFor(f.cfg.OAuthBaseURL).TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ErrNetwork{Operation: "device token poll", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.metrics.RecordProviderRequest("device_token", "error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errors.ErrNetwork{Operation: "device token poll", Err: err}
	}
	defer resp.Body.Close()
	f.metrics.RecordProviderRequest("device_token", fmt.Sprintf("%d", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil, &errors.ErrDeviceFlow{Code: fmt.Sprintf("http_%d", resp.StatusCode), Description: strings.ToLower(http.StatusText(resp.StatusCode))}
	}

	var result tokenPollResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, &errors.ErrDeviceFlow{Code: "invalid_response", Description: err.Error()}
	}
	return &result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
