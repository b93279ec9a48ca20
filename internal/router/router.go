// Package router dispatches UI actions to the auth flows and the remote
// link store.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/internal/models"
	"github.com/linkstash/linkstash/internal/store"
)

// Session is the token holder.
type Session interface {
	Initialize(ctx context.Context) (string, error)
	AccessToken() string
	ValidateToken(ctx context.Context) bool
	ClearToken(ctx context.Context) error
}

// WebAuthenticator runs the redirect flow.
type WebAuthenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

// DeviceAuthenticator runs the device-code flow in two steps.
type DeviceAuthenticator interface {
	StartDeviceFlow(ctx context.Context) (*models.DeviceSession, error)
	PollForToken(ctx context.Context, deviceCode string, interval time.Duration, maxAttempts int) (string, error)
}

// LinkStore is the remote document store.
type LinkStore interface {
	EnsureRepositoryExists(ctx context.Context) (models.RepositoryTarget, error)
	CreateLink(ctx context.Context, raw models.RawLink) (models.LinkRecord, error)
	ListLinks(ctx context.Context) ([]models.LinkRecord, error)
	RepoName(ctx context.Context) (string, error)
	FilePath() string
	LastSyncTime(ctx context.Context) time.Time
}

// Notifier is told about saved and failed links.
type Notifier interface {
	LinkSaved(ctx context.Context, rec models.LinkRecord, repo string) error
	SyncFailed(ctx context.Context, url string, err error) error
}

// Router maps actions to operations. Either flow may be nil when its
// client id is not configured.
type Router struct {
	session Session
	web     WebAuthenticator
	device  DeviceAuthenticator
	links   LinkStore
	kv      store.KeyValueStore

	notifier Notifier
	logger   *logging.Logger
	audit    logging.AuditSink
	metrics  *metrics.Metrics

	bootOnce sync.Once
	bootErr  error
}

// Option configures a Router.
type Option func(*Router)

func WithWebFlow(web WebAuthenticator) Option {
	return func(r *Router) {
		r.web = web
	}
}

func WithDeviceFlow(device DeviceAuthenticator) Option {
	return func(r *Router) {
		r.device = device
	}
}

func WithNotifier(n Notifier) Option {
	return func(r *Router) {
		r.notifier = n
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithAudit(sink logging.AuditSink) Option {
	return func(r *Router) {
		r.audit = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router over session, links and the key-value store.
func New(session Session, links LinkStore, kv store.KeyValueStore, opts ...Option) *Router {
	r := &Router{
		session: session,
		links:   links,
		kv:      kv,
		logger:  logging.Nop(),
		audit:   logging.NopAuditSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Boot loads the stored token and validates it. It runs once per Router;
// later calls return the first result.
func (r *Router) Boot(ctx context.Context) error {
	r.bootOnce.Do(func() {
		token, err := r.session.Initialize(ctx)
		if err != nil {
			r.bootErr = err
			return
		}
		if token != "" {
			valid := r.session.ValidateToken(ctx)
			r.logger.InfoWithContext(ctx, "stored token checked", "valid", valid)
		}
	})
	return r.bootErr
}

// Dispatch runs one action. Failures are reported in the response, never
// as a Go error.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	ctx, _ = logging.EnsureCorrelationID(ctx)

	resp := r.dispatch(ctx, req)

	status := string(logging.StatusSuccess)
	if !resp.Success {
		status = string(logging.StatusFailure)
	}
	label := req.Action
	if !knownAction(label) {
		label = "unknown"
	}
	r.metrics.RecordAction(label, status, time.Since(start).Seconds())

	event := logging.NewAuditEvent(logging.APIAccess, req.Action, logging.AuditStatus(status)).
		WithResource("action").
		WithDetail("duration_ms", time.Since(start).Milliseconds())
	if !resp.Success {
		event.ErrorMessage = resp.Error
		event.WithSeverity(logging.SeverityWarning)
	}
	r.audit.Record(event)

	r.logger.DebugWithContext(ctx, "action dispatched", "action", req.Action, "success", resp.Success)
	return resp
}

func knownAction(action string) bool {
	switch action {
	case ActionStartAuth, ActionSaveLink, ActionCheckAuth,
		ActionStartDeviceAuth, ActionPollDeviceAuth, ActionLogout,
		ActionGetSettings, ActionSetRepoName, ActionListLinks:
		return true
	}
	return false
}

func (r *Router) dispatch(ctx context.Context, req Request) Response {
	switch req.Action {
	case ActionStartAuth:
		return r.startAuth(ctx)
	case ActionSaveLink:
		return r.saveLink(ctx, req.Link)
	case ActionCheckAuth:
		return r.checkAuth(ctx)
	case ActionStartDeviceAuth:
		return r.startDeviceAuth(ctx)
	case ActionPollDeviceAuth:
		return r.pollDeviceAuth(ctx, req.DeviceCode, req.Interval)
	case ActionLogout:
		return r.logout(ctx)
	case ActionGetSettings:
		return r.getSettings(ctx)
	case ActionSetRepoName:
		return r.setRepoName(ctx, req.RepoName)
	case ActionListLinks:
		return r.listLinks(ctx)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

func (r *Router) startAuth(ctx context.Context) Response {
	if r.web == nil {
		return failure(fmt.Errorf("web flow is not configured"))
	}
	if _, err := r.web.Authenticate(ctx); err != nil {
		r.logger.WarnWithContext(ctx, "web authentication failed", "error", err)
		return failure(err)
	}
	if _, err := r.links.EnsureRepositoryExists(ctx); err != nil {
		r.logger.ErrorWithContext(ctx, "failed to prepare sync repository", "error", err)
		return failure(err)
	}
	return Response{Success: true}
}

func (r *Router) saveLink(ctx context.Context, raw *models.RawLink) Response {
	if raw == nil {
		return failure(fmt.Errorf("link is required"))
	}
	// pick up a token written by another process
	if r.session.AccessToken() == "" {
		if _, err := r.session.Initialize(ctx); err != nil {
			return failure(err)
		}
	}

	rec, err := r.links.CreateLink(ctx, *raw)
	if err != nil {
		r.logger.ErrorWithContext(ctx, "failed to save link", "url", raw.URL, "error", err)
		r.audit.Record(logging.NewAuditEvent(logging.SyncFailure, ActionSaveLink, logging.StatusFailure).
			WithResource(raw.URL).
			WithError(err))
		if nerr := r.notify().SyncFailed(ctx, raw.URL, err); nerr != nil {
			r.logger.WarnWithContext(ctx, "failure notification not sent", "error", nerr)
		}
		return failure(err)
	}

	r.audit.Record(logging.NewAuditEvent(logging.LinkSaved, ActionSaveLink, logging.StatusSuccess).
		WithResource(rec.URL).
		WithDetail("link_id", rec.ID))

	repo, _ := r.links.RepoName(ctx)
	if err := r.notify().LinkSaved(ctx, rec, repo); err != nil {
		r.logger.WarnWithContext(ctx, "save notification not sent", "error", err)
	}
	return Response{Success: true, Link: &rec}
}

func (r *Router) checkAuth(ctx context.Context) Response {
	if _, err := r.session.Initialize(ctx); err != nil {
		r.logger.WarnWithContext(ctx, "failed to load token", "error", err)
		return Response{Success: true, IsAuthenticated: boolPtr(false)}
	}
	return Response{Success: true, IsAuthenticated: boolPtr(r.session.ValidateToken(ctx))}
}

func (r *Router) startDeviceAuth(ctx context.Context) Response {
	if r.device == nil {
		return failure(fmt.Errorf("device flow is not configured"))
	}
	ds, err := r.device.StartDeviceFlow(ctx)
	if err != nil {
		return failure(err)
	}
	return Response{Success: true, Device: newDeviceInfo(*ds)}
}

func (r *Router) pollDeviceAuth(ctx context.Context, deviceCode string, intervalSeconds int) Response {
	if r.device == nil {
		return failure(fmt.Errorf("device flow is not configured"))
	}
	if strings.TrimSpace(deviceCode) == "" {
		return failure(fmt.Errorf("deviceCode is required"))
	}
	interval := time.Duration(intervalSeconds) * time.Second
	if _, err := r.device.PollForToken(ctx, deviceCode, interval, 0); err != nil {
		return failure(err)
	}
	if _, err := r.links.EnsureRepositoryExists(ctx); err != nil {
		return failure(err)
	}
	return Response{Success: true}
}

func (r *Router) logout(ctx context.Context) Response {
	if err := r.session.ClearToken(ctx); err != nil {
		return failure(err)
	}
	if err := r.kv.Clear(ctx); err != nil {
		return failure(err)
	}
	r.logger.InfoWithContext(ctx, "signed out")
	return Response{Success: true}
}

func (r *Router) getSettings(ctx context.Context) Response {
	repo, err := r.links.RepoName(ctx)
	if err != nil {
		return failure(err)
	}
	settings := &Settings{RepoName: repo, FilePath: r.links.FilePath()}
	if t := r.links.LastSyncTime(ctx); !t.IsZero() {
		settings.LastSyncTime = t.UnixMilli()
	}
	return Response{Success: true, Settings: settings}
}

func (r *Router) setRepoName(ctx context.Context, name string) Response {
	name = strings.TrimSpace(name)
	if name == "" {
		return failure(fmt.Errorf("repository name is required"))
	}
	if strings.ContainsAny(name, "/ ") {
		return failure(fmt.Errorf("repository name %q must not contain an owner or spaces", name))
	}
	if err := r.kv.Set(ctx, store.KeyRepoName, name); err != nil {
		return failure(err)
	}
	r.audit.Record(logging.NewAuditEvent(logging.ConfigChange, ActionSetRepoName, logging.StatusSuccess).
		WithDetail("repo_name", name))
	return r.getSettings(ctx)
}

func (r *Router) listLinks(ctx context.Context) Response {
	if r.session.AccessToken() == "" {
		if _, err := r.session.Initialize(ctx); err != nil {
			return failure(err)
		}
	}
	links, err := r.links.ListLinks(ctx)
	if err != nil {
		return failure(err)
	}
	return Response{Success: true, Links: links}
}

type nopNotifier struct{}

func (nopNotifier) LinkSaved(context.Context, models.LinkRecord, string) error { return nil }
func (nopNotifier) SyncFailed(context.Context, string, error) error            { return nil }

func (r *Router) notify() Notifier {
	if r.notifier == nil {
		return nopNotifier{}
	}
	return r.notifier
}
