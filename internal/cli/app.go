package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/auth"
	"github.com/linkstash/linkstash/internal/config"
	"github.com/linkstash/linkstash/internal/github"
	"github.com/linkstash/linkstash/internal/limiter"
	"github.com/linkstash/linkstash/internal/linksync"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/internal/pageinfo"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/linkstash/linkstash/internal/store"
	"github.com/linkstash/linkstash/internal/telegram"
	"github.com/linkstash/linkstash/internal/transport"
	"github.com/spf13/cobra"
)

type appOptions struct {
	// open presents the web-flow authorization URL.
	open api.OpenFunc
	// override adjusts the loaded configuration before anything is built.
	override func(*config.Config)
	// serving keeps the configured log level instead of quieting to warn.
	serving bool
}

// app holds the long-lived pieces of one command invocation.
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	logger  *logging.Logger
	audit   logging.AuditSink
	metrics *metrics.Metrics
	kv      store.KeyValueStore
	broker  *api.CallbackBroker
	// writes outlives reloads so saves stay serialized across them.
	writes *limiter.Limiter

	*components
}

// components are rebuilt from scratch when the configuration changes.
type components struct {
	client   *transport.Client
	github   *github.Client
	session  *auth.Session
	syncer   *linksync.Syncer
	web      *auth.WebFlow
	device   *auth.DeviceFlow
	notifier *telegram.Notifier
	pages    *pageinfo.Fetcher
	router   *router.Router
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.override != nil {
		opts.override(cfg)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, opts.serving)
	logger.Debug("configuration loaded", "path", loader.Path(), "db", globalFlags.DBPath)

	kv, err := store.OpenSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	m := metrics.NewMetrics("linkstash")
	a := &app{
		cfg:     cfg,
		loader:  loader,
		logger:  logger,
		audit:   logging.NewLogAuditSink(logger),
		metrics: m,
		kv:      kv,
		broker:  api.NewCallbackBroker(cfg.Server.CallbackURL(), opts.open),
		writes:  limiter.New(cfg.Sync.MaxConcurrentWrites, m),
	}
	a.components = a.wire(cfg)
	return a, nil
}

func newLogger(w io.Writer, level string, serving bool) *logging.Logger {
	lvl := logging.ParseLevel(level)
	switch {
	case globalFlags.Verbose:
		lvl = logging.LevelDebug
	case !serving:
		lvl = logging.LevelWarn
	}
	return logging.NewLogger(
		logging.WithOutput(w),
		logging.WithLevel(lvl),
		logging.WithService("linkstash"),
	)
}

func (a *app) wire(cfg *config.Config) *components {
	c := &components{}

	userAgent := cfg.HTTP.UserAgent
	if userAgent == "" {
		userAgent = "linkstash/" + Version
	}
	c.client = transport.NewClient(transport.Options{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: userAgent,
		UTLS:      cfg.HTTP.UTLS,
	})
	httpClient := c.client.HTTPClient()

	c.github = github.NewClient(cfg.GitHub.APIBaseURL, c.client, github.WithMetrics(a.metrics))
	c.session = auth.NewSession(a.kv, c.github,
		auth.WithSessionLogger(a.logger),
		auth.WithSessionAudit(a.audit),
	)
	c.syncer = linksync.NewSyncer(linksync.Config{
		DefaultRepo:     cfg.Sync.DefaultRepo,
		FilePath:        cfg.Sync.FilePath,
		CommitMessage:   cfg.Sync.CommitMessage,
		RepoDescription: cfg.Sync.RepoDescription,
	}, c.github, c.session, a.kv,
		linksync.WithLogger(a.logger),
		linksync.WithMetrics(a.metrics),
		linksync.WithWriteLimiter(a.writes, cfg.Sync.WriteTimeout),
	)
	c.pages = pageinfo.NewFetcher(c.client)

	routerOpts := []router.Option{
		router.WithLogger(a.logger),
		router.WithAudit(a.audit),
		router.WithMetrics(a.metrics),
	}

	gh := cfg.GitHub
	if gh.WebFlow.Configured() {
		c.web = auth.NewWebFlow(auth.WebFlowConfig{
			ClientID:     gh.WebFlow.ClientID,
			ClientSecret: gh.WebFlow.ClientSecret,
			OAuthBaseURL: gh.OAuthBaseURL,
			Scope:        gh.Scope,
			Timeout:      gh.WebFlow.AuthTimeout,
		}, c.session, a.broker,
			auth.WithWebHTTPClient(httpClient),
			auth.WithWebLogger(a.logger),
			auth.WithWebAudit(a.audit),
			auth.WithWebMetrics(a.metrics),
		)
		routerOpts = append(routerOpts, router.WithWebFlow(c.web))
	}
	if gh.DeviceFlow.Configured() {
		c.device = auth.NewDeviceFlow(auth.DeviceFlowConfig{
			ClientID:        gh.DeviceFlow.ClientID,
			ClientSecret:    gh.DeviceFlow.ClientSecret,
			OAuthBaseURL:    gh.OAuthBaseURL,
			Scope:           gh.Scope,
			MaxAttempts:     gh.DeviceFlow.MaxAttempts,
			DefaultInterval: gh.DeviceFlow.DefaultInterval,
			MinInterval:     gh.DeviceFlow.MinInterval,
		}, c.session,
			auth.WithDeviceHTTPClient(httpClient),
			auth.WithDeviceLogger(a.logger),
			auth.WithDeviceAudit(a.audit),
			auth.WithDeviceMetrics(a.metrics),
		)
		routerOpts = append(routerOpts, router.WithDeviceFlow(c.device))
	}
	if cfg.Telegram.Enabled {
		sender := telegram.NewTGBotAPIClient(cfg.Telegram.BotToken, httpClient)
		c.notifier = telegram.NewNotifier(sender, cfg.Telegram.ChatID,
			telegram.WithNotifierLogger(a.logger),
			telegram.WithRateLimit(cfg.Telegram.RatePerMinute),
		)
		routerOpts = append(routerOpts, router.WithNotifier(c.notifier))
	}

	c.router = router.New(c.session, c.syncer, a.kv, routerOpts...)
	return c
}

// dispatch boots the router and runs one action.
func (a *app) dispatch(ctx context.Context, req router.Request) (router.Response, error) {
	if err := a.router.Boot(ctx); err != nil {
		return router.Response{}, fmt.Errorf("failed to load session: %w", err)
	}
	resp := a.router.Dispatch(ctx, req)
	if !resp.Success {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (a *app) fetcher() *pageinfo.Fetcher { return a.pages }
func (a *app) log() *logging.Logger       { return a.logger }

func (a *app) Close() error {
	return a.kv.Close()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// browserOpener is replaced in tests.
var browserOpener = openBrowser

// openBrowser asks the desktop to open url.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
