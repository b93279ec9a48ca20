package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/config"
	"github.com/linkstash/linkstash/internal/health"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server", "run"},
	Short:   "Run the local action server",
	Long: `Run the local HTTP server that browser extensions and scripts use to
sign in and save links.

Routes:
  POST /actions         dispatch an action ({"action": "saveLink", ...}) (API key)
  GET  /oauth/callback  OAuth redirect target for the web flow
  GET  /auth/pending    authorization URL of a running web flow (API key)
  GET  /health          liveness and the last GitHub API probe
  GET  /metrics         Prometheus metrics

The configuration file is watched; changes rebuild the GitHub client, the
OAuth flows and the notifier without dropping the listener.

Example:
  linkstash serve --config config.yaml --port 8765`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
}

func applyServeFlags(cfg *config.Config) {
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.Port = serveFlags.Port
	}
}

// liveRouter forwards to the router built from the newest configuration.
type liveRouter struct {
	current atomic.Pointer[router.Router]
}

func (l *liveRouter) Dispatch(ctx context.Context, req router.Request) router.Response {
	return l.current.Load().Dispatch(ctx, req)
}

func runServe(cmd *cobra.Command, args []string) error {
	var a *app
	open := func(authURL string) error {
		a.logger.Info("authorization pending, open /auth/pending or the URL", "url", authURL)
		return nil
	}

	a, err := newApp(cmd, appOptions{open: open, override: applyServeFlags, serving: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := api.SignalContext(cmd.Context())
	defer cancel()

	if err := a.router.Boot(ctx); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	live := &liveRouter{}
	live.current.Store(a.router)

	a.loader.SetOnChange(func(cfg *config.Config) {
		applyServeFlags(cfg)
		reloadRouter(ctx, a, live, cfg)
	})
	a.loader.SetOnError(func(err error) {
		a.logger.Warn("configuration reload failed", "error", err)
	})
	if err := a.loader.Watch(ctx); err != nil {
		a.logger.Warn("configuration watch disabled", "path", a.loader.Path(), "error", err)
	}

	probe := health.NewProbe(a.cfg.GitHub.APIBaseURL, a.client, a.cfg.HTTP.Timeout)
	checker := health.NewChecker(health.Config{Interval: a.cfg.Server.HealthInterval}, probe, a.logger)
	checker.Start(ctx)
	defer checker.Stop()

	srv := api.NewServer(a.cfg.Server, live, a.broker,
		api.WithLogger(a.logger),
		api.WithMetrics(a.metrics),
		api.WithAudit(a.audit),
		api.WithHealth(checker),
		api.WithVersion(Version),
	)
	fmt.Fprintf(promptWriter(cmd), "LinkStash listening on http://%s\n", a.cfg.Server.Addr())
	return srv.Run(ctx)
}

func reloadRouter(ctx context.Context, a *app, live *liveRouter, cfg *config.Config) {
	c := a.wire(cfg)
	if err := c.router.Boot(ctx); err != nil {
		a.logger.Error("reloaded configuration not applied", "error", err)
		return
	}
	live.current.Store(c.router)

	if cfg.Server.Addr() != a.cfg.Server.Addr() {
		a.logger.Warn("server address changes take effect after restart", "addr", cfg.Server.Addr())
	}
	a.audit.Record(logging.NewAuditEvent(logging.ConfigChange, "reload", logging.StatusSuccess).
		WithResource(a.loader.Path()))
	a.logger.Info("configuration reloaded", "path", a.loader.Path())
}
