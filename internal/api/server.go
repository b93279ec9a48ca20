// Package api serves the router over HTTP for local UIs and receives the
// OAuth redirect of the web flow.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/config"
	"github.com/linkstash/linkstash/internal/health"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/internal/router"
)

const maxBodyBytes = 1 << 20

// Dispatcher runs router actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, req router.Request) router.Response
}

// Server represents the HTTP API server
type Server struct {
	engine     *gin.Engine
	config     config.ServerConfig
	dispatcher Dispatcher
	broker     *CallbackBroker
	metrics    *metrics.Metrics
	logger     *logging.Logger
	audit      logging.AuditSink
	version    string
	health     HealthReporter
	httpServer *http.Server
}

// HealthReporter supplies the latest GitHub probe for /health.
type HealthReporter interface {
	Last() health.CheckResult
}

// Option configures a Server.
type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAudit records rejected requests in sink.
func WithAudit(sink logging.AuditSink) Option {
	return func(s *Server) {
		s.audit = sink
	}
}

// WithHealth adds the GitHub probe result to /health.
func WithHealth(h HealthReporter) Option {
	return func(s *Server) {
		s.health = h
	}
}

func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// Engine returns the gin engine for testing purposes
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// NewServer creates the action server. broker receives /oauth/callback.
func NewServer(cfg config.ServerConfig, dispatcher Dispatcher, broker *CallbackBroker, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:     gin.New(),
		config:     cfg,
		dispatcher: dispatcher,
		broker:     broker,
		logger:     logging.Nop(),
		audit:      logging.NopAuditSink{},
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics("linkstash")
	}

	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	limiter := newIPRateLimiter(time.Minute/time.Duration(perMinute), max(perMinute/10, 10))

	s.engine.HandleMethodNotAllowed = true
	s.engine.Use(gin.Recovery())
	s.engine.Use(loggingMiddleware(s.logger))
	s.engine.Use(AuditMiddleware(s.audit))
	s.engine.Use(rateLimitMiddleware(limiter))
	s.engine.Use(bodyLimitMiddleware(maxBodyBytes))
	s.engine.Use(metrics.Middleware(s.metrics, s.logger))

	s.setupRoutes()
	return s
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(logging.CorrelationIDHeader)
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(logging.CorrelationIDHeader, correlationID)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.engine.GET("/health", s.handleHealth)

	s.engine.GET("/oauth/callback", s.handleOAuthCallback)

	protected := s.engine.Group("")
	protected.Use(APIKeyAuth(s.config.APIKeys, DefaultAPIKeyHeader, s.logger))
	{
		protected.GET("/auth/pending", s.handlePendingAuth)
		protected.POST("/actions", s.handleAction)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if s.health != nil {
		body["github"] = s.health.Last()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleAction(c *gin.Context) {
	var req router.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, router.Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Action == "" {
		c.JSON(http.StatusBadRequest, router.Response{Success: false, Error: "action is required"})
		return
	}

	resp := s.dispatcher.Dispatch(c.Request.Context(), req)
	c.JSON(http.StatusOK, resp)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = NewHTTPServer(ln.Addr().String(), s.engine)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &apperrors.ErrServerStart{Addr: ln.Addr().String(), Err: err}
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.logger.Info("initiating graceful shutdown")
	if err := GracefulShutdown(s.httpServer, timeout); err != nil {
		return &apperrors.ErrServerShutdown{Err: err}
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &apperrors.ErrServerStart{Addr: addr, Err: err}
	}
	return s.Serve(ctx, ln)
}
