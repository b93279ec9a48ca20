package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	GitHub   GitHubConfig   `yaml:"github"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// GitHubConfig describes the OAuth application and API endpoints.
type GitHubConfig struct {
	OAuthBaseURL string           `yaml:"oauth_base_url"`
	APIBaseURL   string           `yaml:"api_base_url"`
	Scope        string           `yaml:"scope"`
	WebFlow      WebFlowConfig    `yaml:"web_flow"`
	DeviceFlow   DeviceFlowConfig `yaml:"device_flow"`
}

// WebFlowConfig holds the credentials of the redirect-based OAuth app.
type WebFlowConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	AuthTimeout  time.Duration `yaml:"auth_timeout"`
}

// DeviceFlowConfig holds the credentials and polling limits of the device-code app.
type DeviceFlowConfig struct {
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	MaxAttempts     int           `yaml:"max_attempts"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
}

// SyncConfig controls where links are written.
type SyncConfig struct {
	DefaultRepo     string `yaml:"default_repo"`
	FilePath        string `yaml:"file_path"`
	CommitMessage   string `yaml:"commit_message"`
	RepoDescription string `yaml:"repo_description"`
	// MaxConcurrentWrites caps in-flight saves per repository within this
	// process. Zero leaves saves unserialized; a stale SHA then surfaces as
	// a conflict. Changes apply after restart.
	MaxConcurrentWrites int `yaml:"max_concurrent_writes"`
	// WriteTimeout bounds how long a save waits for a write slot.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ServerConfig contains the local action server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// APIKeys, when set, are required in the X-API-Key header of POST /actions.
	APIKeys            []string `yaml:"api_keys"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	// HealthInterval is how often serve probes the GitHub API for /health.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// HTTPConfig configures the outbound client used for provider calls.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UTLS      bool          `yaml:"utls"`
	UserAgent string        `yaml:"user_agent"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelegramConfig enables a chat notification for every saved link.
type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	ChatID        int64  `yaml:"chat_id"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// Default returns a configuration with every default applied and no credentials.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() error {
	if c.Version == "" {
		c.Version = "1"
	}
	if err := c.GitHub.Validate(); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if err := c.applyDefaults(); err != nil {
		return err
	}
	if !c.GitHub.WebFlow.Configured() && !c.GitHub.DeviceFlow.Configured() {
		return fmt.Errorf("github: at least one of web_flow.client_id or device_flow.client_id is required")
	}
	return nil
}

// Validate validates GitHub configuration.
func (g *GitHubConfig) Validate() error {
	if g.OAuthBaseURL == "" {
		g.OAuthBaseURL = "https://github.com"
	}
	if g.APIBaseURL == "" {
		g.APIBaseURL = "https://api.github.com"
	}
	g.OAuthBaseURL = strings.TrimRight(g.OAuthBaseURL, "/")
	g.APIBaseURL = strings.TrimRight(g.APIBaseURL, "/")
	for name, raw := range map[string]string{"oauth_base_url": g.OAuthBaseURL, "api_base_url": g.APIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if g.Scope == "" {
		g.Scope = "repo"
	}
	if err := g.WebFlow.Validate(); err != nil {
		return fmt.Errorf("web_flow: %w", err)
	}
	if err := g.DeviceFlow.Validate(); err != nil {
		return fmt.Errorf("device_flow: %w", err)
	}
	return nil
}

func (w *WebFlowConfig) Configured() bool {
	return w.ClientID != ""
}

func (w *WebFlowConfig) Validate() error {
	if w.AuthTimeout < 0 {
		return fmt.Errorf("auth_timeout must be positive")
	}
	if w.AuthTimeout == 0 {
		w.AuthTimeout = 5 * time.Minute
	}
	return nil
}

func (d *DeviceFlowConfig) Configured() bool {
	return d.ClientID != ""
}

func (d *DeviceFlowConfig) Validate() error {
	if d.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 60
	}
	if d.DefaultInterval <= 0 {
		d.DefaultInterval = 5 * time.Second
	}
	if d.MinInterval <= 0 {
		d.MinInterval = time.Second
	}
	if d.MinInterval > d.DefaultInterval {
		return fmt.Errorf("min_interval must not exceed default_interval")
	}
	return nil
}

// Validate validates sync configuration.
func (s *SyncConfig) Validate() error {
	if s.DefaultRepo == "" {
		s.DefaultRepo = "linkstash-sync"
	}
	if strings.ContainsAny(s.DefaultRepo, "/ ") {
		return fmt.Errorf("default_repo must be a bare repository name")
	}
	if s.FilePath == "" {
		s.FilePath = "links.json"
	}
	s.FilePath = strings.TrimPrefix(s.FilePath, "/")
	if s.CommitMessage == "" {
		s.CommitMessage = "Update links"
	}
	if s.RepoDescription == "" {
		s.RepoDescription = "LinkStack synchronized links"
	}
	if s.MaxConcurrentWrites < 0 {
		return fmt.Errorf("max_concurrent_writes must not be negative")
	}
	if s.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout must not be negative")
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 8765
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	if s.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if s.RateLimitPerMinute == 0 {
		s.RateLimitPerMinute = 600
	}
	if s.HealthInterval < 0 {
		return fmt.Errorf("health_interval must be positive")
	}
	if s.HealthInterval == 0 {
		s.HealthInterval = 5 * time.Minute
	}
	return nil
}

// CallbackURL is the OAuth redirect target served by the action server.
func (s ServerConfig) CallbackURL() string {
	return "http://" + s.Addr() + "/oauth/callback"
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

func (h *HTTPConfig) Validate() error {
	if h.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if h.Timeout == 0 {
		h.Timeout = 20 * time.Second
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if t.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute must not be negative")
	}
	if t.RatePerMinute == 0 {
		t.RatePerMinute = 20
	}
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
