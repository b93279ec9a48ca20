package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
github:
  device_flow:
    client_id: Iv1.device
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "https://github.com", cfg.GitHub.OAuthBaseURL)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIBaseURL)
	assert.Equal(t, "repo", cfg.GitHub.Scope)
	assert.Equal(t, 5*time.Minute, cfg.GitHub.WebFlow.AuthTimeout)
	assert.Equal(t, 60, cfg.GitHub.DeviceFlow.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.GitHub.DeviceFlow.DefaultInterval)
	assert.Equal(t, time.Second, cfg.GitHub.DeviceFlow.MinInterval)
	assert.Equal(t, "linkstash-sync", cfg.Sync.DefaultRepo)
	assert.Equal(t, "links.json", cfg.Sync.FilePath)
	assert.Equal(t, 20, cfg.Telegram.RatePerMinute)
	assert.Equal(t, "Update links", cfg.Sync.CommitMessage)
	assert.Equal(t, "LinkStack synchronized links", cfg.Sync.RepoDescription)
	assert.Equal(t, 30*time.Second, cfg.Sync.WriteTimeout)
	assert.Zero(t, cfg.Sync.MaxConcurrentWrites)
	assert.Equal(t, 5*time.Minute, cfg.Server.HealthInterval)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr())
	assert.Equal(t, "http://127.0.0.1:8765/oauth/callback", cfg.Server.CallbackURL())
	assert.Equal(t, 600, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, 20*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParse_FullConfig(t *testing.T) {
	data := `
version: "2"
github:
  oauth_base_url: http://127.0.0.1:9000/
  api_base_url: http://127.0.0.1:9001
  web_flow:
    client_id: web-id
    client_secret: web-secret
    auth_timeout: 30s
  device_flow:
    client_id: dev-id
    max_attempts: 10
    default_interval: 2s
sync:
  default_repo: bookmarks
  file_path: /data/links.json
server:
  port: 9999
http:
  utls: true
  user_agent: custom/1.0
logging:
  level: debug
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_id: 42
  rate_per_minute: 5
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9000", cfg.GitHub.OAuthBaseURL)
	assert.Equal(t, 30*time.Second, cfg.GitHub.WebFlow.AuthTimeout)
	assert.Equal(t, 10, cfg.GitHub.DeviceFlow.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.GitHub.DeviceFlow.DefaultInterval)
	assert.Equal(t, "bookmarks", cfg.Sync.DefaultRepo)
	assert.Equal(t, "data/links.json", cfg.Sync.FilePath)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.HTTP.UTLS)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.Equal(t, 5, cfg.Telegram.RatePerMinute)
}

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{
			name:   "no client id",
			data:   "version: \"1\"\n",
			errMsg: "at least one of web_flow.client_id or device_flow.client_id",
		},
		{
			name:   "bad port",
			data:   minimalYAML + "server:\n  port: 70000\n",
			errMsg: "port must be between",
		},
		{
			name:   "repo with owner",
			data:   minimalYAML + "sync:\n  default_repo: octo/links\n",
			errMsg: "bare repository name",
		},
		{
			name:   "negative write cap",
			data:   minimalYAML + "sync:\n  max_concurrent_writes: -1\n",
			errMsg: "max_concurrent_writes must not be negative",
		},
		{
			name:   "negative telegram rate",
			data:   minimalYAML + "telegram:\n  rate_per_minute: -1\n",
			errMsg: "rate_per_minute",
		},
		{
			name:   "telegram without token",
			data:   minimalYAML + "telegram:\n  enabled: true\n  chat_id: 1\n",
			errMsg: "bot_token is required",
		},
		{
			name:   "relative api url",
			data:   "github:\n  api_base_url: api.github.com\n  web_flow:\n    client_id: x\n",
			errMsg: "api_base_url must be an absolute URL",
		},
		{
			name:   "unknown log level",
			data:   minimalYAML + "logging:\n  level: loud\n",
			errMsg: "unknown level",
		},
		{
			name:   "min interval above default",
			data:   "github:\n  device_flow:\n    client_id: x\n    default_interval: 1s\n    min_interval: 2s\n",
			errMsg: "min_interval must not exceed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			var validation *errors.ErrConfigValidation
			assert.True(t, stderrors.As(err, &validation))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("github: [unterminated"))
	var parseErr *errors.ErrConfigParse
	assert.True(t, stderrors.As(err, &parseErr))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "links.json", cfg.Sync.FilePath)
	assert.Equal(t, 20, cfg.Telegram.RatePerMinute)
	assert.False(t, cfg.GitHub.WebFlow.Configured())
	assert.Error(t, cfg.Validate())
}

func TestLoader_LoadWrapsErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewLoader(missing).Load()
	require.Error(t, err)

	var loadErr *errors.ErrConfigLoad
	require.True(t, stderrors.As(err, &loadErr))
	assert.Equal(t, missing, loadErr.Path)
	var notFound *errors.ErrConfigNotFound
	assert.True(t, stderrors.As(err, &notFound))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: \"1\"\n"), 0o600))
	_, err = NewLoader(bad).Load()
	require.True(t, stderrors.As(err, &loadErr))
}

func TestLoader_EnvSubstitution(t *testing.T) {
	t.Setenv("LINKSTASH_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "github:\n  web_flow:\n    client_id: web\n    client_secret: ${LINKSTASH_TEST_SECRET}\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GitHub.WebFlow.ClientSecret)
}

func TestLoader_ReloadCallsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var got *Config
	loader.SetOnChange(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"sync:\n  default_repo: changed\n"), 0o600))
	cfg, err := loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "changed", got.Sync.DefaultRepo)
	assert.Same(t, cfg, got)
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	loader.SetOnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"sync:\n  default_repo: watched\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			// a partially written file may be observed first
			if cfg.Sync.DefaultRepo == "watched" {
				return
			}
		case <-deadline:
			t.Fatal("expected reload after write")
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("LINKSTASH_CONFIG_PATH", "")
	assert.Equal(t, "config.yaml", ResolvePath())
	t.Setenv("LINKSTASH_CONFIG_PATH", "/etc/linkstash.yaml")
	assert.Equal(t, "/etc/linkstash.yaml", ResolvePath())
}

func TestResolveDBPath(t *testing.T) {
	t.Setenv("LINKSTASH_DB_PATH", "")
	assert.Equal(t, DefaultDBPath, ResolveDBPath())
	t.Setenv("LINKSTASH_DB_PATH", "/var/lib/linkstash.db")
	assert.Equal(t, "/var/lib/linkstash.db", ResolveDBPath())
}
