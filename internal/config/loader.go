package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/linkstash/linkstash/internal/errors"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and hot-reloading
type Loader struct {
	path     string
	mu       sync.RWMutex
	onChange func(*Config)
	onError  func(error)
}

// NewLoader creates a new configuration loader
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration from the file. Every failure is
// reported as *errors.ErrConfigLoad wrapping the cause.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	content, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigLoad{Path: l.path, Err: &errors.ErrConfigNotFound{Path: l.path}}
		}
		return nil, &errors.ErrConfigLoad{Path: l.path, Err: &errors.ErrFileRead{Path: l.path, Err: err}}
	}

	config, err := Parse(substituteEnvVars(content))
	if err != nil {
		return nil, &errors.ErrConfigLoad{Path: l.path, Err: err}
	}

	return config, nil
}

// Reload reloads the file and notifies the change callback on success.
func (l *Loader) Reload() (*Config, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(config)
	}

	return config, nil
}

// SetOnChange sets a callback to be called when configuration changes
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// SetOnError sets a callback for reload failures seen by Watch.
func (l *Loader) SetOnError(fn func(error)) {
	l.mu.Lock()
	l.onError = fn
	l.mu.Unlock()
}

// Watch reloads the configuration whenever the file is written, created or
// renamed into place, until ctx is done. The parent directory is watched so
// editors that replace the file are handled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(l.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					if _, err := l.Reload(); err != nil {
						l.reportError(err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.reportError(err)
			}
		}
	}()

	return nil
}

func (l *Loader) reportError(err error) {
	l.mu.RLock()
	onError := l.onError
	l.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}

// Defaults for the file locations, overridden by environment variables.
const (
	DefaultConfigPath = "config.yaml"
	DefaultDBPath     = "./data/linkstash.db"
)

// ResolvePath returns the configuration path from LINKSTASH_CONFIG_PATH or the default.
func ResolvePath() string {
	if path := os.Getenv("LINKSTASH_CONFIG_PATH"); path != "" {
		return path
	}
	return DefaultConfigPath
}

// ResolveDBPath returns the database path from LINKSTASH_DB_PATH or the default.
func ResolveDBPath() string {
	if path := os.Getenv("LINKSTASH_DB_PATH"); path != "" {
		return path
	}
	return DefaultDBPath
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return &config, nil
}

func substituteEnvVars(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}
