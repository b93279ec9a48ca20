// Package auth owns the GitHub access token and the two OAuth flows that obtain it.
package auth

import (
	"context"
	"sync"

	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/store"
	"golang.org/x/sync/singleflight"
)

// TokenChecker asks the provider whether a token is accepted.
type TokenChecker interface {
	CheckToken(ctx context.Context, token string) error
}

// Session holds the access token in memory and mirrors it to the key-value store.
type Session struct {
	mu    sync.RWMutex
	token string

	kv       store.KeyValueStore
	identity TokenChecker
	logger   *logging.Logger
	audit    logging.AuditSink
	group    singleflight.Group
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithSessionLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithSessionAudit(sink logging.AuditSink) SessionOption {
	return func(s *Session) {
		s.audit = sink
	}
}

// NewSession creates a session backed by kv. identity is used by ValidateToken.
func NewSession(kv store.KeyValueStore, identity TokenChecker, opts ...SessionOption) *Session {
	s := &Session{
		kv:       kv,
		identity: identity,
		logger:   logging.Nop(),
		audit:    logging.NopAuditSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the stored token into memory and returns it ("" when
// absent). The first time a store is seen it is marked as a first run.
// Calling it again re-reads the store and yields the same result.
func (s *Session) Initialize(ctx context.Context) (string, error) {
	values, err := s.kv.GetMany(ctx, store.KeyAccessToken, store.KeyIsFirstRun)
	if err != nil {
		return "", err
	}

	if _, seen := values[store.KeyIsFirstRun]; !seen {
		if err := store.SetBool(ctx, s.kv, store.KeyIsFirstRun, true); err != nil {
			return "", err
		}
		if err := s.kv.Delete(ctx, store.KeyLastSyncTime); err != nil {
			return "", err
		}
		s.logger.InfoWithContext(ctx, "first run detected")
	}

	token := values[store.KeyAccessToken]
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.logger.DebugWithContext(ctx, "session initialized", "has_token", token != "")
	return token, nil
}

// AccessToken returns the in-memory token without touching storage.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores token in memory and in the key-value store.
func (s *Session) SetToken(ctx context.Context, token string) error {
	if err := s.kv.Set(ctx, store.KeyAccessToken, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// ClearToken forgets the token in memory and in storage.
func (s *Session) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, store.KeyAccessToken); err != nil {
		return err
	}
	s.audit.Record(logging.NewAuditEvent(logging.TokenCleared, "clearToken", logging.StatusSuccess))
	return nil
}

// ValidateToken reports whether the current token is accepted by the
// provider. Without a token it returns false and makes no request. A
// rejected token or a network failure clears the token; a cancelled ctx
// leaves it alone. It never returns an error.
func (s *Session) ValidateToken(ctx context.Context) bool {
	token := s.AccessToken()
	if token == "" {
		return false
	}

	if err := s.identity.CheckToken(ctx, token); err != nil {
		if ctx.Err() != nil {
			s.logger.DebugWithContext(ctx, "token validation abandoned", "error", ctx.Err())
			return false
		}
		s.logger.WarnWithContext(ctx, "token validation failed, clearing token", "error", err)
		if clearErr := s.ClearToken(ctx); clearErr != nil {
			s.logger.ErrorWithContext(ctx, "failed to clear token", "error", clearErr)
		}
		return false
	}
	return true
}

// Serialize runs fn once for all concurrent callers sharing key.
// Callers that arrive while fn is running receive its result.
func (s *Session) Serialize(key string, fn func() (string, error)) (string, error) {
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	token, _ := v.(string)
	return token, err
}
