// Package linksync reads and appends to the links document kept in the
// user's GitHub repository.
package linksync

import (
	"context"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/github"
	"github.com/linkstash/linkstash/internal/limiter"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/internal/models"
	"github.com/linkstash/linkstash/internal/store"
)

// Remote is the subset of the GitHub client the syncer needs.
type Remote interface {
	GetUser(ctx context.Context, token string) (*github.User, error)
	GetRepository(ctx context.Context, token, owner, repo string) (*github.Repository, error)
	CreateRepository(ctx context.Context, token string, req github.CreateRepositoryRequest) error
	GetFile(ctx context.Context, token, owner, repo, path string) (*github.FileContent, error)
	UpdateFile(ctx context.Context, token, owner, repo, path string, req github.UpdateFileRequest) (string, error)
}

// TokenSource yields the current access token ("" when signed out).
type TokenSource interface {
	AccessToken() string
}

// Config controls repository naming and the document location.
type Config struct {
	DefaultRepo     string
	FilePath        string
	CommitMessage   string
	RepoDescription string
}

// Syncer implements the remote link store on top of the Contents API.
type Syncer struct {
	cfg     Config
	remote  Remote
	tokens  TokenSource
	kv      store.KeyValueStore
	builder models.LinkBuilder
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.Metrics

	writes    *limiter.Limiter
	writeWait time.Duration
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithBuilder replaces the record builder, typically to fix ids and clocks.
func WithBuilder(b models.LinkBuilder) Option {
	return func(s *Syncer) {
		s.builder = b
	}
}

// WithWriteLimiter serializes CreateLink per repository through l. A save
// that cannot get a slot within wait fails.
func WithWriteLimiter(l *limiter.Limiter, wait time.Duration) Option {
	return func(s *Syncer) {
		s.writes = l
		s.writeWait = wait
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// NewSyncer creates a syncer. kv supplies the repoName override and
// receives lastSyncTime.
func NewSyncer(cfg Config, remote Remote, tokens TokenSource, kv store.KeyValueStore, opts ...Option) *Syncer {
	if cfg.DefaultRepo == "" {
		cfg.DefaultRepo = "linkstash-sync"
	}
	if cfg.FilePath == "" {
		cfg.FilePath = "links.json"
	}
	if cfg.CommitMessage == "" {
		cfg.CommitMessage = "Update links"
	}
	if cfg.RepoDescription == "" {
		cfg.RepoDescription = "LinkStack synchronized links"
	}
	s := &Syncer{
		cfg:    cfg,
		remote: remote,
		tokens: tokens,
		kv:     kv,
		now:    time.Now,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FilePath is the document path inside the repository.
func (s *Syncer) FilePath() string {
	return s.cfg.FilePath
}

func (s *Syncer) token() (string, error) {
	token := s.tokens.AccessToken()
	if token == "" {
		return "", &errors.ErrNotAuthenticated{}
	}
	return token, nil
}

// ResolveIdentity returns the login of the authenticated user.
func (s *Syncer) ResolveIdentity(ctx context.Context) (string, error) {
	token, err := s.token()
	if err != nil {
		return "", err
	}
	user, err := s.remote.GetUser(ctx, token)
	if err != nil {
		return "", err
	}
	return user.Login, nil
}

// RepoName returns the configured repository name: the stored override
// or the default.
func (s *Syncer) RepoName(ctx context.Context) (string, error) {
	name, ok, err := s.kv.Get(ctx, store.KeyRepoName)
	if err != nil {
		return "", err
	}
	if !ok || name == "" {
		return s.cfg.DefaultRepo, nil
	}
	return name, nil
}

// ResolveRepositoryTarget combines the identity with the repository name.
// It is recomputed on every call.
func (s *Syncer) ResolveRepositoryTarget(ctx context.Context) (models.RepositoryTarget, error) {
	owner, err := s.ResolveIdentity(ctx)
	if err != nil {
		return models.RepositoryTarget{}, err
	}
	repo, err := s.RepoName(ctx)
	if err != nil {
		return models.RepositoryTarget{}, err
	}
	return models.RepositoryTarget{Owner: owner, RepoName: repo}, nil
}

// EnsureRepositoryExists creates the private sync repository when missing.
func (s *Syncer) EnsureRepositoryExists(ctx context.Context) (models.RepositoryTarget, error) {
	token, err := s.token()
	if err != nil {
		return models.RepositoryTarget{}, err
	}
	target, err := s.ResolveRepositoryTarget(ctx)
	if err != nil {
		return models.RepositoryTarget{}, err
	}

	repo, err := s.remote.GetRepository(ctx, token, target.Owner, target.RepoName)
	if err != nil {
		return models.RepositoryTarget{}, err
	}
	if repo != nil {
		return target, nil
	}

	s.logger.InfoWithContext(ctx, "creating sync repository", "repository", target.String())
	err = s.remote.CreateRepository(ctx, token, github.CreateRepositoryRequest{
		Name:        target.RepoName,
		Description: s.cfg.RepoDescription,
		Private:     true,
	})
	if err != nil {
		return models.RepositoryTarget{}, err
	}
	return target, nil
}

// GetFile reads the document at path in the resolved repository.
// It returns nil when the file does not exist.
func (s *Syncer) GetFile(ctx context.Context, path string) (*Document, error) {
	target, err := s.ResolveRepositoryTarget(ctx)
	if err != nil {
		return nil, err
	}
	return s.getFile(ctx, target, path)
}

func (s *Syncer) getFile(ctx context.Context, target models.RepositoryTarget, path string) (*Document, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	file, err := s.remote.GetFile(ctx, token, target.Owner, target.RepoName, path)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, nil
	}
	doc, err := ParseDocument(file.Content, file.SHA)
	if err != nil {
		return nil, &errors.ErrRemoteRead{Path: path, StatusCode: 200, Err: err}
	}
	return doc, nil
}

// UpdateFile writes content to path. sha must be the blob SHA that was
// read, or empty when creating the file.
func (s *Syncer) UpdateFile(ctx context.Context, path string, content []byte, sha string) error {
	target, err := s.ResolveRepositoryTarget(ctx)
	if err != nil {
		return err
	}
	return s.updateFile(ctx, target, path, content, sha)
}

func (s *Syncer) updateFile(ctx context.Context, target models.RepositoryTarget, path string, content []byte, sha string) error {
	token, err := s.token()
	if err != nil {
		return err
	}
	_, err = s.remote.UpdateFile(ctx, token, target.Owner, target.RepoName, path, github.UpdateFileRequest{
		Message: s.cfg.CommitMessage,
		Content: content,
		SHA:     sha,
	})
	return err
}

// CreateLink builds a record from raw and appends it to the document with
// exactly one read and one write. A concurrent writer surfaces as an
// *errors.ErrRemoteWrite whose Conflict() is true.
func (s *Syncer) CreateLink(ctx context.Context, raw models.RawLink) (models.LinkRecord, error) {
	if _, err := s.token(); err != nil {
		return models.LinkRecord{}, err
	}
	rec, err := s.builder.Build(raw)
	if err != nil {
		return models.LinkRecord{}, err
	}

	target, err := s.ResolveRepositoryTarget(ctx)
	if err != nil {
		return models.LinkRecord{}, err
	}

	if s.writes != nil {
		key := target.String()
		if err := s.writes.NewWaiter(key, s.writeWait).Acquire(ctx); err != nil {
			s.logger.WarnWithContext(ctx, "no write slot for repository",
				"repository", key, "holders", s.writes.GetCurrent(key), "error", err)
			return models.LinkRecord{}, &errors.ErrRemoteWrite{Path: s.cfg.FilePath, Err: err}
		}
		defer s.writes.Release(key)
	}

	path := s.cfg.FilePath
	doc, err := s.getFile(ctx, target, path)
	if err != nil {
		return models.LinkRecord{}, err
	}
	sha := ""
	if doc == nil {
		doc = &Document{}
	} else {
		sha = doc.SHA
	}

	if err := doc.Append(rec); err != nil {
		return models.LinkRecord{}, err
	}
	content, err := doc.Marshal()
	if err != nil {
		return models.LinkRecord{}, err
	}

	if err := s.updateFile(ctx, target, path, content, sha); err != nil {
		s.metrics.RecordError("remote_write", "create_link")
		return models.LinkRecord{}, err
	}

	if err := store.SetInt64(ctx, s.kv, store.KeyLastSyncTime, s.now().UnixMilli()); err != nil {
		s.logger.WarnWithContext(ctx, "failed to record last sync time", "error", err)
	}
	s.metrics.RecordLinkSaved()
	s.logger.InfoWithContext(ctx, "link saved",
		"repository", target.String(),
		"link_id", rec.ID,
		"links", len(doc.Entries),
	)
	return rec, nil
}

// ListLinks returns every record in the document, oldest first.
func (s *Syncer) ListLinks(ctx context.Context) ([]models.LinkRecord, error) {
	doc, err := s.GetFile(ctx, s.cfg.FilePath)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []models.LinkRecord{}, nil
	}
	return doc.Records(), nil
}

// LastSyncTime returns when a link was last written, or zero.
func (s *Syncer) LastSyncTime(ctx context.Context) time.Time {
	ms := store.GetInt64(ctx, s.kv, store.KeyLastSyncTime, 0)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
