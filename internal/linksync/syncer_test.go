package linksync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/github"
	"github.com/linkstash/linkstash/internal/github/githubtest"
	"github.com/linkstash/linkstash/internal/limiter"
	"github.com/linkstash/linkstash/internal/models"
	"github.com/linkstash/linkstash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

const contentsPath = "/repos/octo/linkstash-sync/contents/links.json"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSyncer(t *testing.T, token string) (*Syncer, *githubtest.Server, *store.MemoryStore) {
	srv := githubtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("tok", "octo")
	kv := store.NewMemoryStore()

	ids := 0
	builder := models.LinkBuilder{
		NewID: func() string {
			ids++
			return []string{"id-1", "id-2", "id-3"}[ids-1]
		},
		Now: func() time.Time { return fixedNow },
	}
	s := NewSyncer(Config{}, github.NewClient(srv.URL, srv.Client()), staticToken(token), kv,
		WithBuilder(builder),
		WithClock(func() time.Time { return fixedNow }),
	)
	return s, srv, kv
}

func TestResolveRepositoryTarget(t *testing.T) {
	ctx := context.Background()
	s, _, kv := newTestSyncer(t, "tok")

	target, err := s.ResolveRepositoryTarget(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RepositoryTarget{Owner: "octo", RepoName: "linkstash-sync"}, target)

	require.NoError(t, kv.Set(ctx, store.KeyRepoName, "bookmarks"))
	target, err = s.ResolveRepositoryTarget(ctx)
	require.NoError(t, err)
	assert.Equal(t, "octo/bookmarks", target.String())
}

func TestEnsureRepositoryExists(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing repository once", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "tok")

		_, err := s.EnsureRepositoryExists(ctx)
		require.NoError(t, err)
		assert.True(t, srv.HasRepo("octo", "linkstash-sync"))
		assert.Equal(t, 1, srv.Count(http.MethodPost, "/user/repos"))

		var body github.CreateRepositoryRequest
		for _, r := range srv.Requests() {
			if r.Path == "/user/repos" {
				require.NoError(t, json.Unmarshal(r.Body, &body))
			}
		}
		assert.True(t, body.Private)
		assert.Equal(t, "linkstash-sync", body.Name)
		assert.Equal(t, "LinkStack synchronized links", body.Description)
	})

	t.Run("existing repository is left alone", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "tok")
		srv.AddRepo("octo", "linkstash-sync")

		_, err := s.EnsureRepositoryExists(ctx)
		require.NoError(t, err)
		assert.Zero(t, srv.Count(http.MethodPost, "/user/repos"))
	})

	t.Run("check failure is reported", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "tok")
		srv.ForceStatus(http.MethodGet, "/repos/octo/linkstash-sync", http.StatusForbidden)

		_, err := s.EnsureRepositoryExists(ctx)
		var checkErr *errors.ErrRepositoryCheck
		require.True(t, stderrors.As(err, &checkErr))
		assert.Equal(t, http.StatusForbidden, checkErr.StatusCode)
		assert.Zero(t, srv.Count(http.MethodPost, "/user/repos"))
	})
}

func TestCreateLink_NewFile(t *testing.T) {
	ctx := context.Background()
	s, srv, kv := newTestSyncer(t, "tok")

	rec, err := s.CreateLink(ctx, models.RawLink{URL: " https://go.dev ", Title: "Go"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "https://go.dev", rec.URL)
	assert.Equal(t, models.LinkTypeOther, rec.Type)

	assert.Equal(t, 1, srv.Count(http.MethodGet, contentsPath))
	assert.Equal(t, 1, srv.Count(http.MethodPut, contentsPath))

	for _, r := range srv.Requests() {
		if r.Method == http.MethodPut {
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(r.Body, &body))
			_, hasSHA := body["sha"]
			assert.False(t, hasSHA, "creating the file must not send a sha")
			assert.Equal(t, "Update links", body["message"])
		}
	}

	f, ok := srv.GetFile("octo", "linkstash-sync", "links.json")
	require.True(t, ok)
	var stored []models.LinkRecord
	require.NoError(t, json.Unmarshal(f.Content, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, rec, stored[0])
	assert.Contains(t, string(f.Content), "\n  {\n    \"id\": \"id-1\"")

	assert.Equal(t, fixedNow.UnixMilli(), store.GetInt64(ctx, kv, store.KeyLastSyncTime, 0))
	assert.Equal(t, fixedNow, s.LastSyncTime(ctx).UTC())
}

func TestCreateLink_AppendsAndPreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	s, srv, _ := newTestSyncer(t, "tok")
	existing := []byte(`[{"id":"old","url":"https://a.example","customField":{"x":1}}]`)
	sha := srv.PutFile("octo", "linkstash-sync", "links.json", existing)

	_, err := s.CreateLink(ctx, models.RawLink{URL: "https://b.example", Tags: []models.Tag{{Name: "go"}}})
	require.NoError(t, err)

	for _, r := range srv.Requests() {
		if r.Method == http.MethodPut {
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(r.Body, &body))
			assert.Equal(t, sha, body["sha"])
		}
	}

	f, _ := srv.GetFile("octo", "linkstash-sync", "links.json")
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Content, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "old", entries[0]["id"])
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, entries[0]["customField"])
	assert.Equal(t, "id-1", entries[1]["id"])

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, []string{"go"}, links[1].TagNames())
}

func TestCreateLink_Conflict(t *testing.T) {
	ctx := context.Background()
	s, srv, kv := newTestSyncer(t, "tok")
	srv.PutFile("octo", "linkstash-sync", "links.json", []byte(`[]`))
	srv.ForceStatus(http.MethodPut, contentsPath, http.StatusConflict)

	_, err := s.CreateLink(ctx, models.RawLink{URL: "https://go.dev"})
	var writeErr *errors.ErrRemoteWrite
	require.True(t, stderrors.As(err, &writeErr))
	assert.True(t, writeErr.Conflict())
	assert.Equal(t, 1, srv.Count(http.MethodPut, contentsPath), "conflicts are not retried")

	_, ok, _ := kv.Get(ctx, store.KeyLastSyncTime)
	assert.False(t, ok)
}

func TestCreateLink_ConcurrentSavesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s, srv, _ := newTestSyncer(t, "tok")
	WithBuilder(models.LinkBuilder{})(s)

	_, err := s.CreateLink(ctx, models.RawLink{URL: "https://go.dev/first"})
	require.NoError(t, err)

	WithWriteLimiter(limiter.New(1, nil), 10*time.Second)(s)

	const saves = 8
	var wg sync.WaitGroup
	errs := make(chan error, saves)
	for i := 0; i < saves; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateLink(ctx, models.RawLink{URL: fmt.Sprintf("https://go.dev/%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, saves+1)
	assert.Equal(t, saves+1, srv.Count(http.MethodPut, contentsPath))
}

func TestCreateLink_WriteSlotTimeout(t *testing.T) {
	ctx := context.Background()
	s, srv, _ := newTestSyncer(t, "tok")
	l := limiter.New(1, nil)
	WithWriteLimiter(l, 20*time.Millisecond)(s)

	require.True(t, l.Acquire("octo/linkstash-sync"))
	_, err := s.CreateLink(ctx, models.RawLink{URL: "https://go.dev"})
	var writeErr *errors.ErrRemoteWrite
	require.True(t, stderrors.As(err, &writeErr))
	assert.False(t, writeErr.Conflict())
	assert.Equal(t, 0, srv.Count(http.MethodGet, contentsPath))
}

func TestCreateLink_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "tok")
		_, err := s.CreateLink(ctx, models.RawLink{URL: "  "})
		var invalid *errors.ErrInvalidLink
		assert.True(t, stderrors.As(err, &invalid))
		assert.Empty(t, srv.Requests())
	})

	t.Run("signed out", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "")
		_, err := s.CreateLink(ctx, models.RawLink{URL: "https://go.dev"})
		var notAuth *errors.ErrNotAuthenticated
		assert.True(t, stderrors.As(err, &notAuth))
		assert.Empty(t, srv.Requests())
	})

	t.Run("corrupt document", func(t *testing.T) {
		s, srv, _ := newTestSyncer(t, "tok")
		srv.PutFile("octo", "linkstash-sync", "links.json", []byte(`{"not":"an array"}`))
		_, err := s.CreateLink(ctx, models.RawLink{URL: "https://go.dev"})
		var readErr *errors.ErrRemoteRead
		assert.True(t, stderrors.As(err, &readErr))
		assert.Zero(t, srv.Count(http.MethodPut, contentsPath))
	})
}

func TestListLinks_MissingFile(t *testing.T) {
	s, _, _ := newTestSyncer(t, "tok")
	links, err := s.ListLinks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.NotNil(t, links)
}

func TestDocument(t *testing.T) {
	doc, err := ParseDocument([]byte("  "), "abc")
	require.NoError(t, err)
	assert.Empty(t, doc.Entries)
	assert.Equal(t, "abc", doc.SHA)

	out, err := doc.Marshal()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	doc, err = ParseDocument([]byte(`[1, {"id":"x","url":"u"}]`), "")
	require.NoError(t, err)
	recs := doc.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].ID)

	_, err = ParseDocument([]byte(`null`), "")
	require.NoError(t, err)
}
