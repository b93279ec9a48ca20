package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/github"
	"github.com/linkstash/linkstash/internal/github/githubtest"
	"github.com/linkstash/linkstash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *store.MemoryStore, *githubtest.Server) {
	srv := githubtest.NewServer()
	t.Cleanup(srv.Close)
	kv := store.NewMemoryStore()
	return NewSession(kv, github.NewClient(srv.URL, srv.Client())), kv, srv
}

func TestSession_InitializeLoadsToken(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestSession(t)

	token, err := s.Initialize(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.True(t, store.GetBool(ctx, kv, store.KeyIsFirstRun, false))

	require.NoError(t, kv.Set(ctx, store.KeyAccessToken, "stored"))
	require.NoError(t, store.SetBool(ctx, kv, store.KeyIsFirstRun, false))

	token, err = s.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored", token)
	assert.Equal(t, "stored", s.AccessToken())
	assert.False(t, store.GetBool(ctx, kv, store.KeyIsFirstRun, true), "first run flag is only set once")

	again, err := s.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestSession_SetAndClearToken(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestSession(t)

	require.NoError(t, s.SetToken(ctx, "abc"))
	assert.Equal(t, "abc", s.AccessToken())
	v, ok, err := kv.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.ClearToken(ctx))
	assert.Empty(t, s.AccessToken())
	_, ok, err = kv.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ValidateWithoutTokenMakesNoRequest(t *testing.T) {
	s, _, srv := newTestSession(t)

	assert.False(t, s.ValidateToken(context.Background()))
	assert.Empty(t, srv.Requests())
}

func TestSession_ValidateAcceptsGoodToken(t *testing.T) {
	ctx := context.Background()
	s, _, srv := newTestSession(t)
	srv.AddUser("good", "octo")

	require.NoError(t, s.SetToken(ctx, "good"))
	assert.True(t, s.ValidateToken(ctx))
	assert.Equal(t, "good", s.AccessToken())
	assert.Equal(t, 1, srv.Count("GET", "/user"))
}

func TestSession_ValidateClearsRejectedToken(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestSession(t)

	require.NoError(t, s.SetToken(ctx, "revoked"))
	assert.False(t, s.ValidateToken(ctx))
	assert.Empty(t, s.AccessToken())
	_, ok, err := kv.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ValidateClearsOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	srv := githubtest.NewServer()
	url := srv.URL
	srv.Close()

	kv := store.NewMemoryStore()
	s := NewSession(kv, github.NewClient(url, nil))
	require.NoError(t, s.SetToken(ctx, "tok"))

	assert.False(t, s.ValidateToken(ctx))
	assert.Empty(t, s.AccessToken())
}

func TestSession_ValidateKeepsTokenWhenCancelled(t *testing.T) {
	s, kv, srv := newTestSession(t)
	srv.AddUser("good", "octo")
	require.NoError(t, s.SetToken(context.Background(), "good"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.ValidateToken(ctx))
	assert.Equal(t, "good", s.AccessToken())
	v, ok, err := kv.Get(context.Background(), store.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "good", v)

	assert.True(t, s.ValidateToken(context.Background()))
}

func TestSession_ValidateAcceptsAnySuccess(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewSession(store.NewMemoryStore(), github.NewClient(srv.URL, srv.Client()))
	require.NoError(t, s.SetToken(ctx, "tok"))
	assert.True(t, s.ValidateToken(ctx))
	assert.Equal(t, "tok", s.AccessToken())
}

func TestSession_SerializeSharesResult(t *testing.T) {
	s, _, _ := newTestSession(t)

	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func() (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	run := func(i int) {
		defer wg.Done()
		results[i], _ = s.Serialize("web", fn)
	}

	wg.Add(1)
	go run(0)
	<-entered

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go run(i)
	}
	// give the followers time to block on the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []string{"shared", "shared", "shared"}, results)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
