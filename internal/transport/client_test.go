package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync-go/internal/apierr"
	"offsync-go/internal/credential"
	"offsync-go/internal/events"
)

// fakeRefresher counts calls and returns a canned credential or error.
type fakeRefresher struct {
	calls int32
	cred  *credential.Credential
	err   error
	delay time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

func seededStore(t *testing.T, cred *credential.Credential) credential.Store {
	t.Helper()
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), cred))
	return store
}

func TestDoAttachesBearerToken(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{
		AccessToken: "at-1", RefreshToken: "rt-1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	c := NewClient(srv.URL, store, &fakeRefresher{})

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Bearer at-1", gotAuth)
	assert.Empty(t, gotKey, "GET must not be stamped with an idempotency key")
}

func TestDoStampsIdempotencyKeyOnMutations(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})
	c := NewClient(srv.URL, store, &fakeRefresher{})

	req := &Request{Method: http.MethodPost, Path: "/notes", Body: []byte(`{}`)}
	_, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, gotKey)
	assert.Equal(t, req.IdempotencyKey, gotKey, "stamped key must be visible on the request")

	// replay with the same request reuses the key
	first := gotKey
	_, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, gotKey)
}

func TestDoRefreshesOn401AndRetriesOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") == "Bearer fresh" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{
		AccessToken: "stale", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	ref := &fakeRefresher{cred: &credential.Credential{
		AccessToken: "fresh", RefreshToken: "rt-2",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	hub := events.NewHub()
	var refreshed int32
	hub.Subscribe(events.TopicTokenRefreshed, func(context.Context, events.Event) {
		atomic.AddInt32(&refreshed, 1)
	})
	c := NewClient(srv.URL, store, ref, WithHub(hub))

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ref.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "exactly one retry")
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshed))

	saved, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "fresh", saved.AccessToken)
}

func TestDoSecond401SurfacesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{
		AccessToken: "stale", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	ref := &fakeRefresher{cred: &credential.Credential{AccessToken: "still-bad", ExpiresAt: time.Now().Add(time.Hour)}}
	c := NewClient(srv.URL, store, ref)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.Error(t, err)
	assert.True(t, apierr.IsAuth(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ref.calls), "no second refresh after retry")
}

func TestDoRejectedRefreshClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{
		AccessToken: "stale", RefreshToken: "dead",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	ref := &fakeRefresher{err: apierr.Auth(http.StatusBadRequest, "invalid_grant")}
	hub := events.NewHub()
	var cleared int32
	hub.Subscribe(events.TopicCredentialsCleared, func(context.Context, events.Event) {
		atomic.AddInt32(&cleared, 1)
	})
	c := NewClient(srv.URL, store, ref, WithHub(hub))

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.Error(t, err)
	assert.True(t, apierr.IsAuth(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleared))

	saved, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, saved, "rejected refresh must clear the stored credential")
}

func TestDoConcurrentExpiredTokensCoalesceRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{
		AccessToken: "stale", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(-time.Minute), // already expired
	})
	ref := &fakeRefresher{
		cred:  &credential.Credential{AccessToken: "fresh", RefreshToken: "rt-2", ExpiresAt: time.Now().Add(time.Hour)},
		delay: 50 * time.Millisecond,
	}
	c := NewClient(srv.URL, store, ref)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ref.calls), "concurrent expired sends share one refresh")
}

func TestDoMapsNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := seededStore(t, &credential.Credential{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})
	c := NewClient(srv.URL, store, &fakeRefresher{})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.Error(t, err)
	assert.True(t, apierr.IsNetwork(err))
}

func TestDoClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"maintenance window"}}`))
	}))
	defer srv.Close()

	store := seededStore(t, &credential.Credential{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})
	c := NewClient(srv.URL, store, &fakeRefresher{})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/notes"})
	require.Error(t, err)
	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindServer, kind)
	assert.Equal(t, http.StatusServiceUnavailable, apierr.StatusOf(err))
	assert.Contains(t, err.Error(), "maintenance window")
}

func TestDoUnauthenticatedSendsNoHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credential.NewMemoryStore(), &fakeRefresher{})
	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/public"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}
