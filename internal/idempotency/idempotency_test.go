package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "homebank/pkg/domain"
	"homebank/pkg/testutil"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, reserved, err := store.Reserve(ctx, "k1", time.Minute)
			require.NoError(t, err)
			assert.True(t, reserved, "first reservation wins")

			existing, reserved, err := store.Reserve(ctx, "k1", time.Minute)
			require.NoError(t, err)
			assert.False(t, reserved)
			assert.True(t, existing.Pending())

			rec := Record{Status: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"id":"a"}`)}
			require.NoError(t, store.Complete(ctx, "k1", rec, time.Minute))

			existing, reserved, err = store.Reserve(ctx, "k1", time.Minute)
			require.NoError(t, err)
			assert.False(t, reserved)
			assert.Equal(t, rec, *existing)

			require.NoError(t, store.Release(ctx, "k1"))
			_, reserved, err = store.Reserve(ctx, "k1", time.Minute)
			require.NoError(t, err)
			assert.True(t, reserved, "released keys can be reserved again")

			_, _, err = store.Reserve(ctx, "k2", 0)
			assert.ErrorIs(t, err, ErrInvalidTTL)
		})
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		store := NewMemoryStore(WithMemoryClock(func() time.Time { return now }))
		_, _, err := store.Reserve(ctx, "k", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		_, reserved, err := store.Reserve(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, reserved)

		now = now.Add(2 * time.Minute)
		assert.Equal(t, 1, store.Sweep())
	})

	t.Run("redis", func(t *testing.T) {
		store, mr := newRedisStore(t)
		_, _, err := store.Reserve(ctx, "k", time.Minute)
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)
		_, reserved, err := store.Reserve(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, reserved)
	})
}

type replayCounter struct{ n atomic.Int32 }

func (c *replayCounter) IncrementIdempotentReplays() { c.n.Add(1) }

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clientID := id.NewClientID()

	setup := func(status int) (http.Handler, *atomic.Int32, *replayCounter) {
		var calls atomic.Int32
		counter := &replayCounter{}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
		})
		mw := Middleware(NewMemoryStore(), WithLogger(logger), WithMetrics(counter))
		return mw(next), &calls, counter
	}
	postBody := func(h http.Handler, key string, owner id.ClientID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/clients/current/accounts", strings.NewReader(body))
		if key != "" {
			req.Header.Set(HeaderKey, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, testutil.WithCaller(req, owner, "ada@example.com", "client"))
		return rr
	}
	post := func(h http.Handler, key string, owner id.ClientID) *httptest.ResponseRecorder {
		return postBody(h, key, owner, "")
	}

	t.Run("retry replays the first response", func(t *testing.T) {
		h, calls, counter := setup(http.StatusCreated)

		first := post(h, "abc", clientID)
		second := post(h, "abc", clientID)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
		assert.Empty(t, first.Header().Get(HeaderReplayed))
		assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(1), counter.n.Load())
	})

	t.Run("same key with a different body is a conflict", func(t *testing.T) {
		h, calls, counter := setup(http.StatusCreated)

		first := postBody(h, "card-1", clientID, `{"type":"CREDIT","color":"GOLD"}`)
		again := postBody(h, "card-1", clientID, `{"type":"CREDIT","color":"GOLD"}`)
		changed := postBody(h, "card-1", clientID, `{"type":"CREDIT","color":"SILVER"}`)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, "true", again.Header().Get(HeaderReplayed))
		assert.Equal(t, http.StatusConflict, changed.Code)
		assert.Empty(t, changed.Header().Get(HeaderReplayed))
		assert.Contains(t, changed.Body.String(), "different request body")
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(1), counter.n.Load())
	})

	t.Run("handler still sees the body", func(t *testing.T) {
		var seen string
		h := Middleware(NewMemoryStore(), WithLogger(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			seen = string(b)
			w.WriteHeader(http.StatusCreated)
		}))
		postBody(h, "abc", clientID, `{"type":"DEBIT"}`)
		assert.Equal(t, `{"type":"DEBIT"}`, seen)
	})

	t.Run("rejections are replayed too", func(t *testing.T) {
		h, calls, _ := setup(http.StatusForbidden)
		post(h, "abc", clientID)
		rr := post(h, "abc", clientID)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are not stored", func(t *testing.T) {
		h, calls, _ := setup(http.StatusInternalServerError)
		post(h, "abc", clientID)
		rr := post(h, "abc", clientID)
		assert.Empty(t, rr.Header().Get(HeaderReplayed))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("keys are scoped per client", func(t *testing.T) {
		h, calls, _ := setup(http.StatusCreated)
		post(h, "abc", clientID)
		rr := post(h, "abc", id.NewClientID())
		assert.Empty(t, rr.Header().Get(HeaderReplayed))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("no header passes through", func(t *testing.T) {
		h, calls, _ := setup(http.StatusCreated)
		post(h, "", clientID)
		post(h, "", clientID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("oversized key is rejected", func(t *testing.T) {
		h, calls, _ := setup(http.StatusCreated)
		rr := post(h, string(make([]byte, maxKeyLen+1)), clientID)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Zero(t, calls.Load())
	})

	t.Run("duplicate in flight is a conflict", func(t *testing.T) {
		store := NewMemoryStore()
		release := make(chan struct{})
		entered := make(chan struct{})
		slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			<-release
			w.WriteHeader(http.StatusCreated)
		})
		h := Middleware(store, WithLogger(logger))(slow)

		done := make(chan *httptest.ResponseRecorder)
		go func() { done <- post(h, "abc", clientID) }()
		<-entered

		rr := post(h, "abc", clientID)
		assert.Equal(t, http.StatusConflict, rr.Code)

		close(release)
		assert.Equal(t, http.StatusCreated, (<-done).Code)
	})

	t.Run("panicking handler releases the key", func(t *testing.T) {
		store := NewMemoryStore()
		h := Middleware(store, WithLogger(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		assert.Panics(t, func() { post(h, "abc", clientID) })

		_, reserved, err := store.Reserve(context.Background(), scopeKey(clientID.String(), http.MethodPost, "/api/clients/current/accounts", "abc"), time.Minute)
		require.NoError(t, err)
		assert.True(t, reserved)
	})
}
