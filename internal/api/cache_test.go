package api

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMiddlewareServesFromCache(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})

	store := cache.New(time.Minute, time.Minute)
	wrapped := CacheMiddleware(store, time.Minute)(handler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/appointments/scheduled?date=2026-08-30", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `[{"id":1}]`, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}

	assert.Equal(t, int64(1), hits.Load(), "only the first request reaches the handler")
}

func TestCacheMiddlewareKeyIncludesQuery(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(r.URL.RawQuery))
	})

	store := cache.New(time.Minute, time.Minute)
	wrapped := CacheMiddleware(store, time.Minute)(handler)

	for _, q := range []string{"date=2026-08-30", "date=2026-08-31"} {
		req := httptest.NewRequest(http.MethodGet, "/appointments/scheduled?"+q, nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, q, rec.Body.String())
	}

	assert.Equal(t, int64(2), hits.Load())
}

func TestCacheMiddlewareSkipsPosts(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	store := cache.New(time.Minute, time.Minute)
	wrapped := CacheMiddleware(store, time.Minute)(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/appointments/state", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}

	assert.Equal(t, int64(2), hits.Load())
}

func TestCacheMiddlewareSkipsErrors(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := cache.New(time.Minute, time.Minute)
	wrapped := CacheMiddleware(store, time.Minute)(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/appointments/scheduled", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	assert.Equal(t, int64(2), hits.Load(), "error responses are never cached")
}
