package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
	getErr  error
}

func newMemoryStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, scope, key string) (*postgres.IdempotencyEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[scope+"|"+key], nil
}

func (s *memoryIdempotencyStore) Set(_ context.Context, e *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Scope+"|"+e.Key] = e
	return nil
}

func newIdempotentRouter(store IdempotencyStore, status *int, calls *int) http.Handler {
	r := chi.NewRouter()
	r.With(Idempotency(store, time.Hour)).Post("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(*status)
		w.Write([]byte(`{"id":"o1"}`))
	})
	r.With(Idempotency(store, time.Hour)).Post("/api/v1/ticket-types", func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tt1"}`))
	})
	return r
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemoryStore()
	status, calls := http.StatusCreated, 0
	h := newIdempotentRouter(store, &status, &calls)

	first := post(h, "/api/v1/orders", "k1")
	second := post(h, "/api/v1/orders", "k1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))

	entry := store.entries["POST /api/v1/orders|k1"]
	require.NotNil(t, entry)
	assert.WithinDuration(t, time.Now().Add(time.Hour), entry.ExpiresAt, time.Minute)
}

func TestIdempotency_ScopedPerRoute(t *testing.T) {
	store := newMemoryStore()
	status, calls := http.StatusCreated, 0
	h := newIdempotentRouter(store, &status, &calls)

	post(h, "/api/v1/orders", "shared")
	w := post(h, "/api/v1/ticket-types", "shared")

	assert.Equal(t, 2, calls)
	assert.Equal(t, `{"id":"tt1"}`, w.Body.String())
	assert.Empty(t, w.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	store := newMemoryStore()
	status, calls := http.StatusServiceUnavailable, 0
	h := newIdempotentRouter(store, &status, &calls)

	post(h, "/api/v1/orders", "k1")
	status = http.StatusCreated
	w := post(h, "/api/v1/orders", "k1")

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	store := newMemoryStore()
	status, calls := http.StatusCreated, 0
	h := newIdempotentRouter(store, &status, &calls)

	post(h, "/api/v1/orders", "")
	post(h, "/api/v1/orders", "")

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_StoreFailureFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("db down")
	status, calls := http.StatusCreated, 0
	h := newIdempotentRouter(store, &status, &calls)

	w := post(h, "/api/v1/orders", "k1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, w.Code)
}
