package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/infrastructure/redis"
	customMW "github.com/cassiomorais/ticketing/internal/middleware"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/cassiomorais/ticketing/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "whsec_test"
)

type apiFixture struct {
	router      http.Handler
	orders      *testutil.MockOrderRepository
	tickets     *testutil.MockTicketRepository
	ticketTypes *testutil.MockTicketTypeRepository
	outbox      *testutil.MockOutboxRepository
	txManager   *testutil.MockTransactionManager
	catalog     *fakeCatalog
	pingErr     error
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		orders:      testutil.NewMockOrderRepository(),
		tickets:     testutil.NewMockTicketRepository(),
		ticketTypes: testutil.NewMockTicketTypeRepository(),
		outbox:      &testutil.MockOutboxRepository{},
		txManager:   testutil.NewMockTransactionManager(),
		catalog:     &fakeCatalog{},
	}

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Webhook.Secret = testWebhookSecret
	cfg.Webhook.RateLimit = 1000
	cfg.Pagination.MaxLimit = 50
	cfg.Worker.IdempotencyTTL = time.Hour

	events := service.NewEventRecorder(config.DeliveryOutbox, f.outbox, nil, zerolog.Nop())
	f.router = NewRouter(RouterDeps{
		HealthChecks:      []HealthCheck{{Name: "database", Ping: func(context.Context) error { return f.pingErr }}},
		OrderSaga:         service.NewOrderSagaService(f.orders, f.txManager, events, nil, nil, zerolog.Nop()),
		OrderService:      service.NewOrderService(f.orders, f.ticketTypes, f.txManager),
		TicketService:     service.NewTicketService(f.tickets, f.orders),
		TicketTypeService: service.NewTicketTypeService(f.ticketTypes, f.txManager, events),
		Catalog:           f.catalog,
		IdempotencyStore:  testutil.NewMockIdempotencyStore(),
		Config:            cfg,
	})
	return f
}

func tokenFor(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, customMW.Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

// do sends body (marshalled when not already bytes) with an optional bearer token.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

type fakeCatalog struct {
	entries []redis.CatalogEntry
	err     error
}

func (c *fakeCatalog) Get(_ context.Context, id string) (*redis.CatalogEntry, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, e := range c.entries {
		if e.TicketTypeID == id {
			return &e, nil
		}
	}
	return nil, errors.New("unexpected lookup of " + id)
}

func (c *fakeCatalog) ListByEvent(_ context.Context, eventID string) ([]redis.CatalogEntry, error) {
	if c.err != nil {
		return nil, c.err
	}
	var out []redis.CatalogEntry
	for _, e := range c.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "", nil).Code)

	f.pingErr = errors.New("connection refused")
	w := f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "database unavailable", body["reason"])
}

func TestCatalog_ListEventTicketTypes(t *testing.T) {
	f := setupAPI(t)
	f.catalog.entries = []redis.CatalogEntry{
		{TicketTypeID: "tt-1", EventID: "event-1", Name: "Balcony", Capacity: 10, Sold: 4, Remaining: 6, Version: 3},
		{TicketTypeID: "tt-2", EventID: "event-2", Name: "Floor"},
	}

	w := f.do(t, http.MethodGet, "/api/v1/catalog/events/event-1/ticket-types", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[struct {
		Items []redis.CatalogEntry `json:"items"`
	}](t, w)
	require.Len(t, body.Items, 1)
	assert.Equal(t, 6, body.Items[0].Remaining)

	w = f.do(t, http.MethodGet, "/api/v1/catalog/events/unknown/ticket-types", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestSecurityHeadersApplied(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "plain http")

	w = f.do(t, http.MethodGet, "/health", "", nil, "X-Forwarded-Proto", "https")
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}
