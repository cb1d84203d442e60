package controller

import (
	"context"
	"net/http"
	"testing"

	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/cassiomorais/ticketing/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderBody(sessionID, ticketTypeID string, quantity int) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"eventId":   "event-1",
		"currency":  "EUR",
		"items":     []map[string]any{{"ticketTypeId": ticketTypeID, "quantity": quantity}},
	}
}

func TestCreateOrder(t *testing.T) {
	f := setupAPI(t)
	tt := testutil.NewTestTicketType("event-1", 10)
	f.ticketTypes.AddTicketType(tt)

	w := f.do(t, http.MethodPost, "/api/v1/orders", tokenFor(t, "user-7"), orderBody("cs_1", tt.ID.String(), 2))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[OrderResponse](t, w)
	assert.Equal(t, "user-7", resp.UserID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, int64(9000), resp.TotalCents)
	require.Len(t, resp.LineItems, 2)
	assert.NotEqual(t, resp.LineItems[0].ID, resp.LineItems[1].ID)

	stored := f.orders.Stored(resp.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "cs_1", stored.SessionID)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := setupAPI(t)
	tt := testutil.NewTestTicketType("event-1", 10)
	f.ticketTypes.AddTicketType(tt)
	token := tokenFor(t, "user-1")

	first := f.do(t, http.MethodPost, "/api/v1/orders", token, orderBody("cs_1", tt.ID.String(), 1), "Idempotency-Key", "k-1")
	second := f.do(t, http.MethodPost, "/api/v1/orders", token, orderBody("cs_1", tt.ID.String(), 1), "Idempotency-Key", "k-1")

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCreateOrder_Errors(t *testing.T) {
	tt := testutil.NewTestTicketType("event-1", 1)

	tests := []struct {
		name   string
		token  bool
		body   map[string]any
		status int
		code   string
	}{
		{"no token", false, orderBody("cs_1", tt.ID.String(), 1), http.StatusUnauthorized, "auth_required"},
		{"bad ticket type id", true, orderBody("cs_1", "not-a-uuid", 1), http.StatusBadRequest, "validation_error"},
		{"zero quantity", true, orderBody("cs_1", tt.ID.String(), 0), http.StatusBadRequest, "validation_error"},
		{"sold out", true, orderBody("cs_1", tt.ID.String(), 2), http.StatusConflict, "sold_out"},
		{"unknown ticket type", true, orderBody("cs_1", "6f1c2a8e-3b0f-4a51-9d0e-2c1f7e4b9a10", 1), http.StatusNotFound, "not_found"},
		{"session already used", true, orderBody("cs_taken", tt.ID.String(), 1), http.StatusConflict, "duplicate_request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupAPI(t)
			f.ticketTypes.AddTicketType(tt)
			f.orders.AddOrder(testutil.NewTestOrder("o-existing", "cs_taken", tt.ID.String()))

			token := ""
			if tc.token {
				token = tokenFor(t, "user-1")
			}
			w := f.do(t, http.MethodPost, "/api/v1/orders", token, tc.body)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeBody[ErrorResponse](t, w).Code)
		})
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	f := setupAPI(t)
	f.orders.AddOrder(testutil.NewTestOrder("o1", "s1", "tt-1"))

	w := f.do(t, http.MethodGet, "/api/v1/orders/o1", tokenFor(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o1", decodeBody[OrderResponse](t, w).ID)

	w = f.do(t, http.MethodGet, "/api/v1/orders/o1", tokenFor(t, "user-2"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/orders/o1", tokenFor(t, "staff", "organizer"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/orders/missing", tokenFor(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders(t *testing.T) {
	f := setupAPI(t)
	for _, id := range []string{"o1", "o2", "o3"} {
		f.orders.AddOrder(testutil.NewTestOrder(id, "s-"+id, "tt-1"))
	}
	other := testutil.NewTestOrder("o4", "s-o4", "tt-1")
	other.UserID = "user-2"
	f.orders.AddOrder(other)

	w := f.do(t, http.MethodGet, "/api/v1/orders?limit=2", tokenFor(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[pagination.Page[OrderResponse]](t, w)
	assert.Equal(t, 3, page.TotalItems)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	w = f.do(t, http.MethodGet, "/api/v1/orders", tokenFor(t, "staff", "organizer"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decodeBody[pagination.Page[OrderResponse]](t, w).TotalItems)
}

func TestListOrders_InvalidQuery(t *testing.T) {
	f := setupAPI(t)
	token := tokenFor(t, "user-1")

	for _, q := range []string{"?limit=0", "?offset=-1", "?limit=abc", "?status=refunded"} {
		w := f.do(t, http.MethodGet, "/api/v1/orders"+q, token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListOrderTickets_AfterConfirmation(t *testing.T) {
	f := setupAPI(t)
	tt := testutil.NewTestTicketType("event-1", 10)
	f.ticketTypes.AddTicketType(tt)
	o := testutil.NewTestOrder("o1", "s1", tt.ID.String(), tt.ID.String())
	require.NoError(t, o.Confirm())
	f.orders.AddOrder(o)

	events := service.NewEventRecorder(config.DeliveryOutbox, f.outbox, nil, zerolog.Nop())
	issuer := service.NewTicketIssuanceService(f.tickets, f.ticketTypes, f.txManager, events, nil, zerolog.Nop())
	require.NoError(t, issuer.Handle(context.Background(), event.New(o.ConfirmedEvent())))

	w := f.do(t, http.MethodGet, "/api/v1/orders/o1/tickets", tokenFor(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[pagination.Page[TicketResponse]](t, w)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "o1", page.Items[0].OrderID)
	assert.Equal(t, "issued", page.Items[0].Status)
	assert.Equal(t, order.StatusConfirmed, f.orders.Stored("o1").Status)
}
