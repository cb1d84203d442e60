package event

import (
	"encoding/json"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmedPayload() OrderConfirmed {
	return OrderConfirmed{
		OrderID:   "o1",
		SessionID: "s1",
		UserID:    "u1",
		EventID:   "concert-1",
		LineItems: []LineItem{
			{LineItemID: "li-1", TicketTypeID: "tt-1", PriceCents: 5000, Currency: "EUR"},
			{LineItemID: "li-2", TicketTypeID: "tt-1", PriceCents: 5000, Currency: "EUR"},
		},
		TotalCents: 10000,
		Currency:   "EUR",
	}
}

func TestNew_SetsTypeAndTimestamp(t *testing.T) {
	before := time.Now().UTC()
	env := New(confirmedPayload())

	assert.Equal(t, TypeOrderConfirmed, env.Type())
	assert.Equal(t, "payments.order.confirmed", env.RoutingKey())
	assert.NotEqual(t, uuid.Nil, env.ID())
	assert.False(t, env.OccurredAt().Before(before))
	assert.Equal(t, time.UTC, env.OccurredAt().Location())
}

func TestEnvelope_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	env := NewAt(confirmedPayload(), at)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "payments.order.confirmed", raw["eventType"])
	assert.Equal(t, "2026-03-01T12:30:00Z", raw["occurredAt"])
	assert.Contains(t, raw, "payload")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID(), decoded.ID())
	assert.Equal(t, env.Type(), decoded.Type())
	assert.True(t, env.OccurredAt().Equal(decoded.OccurredAt()))

	p, ok := As[OrderConfirmed](decoded)
	require.True(t, ok)
	assert.Equal(t, "o1", p.OrderID)
	assert.Len(t, p.LineItems, 2)
}

func TestEnvelope_UnmarshalJSON(t *testing.T) {
	data, err := json.Marshal(New(TicketTypeUpdated{TicketTypeSnapshot{
		TicketTypeID: "tt-1", EventID: "e-1", Name: "GA", PriceCents: 100, Currency: "USD", Capacity: 10, Sold: 3, Version: 2,
	}}))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	p, ok := As[TicketTypeUpdated](env)
	require.True(t, ok)
	assert.Equal(t, 3, p.Sold)
	assert.Equal(t, 2, p.Version)

	_, ok = As[TicketTypeCreated](env)
	assert.False(t, ok)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"eventType":`, "envelope"},
		{"missing type", `{"occurredAt":"2026-01-01T00:00:00Z","payload":{}}`, "eventType"},
		{"unknown type", `{"eventType":"payments.order.refunded","occurredAt":"2026-01-01T00:00:00Z","payload":{}}`, "eventType"},
		{"missing timestamp", `{"eventType":"payments.order.rejected","payload":{"orderId":"o1","sessionId":"s1","userId":"u1"}}`, "occurredAt"},
		{"missing payload", `{"eventType":"payments.order.rejected","occurredAt":"2026-01-01T00:00:00Z"}`, "payload"},
		{"payload schema", `{"eventType":"payments.order.rejected","occurredAt":"2026-01-01T00:00:00Z","payload":{"orderId":"o1"}}`, "OrderRejected.SessionID"},
		{"empty line items", `{"eventType":"payments.order.confirmed","occurredAt":"2026-01-01T00:00:00Z","payload":{"orderId":"o1","sessionId":"s1","userId":"u1","eventId":"e1","currency":"EUR","lineItems":[]}}`, "OrderConfirmed.LineItems"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, domainErrors.IsValidation(err))

			var ve *domainErrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestDecode_UnknownTypeIsTagged(t *testing.T) {
	_, err := Decode([]byte(`{"eventType":"x.y","occurredAt":"2026-01-01T00:00:00Z","payload":{}}`))
	assert.ErrorIs(t, err, domainErrors.ErrUnknownEventType)
}

func TestKnown(t *testing.T) {
	for _, tt := range []Type{TypeOrderConfirmed, TypeOrderRejected, TypeTicketTypeCreated, TypeTicketTypeUpdated, TypeTicketIssued} {
		assert.True(t, Known(tt), tt)
	}
	assert.False(t, Known("payments.order.pending"))
}

func TestMarshal_EmptyEnvelope(t *testing.T) {
	_, err := json.Marshal(Envelope{})
	assert.Error(t, err)
}
