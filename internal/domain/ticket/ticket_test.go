package ticket

import (
	"testing"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmed() event.OrderConfirmed {
	return event.OrderConfirmed{
		OrderID:   "o1",
		SessionID: "s1",
		UserID:    "u1",
		EventID:   "e1",
		Currency:  "EUR",
		LineItems: []event.LineItem{{LineItemID: "li-1", TicketTypeID: "tt-1", PriceCents: 1500, Currency: "EUR"}},
	}
}

func TestNewTicket(t *testing.T) {
	o := confirmed()
	tk, err := NewTicket(o, o.LineItems[0])
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tk.ID)
	assert.Equal(t, "o1", tk.OrderID)
	assert.Equal(t, "li-1", tk.LineItemID)
	assert.Equal(t, "u1", tk.UserID)
	assert.Equal(t, "tt-1", tk.TicketTypeID)
	assert.Equal(t, StatusIssued, tk.Status)
	assert.Len(t, tk.Code, 12)
	assert.False(t, tk.IssuedAt.IsZero())
}

func TestNewTicket_Validation(t *testing.T) {
	o := confirmed()
	o.OrderID = ""
	_, err := NewTicket(o, o.LineItems[0])
	assert.True(t, errors.IsValidation(err))

	o = confirmed()
	_, err = NewTicket(o, event.LineItem{TicketTypeID: "tt"})
	assert.True(t, errors.IsValidation(err))
}

func TestTicket_IssuedEvent(t *testing.T) {
	o := confirmed()
	tk, err := NewTicket(o, o.LineItems[0])
	require.NoError(t, err)

	p := tk.IssuedEvent()
	assert.Equal(t, tk.ID.String(), p.TicketID)
	assert.Equal(t, tk.Code, p.Code)
	assert.Equal(t, event.TypeTicketIssued, p.EventType())
}

func TestNewTicketType(t *testing.T) {
	tt, err := NewTicketType("e1", "General Admission", 4500, "EUR", 200)
	require.NoError(t, err)

	assert.Equal(t, 1, tt.Version)
	assert.Equal(t, 0, tt.Sold)
	assert.Equal(t, 200, tt.Remaining())

	snap := tt.CreatedEvent()
	assert.Equal(t, tt.ID.String(), snap.TicketTypeID)
	assert.Equal(t, 1, snap.Version)
}

func TestNewTicketType_Validation(t *testing.T) {
	tests := []struct {
		name     string
		eventID  string
		ttName   string
		price    int64
		currency string
		capacity int
		field    string
	}{
		{"no event", "", "GA", 1, "EUR", 1, "eventId"},
		{"no name", "e", "", 1, "EUR", 1, "name"},
		{"negative price", "e", "GA", -1, "EUR", 1, "priceCents"},
		{"bad currency", "e", "GA", 1, "E", 1, "currency"},
		{"negative capacity", "e", "GA", 1, "EUR", -1, "capacity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTicketType(tc.eventID, tc.ttName, tc.price, tc.currency, tc.capacity)
			var ve *errors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestTicketType_Change(t *testing.T) {
	tt, err := NewTicketType("e1", "GA", 4500, "EUR", 200)
	require.NoError(t, err)
	tt.Sold = 50

	require.NoError(t, tt.Change("GA Early", 3900, 150))
	assert.Equal(t, "GA Early", tt.Name)
	assert.Equal(t, 2, tt.Version)
	assert.Equal(t, 100, tt.Remaining())

	err = tt.Change("GA", 3900, 10)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 2, tt.Version)

	updated := tt.UpdatedEvent()
	assert.Equal(t, 50, updated.Sold)
	assert.Equal(t, event.TypeTicketTypeUpdated, updated.EventType())
}

func TestTicketType_RemainingNeverNegative(t *testing.T) {
	tt := &TicketType{Capacity: 5, Sold: 7}
	assert.Equal(t, 0, tt.Remaining())
}
