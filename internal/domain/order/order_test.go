package order

import (
	"testing"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder("cs_1", "user-1", "concert-1", "EUR", []LineItem{
		{ID: "li-1", TicketTypeID: "tt-1", PriceCents: 4500},
		{ID: "li-2", TicketTypeID: "tt-2", PriceCents: 3000},
	})
	require.NoError(t, err)
	return o
}

func TestNewOrder(t *testing.T) {
	o := newTestOrder(t)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(7500), o.TotalCents())
	assert.False(t, o.IsTerminal())
	assert.Nil(t, o.ResolvedAt)
}

func TestNewOrder_GeneratesLineItemIDs(t *testing.T) {
	o, err := NewOrder("cs_1", "user-1", "concert-1", "EUR", []LineItem{{TicketTypeID: "tt-1"}, {TicketTypeID: "tt-1"}})
	require.NoError(t, err)

	assert.NotEmpty(t, o.LineItems[0].ID)
	assert.NotEqual(t, o.LineItems[0].ID, o.LineItems[1].ID)
}

func TestNewOrder_Validation(t *testing.T) {
	item := []LineItem{{TicketTypeID: "tt-1", PriceCents: 100}}
	tests := []struct {
		name      string
		sessionID string
		userID    string
		eventID   string
		currency  string
		items     []LineItem
		field     string
	}{
		{"missing session", "", "u", "e", "EUR", item, "sessionId"},
		{"missing user", "s", "", "e", "EUR", item, "userId"},
		{"missing event", "s", "u", "", "EUR", item, "eventId"},
		{"bad currency", "s", "u", "e", "EURO", item, "currency"},
		{"no items", "s", "u", "e", "EUR", nil, "lineItems"},
		{"missing ticket type", "s", "u", "e", "EUR", []LineItem{{PriceCents: 1}}, "lineItems.ticketTypeId"},
		{"negative price", "s", "u", "e", "EUR", []LineItem{{TicketTypeID: "tt", PriceCents: -1}}, "lineItems.priceCents"},
		{"duplicate ids", "s", "u", "e", "EUR", []LineItem{{ID: "a", TicketTypeID: "tt"}, {ID: "a", TicketTypeID: "tt"}}, "lineItems.id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.sessionID, tt.userID, tt.eventID, tt.currency, tt.items)
			var ve *errors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestOrder_Confirm(t *testing.T) {
	o := newTestOrder(t)

	require.NoError(t, o.Confirm())
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, o.IsTerminal())
	require.NotNil(t, o.ResolvedAt)
}

func TestOrder_TerminalStatesAreFinal(t *testing.T) {
	tests := []struct {
		name   string
		first  func(*Order) error
		second func(*Order) error
		final  Status
	}{
		{"confirm then reject", (*Order).Confirm, (*Order).Reject, StatusConfirmed},
		{"reject then confirm", (*Order).Reject, (*Order).Confirm, StatusRejected},
		{"confirm twice", (*Order).Confirm, (*Order).Confirm, StatusConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder(t)
			require.NoError(t, tt.first(o))

			err := tt.second(o)
			assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)
			assert.Equal(t, tt.final, o.Status)
		})
	}
}

func TestOrder_ConfirmedEvent(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.Confirm())

	p := o.ConfirmedEvent()

	assert.Equal(t, o.ID, p.OrderID)
	assert.Equal(t, "cs_1", p.SessionID)
	assert.Equal(t, int64(7500), p.TotalCents)
	require.Len(t, p.LineItems, 2)
	assert.Equal(t, "li-2", p.LineItems[1].LineItemID)
	assert.Equal(t, "EUR", p.LineItems[1].Currency)
	assert.False(t, p.ConfirmedAt.IsZero())
}

func TestOrder_RejectedEvent(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.Reject())

	p := o.RejectedEvent("checkout.session.expired")

	assert.Equal(t, o.ID, p.OrderID)
	assert.Equal(t, "checkout.session.expired", p.Reason)
	assert.False(t, p.RejectedAt.IsZero())
}
