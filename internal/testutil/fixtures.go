package testutil

import (
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/google/uuid"
)

// NewTestOrder builds a pending order with one line item per ticket type id.
func NewTestOrder(id, sessionID string, ticketTypeIDs ...string) *order.Order {
	now := time.Now()
	items := make([]order.LineItem, 0, len(ticketTypeIDs))
	for i, tt := range ticketTypeIDs {
		items = append(items, order.LineItem{
			ID:           id + "-li-" + string(rune('a'+i)),
			TicketTypeID: tt,
			PriceCents:   4500,
		})
	}
	return &order.Order{
		ID:        id,
		SessionID: sessionID,
		UserID:    "user-1",
		EventID:   "event-1",
		Status:    order.StatusPending,
		Currency:  "EUR",
		LineItems: items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewTestTicketType(eventID string, capacity int) *ticket.TicketType {
	now := time.Now()
	return &ticket.TicketType{
		ID:         uuid.New(),
		EventID:    eventID,
		Name:       "General Admission",
		PriceCents: 4500,
		Currency:   "EUR",
		Capacity:   capacity,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func StringPtr(s string) *string {
	return &s
}
