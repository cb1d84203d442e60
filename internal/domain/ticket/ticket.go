package ticket

import (
	"strings"
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/google/uuid"
)

type Status string

const (
	StatusIssued Status = "issued"
)

// Ticket is issued once per (OrderID, LineItemID). UserID, EventID and
// TicketTypeID are weak references resolved by lookup.
type Ticket struct {
	ID           uuid.UUID
	OrderID      string
	LineItemID   string
	UserID       string
	EventID      string
	TicketTypeID string
	PriceCents   int64
	Currency     string
	Code         string
	Status       Status
	IssuedAt     time.Time
}

// NewTicket builds the ticket for one line item of a confirmed order.
func NewTicket(o event.OrderConfirmed, item event.LineItem) (*Ticket, error) {
	if o.OrderID == "" {
		return nil, errors.NewValidationError("orderId", "cannot be empty")
	}
	if item.LineItemID == "" {
		return nil, errors.NewValidationError("lineItemId", "cannot be empty")
	}
	id := uuid.New()
	return &Ticket{
		ID:           id,
		OrderID:      o.OrderID,
		LineItemID:   item.LineItemID,
		UserID:       o.UserID,
		EventID:      o.EventID,
		TicketTypeID: item.TicketTypeID,
		PriceCents:   item.PriceCents,
		Currency:     item.Currency,
		Code:         codeFor(id),
		Status:       StatusIssued,
		IssuedAt:     time.Now(),
	}, nil
}

// codeFor derives the human-facing ticket code printed on the ticket.
func codeFor(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

// IssuedEvent builds the tickets.ticket.issued payload.
func (t *Ticket) IssuedEvent() event.TicketIssued {
	return event.TicketIssued{
		TicketID:     t.ID.String(),
		OrderID:      t.OrderID,
		LineItemID:   t.LineItemID,
		UserID:       t.UserID,
		EventID:      t.EventID,
		TicketTypeID: t.TicketTypeID,
		Code:         t.Code,
		IssuedAt:     t.IssuedAt.UTC(),
	}
}
