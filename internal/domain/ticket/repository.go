package ticket

import (
	"context"

	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/google/uuid"
)

// Repository defines the interface for ticket persistence
type Repository interface {
	// Create inserts a ticket. A second ticket for the same (OrderID, LineItemID)
	// fails with an error for which IsDuplicateError reports true.
	Create(ctx context.Context, t *Ticket) error

	// IsDuplicateError tells "already applied" apart from genuine failures
	IsDuplicateError(err error) bool

	// GetByID retrieves a ticket; ErrTicketNotFound when absent
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)

	// ListByOrder returns a page of tickets issued for an order
	ListByOrder(ctx context.Context, orderID string, page pagination.Params) ([]*Ticket, int, error)

	// ListByUser returns a page of tickets held by a user
	ListByUser(ctx context.Context, userID string, page pagination.Params) ([]*Ticket, int, error)
}

// TypeRepository defines the interface for ticket type persistence
type TypeRepository interface {
	Create(ctx context.Context, tt *TicketType) error

	// GetByID retrieves a ticket type; ErrTicketTypeNotFound when absent
	GetByID(ctx context.Context, id uuid.UUID) (*TicketType, error)

	// Update persists organizer edits guarded by the previous version
	Update(ctx context.Context, tt *TicketType) error

	// IncrementSold adds n to the sold counter, bumps the version and returns the new state
	IncrementSold(ctx context.Context, id uuid.UUID, n int) (*TicketType, error)

	// ListByEvent returns a page of ticket types for an event
	ListByEvent(ctx context.Context, eventID string, page pagination.Params) ([]*TicketType, int, error)
}
