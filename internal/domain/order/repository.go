package order

import (
	"context"

	"github.com/cassiomorais/ticketing/internal/domain/pagination"
)

// Repository defines the interface for order persistence
type Repository interface {
	// Create inserts a new pending order with its line items
	Create(ctx context.Context, o *Order) error

	// GetByID retrieves an order; ErrOrderNotFound when absent
	GetByID(ctx context.Context, id string) (*Order, error)

	// GetForUpdate retrieves an order and locks its row for the current transaction
	GetForUpdate(ctx context.Context, id string) (*Order, error)

	// UpdateStatus persists a status transition
	UpdateStatus(ctx context.Context, o *Order) error

	// List returns a page of orders, newest first
	List(ctx context.Context, filter ListFilter, page pagination.Params) ([]*Order, int, error)
}

// ListFilter narrows order listings.
type ListFilter struct {
	UserID *string
	Status *Status
}
