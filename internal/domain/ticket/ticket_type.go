package ticket

import (
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/google/uuid"
)

// TicketType is a priced, capacity-bound category of tickets for one event.
type TicketType struct {
	ID         uuid.UUID
	EventID    string
	Name       string
	PriceCents int64
	Currency   string
	Capacity   int
	Sold       int
	Version    int // Optimistic locking
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewTicketType(eventID, name string, priceCents int64, currency string, capacity int) (*TicketType, error) {
	if eventID == "" {
		return nil, errors.NewValidationError("eventId", "cannot be empty")
	}
	if err := validateFields(name, priceCents, currency, capacity); err != nil {
		return nil, err
	}

	now := time.Now()
	return &TicketType{
		ID:         uuid.New(),
		EventID:    eventID,
		Name:       name,
		PriceCents: priceCents,
		Currency:   currency,
		Capacity:   capacity,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Change applies organizer edits. Capacity can never drop below tickets already sold.
func (tt *TicketType) Change(name string, priceCents int64, capacity int) error {
	if err := validateFields(name, priceCents, tt.Currency, capacity); err != nil {
		return err
	}
	if capacity < tt.Sold {
		return errors.NewValidationError("capacity", "cannot be lower than tickets already sold")
	}
	tt.Name = name
	tt.PriceCents = priceCents
	tt.Capacity = capacity
	tt.Version++
	tt.UpdatedAt = time.Now()
	return nil
}

// Remaining is the unsold capacity, never negative.
func (tt *TicketType) Remaining() int {
	return max(tt.Capacity-tt.Sold, 0)
}

func (tt *TicketType) Snapshot() event.TicketTypeSnapshot {
	return event.TicketTypeSnapshot{
		TicketTypeID: tt.ID.String(),
		EventID:      tt.EventID,
		Name:         tt.Name,
		PriceCents:   tt.PriceCents,
		Currency:     tt.Currency,
		Capacity:     tt.Capacity,
		Sold:         tt.Sold,
		Version:      tt.Version,
	}
}

func (tt *TicketType) CreatedEvent() event.TicketTypeCreated {
	return event.TicketTypeCreated{TicketTypeSnapshot: tt.Snapshot()}
}

func (tt *TicketType) UpdatedEvent() event.TicketTypeUpdated {
	return event.TicketTypeUpdated{TicketTypeSnapshot: tt.Snapshot()}
}

func validateFields(name string, priceCents int64, currency string, capacity int) error {
	if name == "" {
		return errors.NewValidationError("name", "cannot be empty")
	}
	if priceCents < 0 {
		return errors.NewValidationError("priceCents", "cannot be negative")
	}
	if len(currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if capacity < 0 {
		return errors.NewValidationError("capacity", "cannot be negative")
	}
	return nil
}
