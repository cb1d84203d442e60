package order

import (
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/google/uuid"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// LineItem yields one ticket once the order is confirmed.
type LineItem struct {
	ID           string
	TicketTypeID string
	PriceCents   int64
}

// Order is owned by the payments service. UserID and EventID are weak
// references into other services.
type Order struct {
	ID         string
	SessionID  string
	UserID     string
	EventID    string
	Status     Status
	Currency   string
	LineItems  []LineItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// NewOrder creates a pending order awaiting checkout.
func NewOrder(sessionID, userID, eventID, currency string, items []LineItem) (*Order, error) {
	if sessionID == "" {
		return nil, errors.NewValidationError("sessionId", "cannot be empty")
	}
	if userID == "" {
		return nil, errors.NewValidationError("userId", "cannot be empty")
	}
	if eventID == "" {
		return nil, errors.NewValidationError("eventId", "cannot be empty")
	}
	if len(currency) != 3 {
		return nil, errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if len(items) == 0 {
		return nil, errors.NewValidationError("lineItems", "at least one line item is required")
	}

	seen := make(map[string]struct{}, len(items))
	lines := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.TicketTypeID == "" {
			return nil, errors.NewValidationError("lineItems.ticketTypeId", "cannot be empty")
		}
		if it.PriceCents < 0 {
			return nil, errors.NewValidationError("lineItems.priceCents", "cannot be negative")
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if _, dup := seen[it.ID]; dup {
			return nil, errors.NewValidationError("lineItems.id", "must be unique within the order")
		}
		seen[it.ID] = struct{}{}
		lines = append(lines, it)
	}

	now := time.Now()
	return &Order{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		EventID:   eventID,
		Status:    StatusPending,
		Currency:  currency,
		LineItems: lines,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TotalCents sums the line item prices.
func (o *Order) TotalCents() int64 {
	var total int64
	for _, it := range o.LineItems {
		total += it.PriceCents
	}
	return total
}

// IsTerminal reports whether the order has been resolved.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusRejected
}

// Confirm moves a pending order to confirmed.
func (o *Order) Confirm() error {
	return o.transitionTo(StatusConfirmed)
}

// Reject moves a pending order to rejected.
func (o *Order) Reject() error {
	return o.transitionTo(StatusRejected)
}

func (o *Order) transitionTo(next Status) error {
	if o.Status != StatusPending {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(o.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	now := time.Now()
	o.Status = next
	o.UpdatedAt = now
	o.ResolvedAt = &now
	return nil
}

// ConfirmedEvent builds the payments.order.confirmed payload for a confirmed order.
func (o *Order) ConfirmedEvent() event.OrderConfirmed {
	items := make([]event.LineItem, 0, len(o.LineItems))
	for _, it := range o.LineItems {
		items = append(items, event.LineItem{
			LineItemID:   it.ID,
			TicketTypeID: it.TicketTypeID,
			PriceCents:   it.PriceCents,
			Currency:     o.Currency,
		})
	}
	p := event.OrderConfirmed{
		OrderID:    o.ID,
		SessionID:  o.SessionID,
		UserID:     o.UserID,
		EventID:    o.EventID,
		LineItems:  items,
		TotalCents: o.TotalCents(),
		Currency:   o.Currency,
	}
	if o.ResolvedAt != nil {
		p.ConfirmedAt = o.ResolvedAt.UTC()
	}
	return p
}

// RejectedEvent builds the payments.order.rejected payload for a rejected order.
func (o *Order) RejectedEvent(reason string) event.OrderRejected {
	p := event.OrderRejected{
		OrderID:   o.ID,
		SessionID: o.SessionID,
		UserID:    o.UserID,
		EventID:   o.EventID,
		Reason:    reason,
	}
	if o.ResolvedAt != nil {
		p.RejectedAt = o.ResolvedAt.UTC()
	}
	return p
}
