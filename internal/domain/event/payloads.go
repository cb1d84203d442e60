package event

import "time"

// LineItem is the slice of an order that yields exactly one ticket.
type LineItem struct {
	LineItemID   string `json:"lineItemId" validate:"required"`
	TicketTypeID string `json:"ticketTypeId" validate:"required"`
	PriceCents   int64  `json:"priceCents" validate:"gte=0"`
	Currency     string `json:"currency" validate:"required,len=3"`
}

// OrderConfirmed is emitted once per order when the provider confirms checkout.
type OrderConfirmed struct {
	OrderID     string     `json:"orderId" validate:"required"`
	SessionID   string     `json:"sessionId" validate:"required"`
	UserID      string     `json:"userId" validate:"required"`
	EventID     string     `json:"eventId" validate:"required"`
	LineItems   []LineItem `json:"lineItems" validate:"required,min=1,dive"`
	TotalCents  int64      `json:"totalCents"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	ConfirmedAt time.Time  `json:"confirmedAt"`
}

func (OrderConfirmed) EventType() Type { return TypeOrderConfirmed }
func (OrderConfirmed) isPayload()      {}

// OrderRejected is emitted once per order when the checkout session expires.
type OrderRejected struct {
	OrderID    string    `json:"orderId" validate:"required"`
	SessionID  string    `json:"sessionId" validate:"required"`
	UserID     string    `json:"userId" validate:"required"`
	EventID    string    `json:"eventId"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

func (OrderRejected) EventType() Type { return TypeOrderRejected }
func (OrderRejected) isPayload()      {}

// TicketTypeSnapshot is the full state of a ticket type at a given version.
type TicketTypeSnapshot struct {
	TicketTypeID string `json:"ticketTypeId" validate:"required"`
	EventID      string `json:"eventId" validate:"required"`
	Name         string `json:"name" validate:"required"`
	PriceCents   int64  `json:"priceCents" validate:"gte=0"`
	Currency     string `json:"currency" validate:"required,len=3"`
	Capacity     int    `json:"capacity" validate:"gte=0"`
	Sold         int    `json:"sold" validate:"gte=0"`
	Version      int    `json:"version" validate:"gte=1"`
}

type TicketTypeCreated struct {
	TicketTypeSnapshot
}

func (TicketTypeCreated) EventType() Type { return TypeTicketTypeCreated }
func (TicketTypeCreated) isPayload()      {}

type TicketTypeUpdated struct {
	TicketTypeSnapshot
}

func (TicketTypeUpdated) EventType() Type { return TypeTicketTypeUpdated }
func (TicketTypeUpdated) isPayload()      {}

// TicketIssued announces a newly persisted ticket. Never emitted for duplicates.
type TicketIssued struct {
	TicketID     string    `json:"ticketId" validate:"required"`
	OrderID      string    `json:"orderId" validate:"required"`
	LineItemID   string    `json:"lineItemId" validate:"required"`
	UserID       string    `json:"userId" validate:"required"`
	EventID      string    `json:"eventId" validate:"required"`
	TicketTypeID string    `json:"ticketTypeId" validate:"required"`
	Code         string    `json:"code" validate:"required"`
	IssuedAt     time.Time `json:"issuedAt"`
}

func (TicketIssued) EventType() Type { return TypeTicketIssued }
func (TicketIssued) isPayload()      {}
