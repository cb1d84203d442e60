package controller

import (
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/cassiomorais/ticketing/internal/service"
)

// --- Request DTOs ---
// Order and ticket type requests reuse the service layer types; the user of an
// order always comes from the token, never from the body.

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	SessionID string                     `json:"sessionId" validate:"required"`
	EventID   string                     `json:"eventId" validate:"required"`
	Currency  string                     `json:"currency" validate:"required,len=3"`
	Items     []service.OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// --- Response DTOs ---

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionId"`
	UserID     string             `json:"userId"`
	EventID    string             `json:"eventId"`
	Status     string             `json:"status"`
	Currency   string             `json:"currency"`
	TotalCents int64              `json:"totalCents"`
	LineItems  []LineItemResponse `json:"lineItems"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	ResolvedAt *time.Time         `json:"resolvedAt,omitempty"`
}

type LineItemResponse struct {
	ID           string `json:"id"`
	TicketTypeID string `json:"ticketTypeId"`
	PriceCents   int64  `json:"priceCents"`
}

// TicketResponse represents an issued ticket.
type TicketResponse struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"orderId"`
	LineItemID   string    `json:"lineItemId"`
	UserID       string    `json:"userId"`
	EventID      string    `json:"eventId"`
	TicketTypeID string    `json:"ticketTypeId"`
	PriceCents   int64     `json:"priceCents"`
	Currency     string    `json:"currency"`
	Code         string    `json:"code"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// TicketTypeResponse represents a ticket type as stored by the ticketing service.
type TicketTypeResponse struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"priceCents"`
	Currency   string    `json:"currency"`
	Capacity   int       `json:"capacity"`
	Sold       int       `json:"sold"`
	Remaining  int       `json:"remaining"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WebhookResponse tells the payment provider what its delivery did.
type WebhookResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Applied bool   `json:"applied"`
	EventID string `json:"eventId,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromOrder(o *order.Order) *OrderResponse {
	items := make([]LineItemResponse, 0, len(o.LineItems))
	for _, it := range o.LineItems {
		items = append(items, LineItemResponse{
			ID:           it.ID,
			TicketTypeID: it.TicketTypeID,
			PriceCents:   it.PriceCents,
		})
	}
	return &OrderResponse{
		ID:         o.ID,
		SessionID:  o.SessionID,
		UserID:     o.UserID,
		EventID:    o.EventID,
		Status:     string(o.Status),
		Currency:   o.Currency,
		TotalCents: o.TotalCents(),
		LineItems:  items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		ResolvedAt: o.ResolvedAt,
	}
}

func FromTicket(t *ticket.Ticket) *TicketResponse {
	return &TicketResponse{
		ID:           t.ID.String(),
		OrderID:      t.OrderID,
		LineItemID:   t.LineItemID,
		UserID:       t.UserID,
		EventID:      t.EventID,
		TicketTypeID: t.TicketTypeID,
		PriceCents:   t.PriceCents,
		Currency:     t.Currency,
		Code:         t.Code,
		Status:       string(t.Status),
		IssuedAt:     t.IssuedAt,
	}
}

func FromTicketType(tt *ticket.TicketType) *TicketTypeResponse {
	return &TicketTypeResponse{
		ID:         tt.ID.String(),
		EventID:    tt.EventID,
		Name:       tt.Name,
		PriceCents: tt.PriceCents,
		Currency:   tt.Currency,
		Capacity:   tt.Capacity,
		Sold:       tt.Sold,
		Remaining:  tt.Remaining(),
		Version:    tt.Version,
		CreatedAt:  tt.CreatedAt,
		UpdatedAt:  tt.UpdatedAt,
	}
}

// FromSagaResult converts the outcome of a webhook delivery.
func FromSagaResult(r *service.SagaResult) *WebhookResponse {
	return &WebhookResponse{
		OrderID: r.OrderID,
		Status:  string(r.Status),
		Applied: r.Applied,
		EventID: r.EventID,
	}
}
