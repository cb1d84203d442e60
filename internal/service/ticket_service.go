package service

import (
	"context"

	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/google/uuid"
)

// TicketService answers ticket queries.
type TicketService struct {
	ticketRepo ticket.Repository
	orderRepo  order.Repository
}

func NewTicketService(ticketRepo ticket.Repository, orderRepo order.Repository) *TicketService {
	return &TicketService{ticketRepo: ticketRepo, orderRepo: orderRepo}
}

func (s *TicketService) GetTicket(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error) {
	return s.ticketRepo.GetByID(ctx, id)
}

// ListByOrder lists the tickets of an existing order. Unknown orders are
// reported as not found rather than as an empty page.
func (s *TicketService) ListByOrder(ctx context.Context, orderID string, page pagination.Params) (pagination.Page[*ticket.Ticket], error) {
	if _, err := s.orderRepo.GetByID(ctx, orderID); err != nil {
		return pagination.Page[*ticket.Ticket]{}, err
	}
	tickets, total, err := s.ticketRepo.ListByOrder(ctx, orderID, page)
	if err != nil {
		return pagination.Page[*ticket.Ticket]{}, err
	}
	return pagination.NewPage(tickets, total, page), nil
}

func (s *TicketService) ListByUser(ctx context.Context, userID string, page pagination.Params) (pagination.Page[*ticket.Ticket], error) {
	tickets, total, err := s.ticketRepo.ListByUser(ctx, userID, page)
	if err != nil {
		return pagination.Page[*ticket.Ticket]{}, err
	}
	return pagination.NewPage(tickets, total, page), nil
}
