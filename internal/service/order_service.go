package service

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/cassiomorais/ticketing/internal/infrastructure/providers"
	"github.com/google/uuid"
)

// OrderService handles order intake and order queries.
type OrderService struct {
	orderRepo      order.Repository
	ticketTypeRepo ticket.TypeRepository
	txManager      TransactionManager
	sessions       providers.SessionRegistry
}

func NewOrderService(orderRepo order.Repository, ticketTypeRepo ticket.TypeRepository, txManager TransactionManager) *OrderService {
	return &OrderService{
		orderRepo:      orderRepo,
		ticketTypeRepo: ticketTypeRepo,
		txManager:      txManager,
	}
}

// WithSessionRegistry attaches each new order to its checkout session at the
// provider, so webhook verification can match the two later.
func (s *OrderService) WithSessionRegistry(sessions providers.SessionRegistry) *OrderService {
	s.sessions = sessions
	return s
}

// OrderItemRequest asks for Quantity tickets of one ticket type.
type OrderItemRequest struct {
	TicketTypeID string `json:"ticketTypeId" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"required,min=1,max=20"`
}

// CreateOrderRequest is what a checkout produces before the provider answers.
type CreateOrderRequest struct {
	SessionID string             `json:"sessionId" validate:"required"`
	UserID    string             `json:"userId" validate:"required"`
	EventID   string             `json:"eventId" validate:"required"`
	Currency  string             `json:"currency" validate:"required,len=3"`
	Items     []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateOrder prices each requested ticket from its ticket type and stores a
// pending order with one line item per ticket.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var created *order.Order
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var lines []order.LineItem
		for _, item := range req.Items {
			tt, err := s.ticketTypeRepo.GetByID(txCtx, uuid.MustParse(item.TicketTypeID))
			if err != nil {
				return err
			}
			if tt.EventID != req.EventID {
				return domainErrors.NewValidationError("items.ticketTypeId", "ticket type belongs to another event")
			}
			if tt.Currency != req.Currency {
				return domainErrors.NewValidationError("currency", "does not match ticket type currency "+tt.Currency)
			}
			if tt.Remaining() < item.Quantity {
				return fmt.Errorf("ticket type %s has %d left: %w", tt.ID, tt.Remaining(), domainErrors.ErrSoldOut)
			}
			for range item.Quantity {
				lines = append(lines, order.LineItem{TicketTypeID: tt.ID.String(), PriceCents: tt.PriceCents})
			}
		}

		o, err := order.NewOrder(req.SessionID, req.UserID, req.EventID, req.Currency, lines)
		if err != nil {
			return err
		}
		if err := s.orderRepo.Create(txCtx, o); err != nil {
			return err
		}
		if s.sessions != nil {
			err := s.sessions.RegisterSession(txCtx, providers.Session{ID: o.SessionID, OrderID: o.ID, Status: providers.SessionOpen})
			if err != nil {
				return fmt.Errorf("register checkout session: %w", err)
			}
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// ListOrders reads the page and its total on one connection.
func (s *OrderService) ListOrders(ctx context.Context, filter order.ListFilter, page pagination.Params) (pagination.Page[*order.Order], error) {
	var (
		orders []*order.Order
		total  int
	)
	err := s.txManager.WithSession(ctx, func(ctx context.Context) error {
		var err error
		orders, total, err = s.orderRepo.List(ctx, filter, page)
		return err
	})
	if err != nil {
		return pagination.Page[*order.Order]{}, err
	}
	return pagination.NewPage(orders, total, page), nil
}
