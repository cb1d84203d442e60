package service

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/google/uuid"
)

// TicketTypeService manages ticket types and announces every change.
type TicketTypeService struct {
	repo      ticket.TypeRepository
	txManager TransactionManager
	events    *EventRecorder
}

func NewTicketTypeService(repo ticket.TypeRepository, txManager TransactionManager, events *EventRecorder) *TicketTypeService {
	return &TicketTypeService{repo: repo, txManager: txManager, events: events}
}

type CreateTicketTypeRequest struct {
	EventID    string `json:"eventId" validate:"required"`
	Name       string `json:"name" validate:"required,max=120"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
	Currency   string `json:"currency" validate:"required,len=3"`
	Capacity   int    `json:"capacity" validate:"gte=0"`
}

// UpdateTicketTypeRequest carries the version the caller last read.
type UpdateTicketTypeRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
	Capacity   int    `json:"capacity" validate:"gte=0"`
	Version    int    `json:"version" validate:"required,min=1"`
}

func (s *TicketTypeService) Create(ctx context.Context, req CreateTicketTypeRequest) (*ticket.TicketType, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	tt, err := ticket.NewTicketType(req.EventID, req.Name, req.PriceCents, req.Currency, req.Capacity)
	if err != nil {
		return nil, err
	}

	var pending []event.Envelope
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, tt); err != nil {
			return err
		}
		var err error
		pending, err = s.events.Record(txCtx, "ticket_type", tt.ID.String(), event.New(tt.CreatedEvent()))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Flush(ctx, pending)
	return tt, nil
}

// Update applies organizer edits when req.Version is still current.
func (s *TicketTypeService) Update(ctx context.Context, id uuid.UUID, req UpdateTicketTypeRequest) (*ticket.TicketType, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var (
		updated *ticket.TicketType
		pending []event.Envelope
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tt, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if tt.Version != req.Version {
			return fmt.Errorf("ticket type %s is at version %d, not %d: %w", id, tt.Version, req.Version, domainErrors.ErrOptimisticLockFailed)
		}
		if err := tt.Change(req.Name, req.PriceCents, req.Capacity); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, tt); err != nil {
			return err
		}
		if pending, err = s.events.Record(txCtx, "ticket_type", tt.ID.String(), event.New(tt.UpdatedEvent())); err != nil {
			return err
		}
		updated = tt
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.Flush(ctx, pending)
	return updated, nil
}

func (s *TicketTypeService) Get(ctx context.Context, id uuid.UUID) (*ticket.TicketType, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *TicketTypeService) ListByEvent(ctx context.Context, eventID string, page pagination.Params) (pagination.Page[*ticket.TicketType], error) {
	var (
		types []*ticket.TicketType
		total int
	)
	err := s.txManager.WithSession(ctx, func(ctx context.Context) error {
		var err error
		types, total, err = s.repo.ListByEvent(ctx, eventID, page)
		return err
	})
	if err != nil {
		return pagination.Page[*ticket.TicketType]{}, err
	}
	return pagination.NewPage(types, total, page), nil
}
