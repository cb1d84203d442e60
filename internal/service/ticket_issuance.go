package service

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TicketIssuanceService issues one ticket per line item of a confirmed order.
// Redeliveries of the same order are absorbed by the repository's uniqueness
// on (order, line item) and produce no events.
type TicketIssuanceService struct {
	ticketRepo     ticket.Repository
	ticketTypeRepo ticket.TypeRepository
	txManager      TransactionManager
	events         *EventRecorder
	metrics        *observability.Metrics
	logger         zerolog.Logger
}

func NewTicketIssuanceService(
	ticketRepo ticket.Repository,
	ticketTypeRepo ticket.TypeRepository,
	txManager TransactionManager,
	events *EventRecorder,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *TicketIssuanceService {
	return &TicketIssuanceService{
		ticketRepo:     ticketRepo,
		ticketTypeRepo: ticketTypeRepo,
		txManager:      txManager,
		events:         events,
		metrics:        metrics,
		logger:         logger,
	}
}

// IssuanceResult counts what one OrderConfirmed delivery produced.
type IssuanceResult struct {
	Issued     []*ticket.Ticket
	Duplicates int
}

// Handle consumes an OrderConfirmed envelope. When every line item was
// already issued it returns ErrDuplicateTicket so the delivery is acked as a
// duplicate.
func (s *TicketIssuanceService) Handle(ctx context.Context, env event.Envelope) error {
	confirmed, ok := event.As[event.OrderConfirmed](env)
	if !ok {
		return domainErrors.NewValidationError("eventType", "expected "+string(event.TypeOrderConfirmed)+", got "+string(env.Type()))
	}

	res, err := s.Issue(ctx, confirmed)
	if err != nil {
		return err
	}
	if len(res.Issued) == 0 && res.Duplicates > 0 {
		return fmt.Errorf("order %s: all %d tickets: %w", confirmed.OrderID, res.Duplicates, domainErrors.ErrDuplicateTicket)
	}
	return nil
}

// Issue persists the tickets of a confirmed order inside one transaction.
func (s *TicketIssuanceService) Issue(ctx context.Context, confirmed event.OrderConfirmed) (*IssuanceResult, error) {
	var (
		res     *IssuanceResult
		pending []event.Envelope
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		res = &IssuanceResult{}
		pending = nil

		soldByType := make(map[string]int)
		var typeOrder []string
		for _, item := range confirmed.LineItems {
			t, err := ticket.NewTicket(confirmed, item)
			if err != nil {
				return err
			}
			if err := s.ticketRepo.Create(txCtx, t); err != nil {
				if s.ticketRepo.IsDuplicateError(err) {
					res.Duplicates++
					continue
				}
				return fmt.Errorf("issue ticket for line item %s: %w", item.LineItemID, err)
			}
			res.Issued = append(res.Issued, t)
			if _, seen := soldByType[item.TicketTypeID]; !seen {
				typeOrder = append(typeOrder, item.TicketTypeID)
			}
			soldByType[item.TicketTypeID]++
		}

		envs := make([]event.Envelope, 0, len(res.Issued)+len(typeOrder))
		for _, t := range res.Issued {
			envs = append(envs, event.New(t.IssuedEvent()))
		}
		for _, typeID := range typeOrder {
			env, err := s.bumpSold(txCtx, typeID, soldByType[typeID])
			if err != nil {
				return err
			}
			if env != nil {
				envs = append(envs, *env)
			}
		}

		var err error
		pending, err = s.events.Record(txCtx, "order", confirmed.OrderID, envs...)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Flush(ctx, pending)

	if s.metrics != nil {
		s.metrics.TicketsIssued.Add(float64(len(res.Issued)))
		if res.Duplicates > 0 {
			s.metrics.DuplicateDeliveries.WithLabelValues("order_confirmed").Add(float64(res.Duplicates))
		}
	}
	s.logger.Info().
		Str("order_id", confirmed.OrderID).
		Int("issued", len(res.Issued)).
		Int("duplicates", res.Duplicates).
		Msg("Tickets issued")
	return res, nil
}

// bumpSold advances the sold counter of a ticket type. Ticket types unknown to
// this service are skipped: the tickets stay valid and the catalog just misses
// the count.
func (s *TicketIssuanceService) bumpSold(txCtx context.Context, ticketTypeID string, n int) (*event.Envelope, error) {
	id, err := uuid.Parse(ticketTypeID)
	if err != nil {
		s.logger.Warn().Str("ticket_type_id", ticketTypeID).Msg("Skipping sold counter for non-uuid ticket type")
		return nil, nil
	}
	tt, err := s.ticketTypeRepo.IncrementSold(txCtx, id, n)
	if errors.Is(err, domainErrors.ErrTicketTypeNotFound) {
		s.logger.Warn().Str("ticket_type_id", ticketTypeID).Msg("Skipping sold counter for unknown ticket type")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("increment sold for %s: %w", ticketTypeID, err)
	}
	env := event.New(tt.UpdatedEvent())
	return &env, nil
}
