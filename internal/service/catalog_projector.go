package service

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// CatalogWriter stores ticket type snapshots, ignoring ones older than what it holds.
type CatalogWriter interface {
	Apply(ctx context.Context, snap event.TicketTypeSnapshot) (bool, error)
}

// CatalogProjector keeps the catalog read model in step with ticket-type events.
// Out-of-order and redelivered snapshots are dropped by version.
type CatalogProjector struct {
	store   CatalogWriter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCatalogProjector(store CatalogWriter, metrics *observability.Metrics, logger zerolog.Logger) *CatalogProjector {
	return &CatalogProjector{store: store, metrics: metrics, logger: logger}
}

func (p *CatalogProjector) Handle(ctx context.Context, env event.Envelope) error {
	var snap event.TicketTypeSnapshot
	switch payload := env.Payload().(type) {
	case event.TicketTypeCreated:
		snap = payload.TicketTypeSnapshot
	case event.TicketTypeUpdated:
		snap = payload.TicketTypeSnapshot
	default:
		return domainErrors.NewValidationError("eventType", "catalog does not project "+string(env.Type()))
	}

	applied, err := p.store.Apply(ctx, snap)
	if err != nil {
		p.count("error")
		return fmt.Errorf("project ticket type %s: %w: %w", snap.TicketTypeID, domainErrors.ErrTransient, err)
	}
	if !applied {
		p.count("stale")
		p.logger.Debug().
			Str("ticket_type_id", snap.TicketTypeID).
			Int("version", snap.Version).
			Msg("Stale ticket type snapshot ignored")
		return nil
	}
	p.count("applied")
	return nil
}

func (p *CatalogProjector) count(result string) {
	if p.metrics != nil {
		p.metrics.CatalogProjections.WithLabelValues(result).Inc()
	}
}
