package service

import (
	"context"

	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/outbox"
	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// EventPublisher sends an envelope to the broker. Used in direct delivery mode.
type EventPublisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// EventRecorder routes envelopes produced inside a transaction either to the
// outbox table (same commit) or to a post-commit publish.
type EventRecorder struct {
	mode       string
	outboxRepo outbox.Repository
	publisher  EventPublisher
	logger     zerolog.Logger
}

func NewEventRecorder(mode string, outboxRepo outbox.Repository, publisher EventPublisher, logger zerolog.Logger) *EventRecorder {
	if mode == "" {
		mode = config.DeliveryOutbox
	}
	return &EventRecorder{mode: mode, outboxRepo: outboxRepo, publisher: publisher, logger: logger}
}

// Record must run inside the transaction that produced envs. In outbox mode
// the envelopes are inserted and nothing is returned; in direct mode they are
// returned untouched for Flush after commit.
func (r *EventRecorder) Record(txCtx context.Context, aggregateType, aggregateID string, envs ...event.Envelope) ([]event.Envelope, error) {
	if r.mode == config.DeliveryDirect {
		return envs, nil
	}
	for _, env := range envs {
		entry, err := outbox.NewEntry(aggregateType, aggregateID, env)
		if err != nil {
			return nil, err
		}
		if err := r.outboxRepo.Insert(txCtx, entry); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Flush publishes envelopes held back by Record. A failure here happens after
// commit and cannot be undone: it is logged and the event is lost to
// subscribers until a reconciliation replays it.
func (r *EventRecorder) Flush(ctx context.Context, envs []event.Envelope) {
	for _, env := range envs {
		if err := r.publisher.Publish(ctx, env); err != nil {
			log := observability.WithEvent(r.logger, env.ID().String(), string(env.Type()))
			log.Error().Err(err).Msg("Publish after commit failed")
		}
	}
}
