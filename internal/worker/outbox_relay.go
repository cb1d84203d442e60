// Package worker holds the background loops of the worker process: the outbox
// relay, the queue consumers and periodic cleanup.
package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/ticketing/internal/domain/outbox"
	"github.com/cassiomorais/ticketing/internal/infrastructure/broker"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/rs/zerolog"
)

// MessagePublisher sends an already serialized envelope.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg broker.Message) error
}

type OutboxRelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// OutboxRelay publishes pending outbox entries. Each batch is claimed with
// FOR UPDATE SKIP LOCKED inside one transaction, so several relays can run
// side by side without publishing the same entry twice concurrently.
type OutboxRelay struct {
	txManager service.TransactionManager
	repo      outbox.Repository
	publisher MessagePublisher
	cfg       OutboxRelayConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboxRelay(
	txManager service.TransactionManager,
	repo outbox.Repository,
	publisher MessagePublisher,
	cfg OutboxRelayConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &OutboxRelay{
		txManager: txManager,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    observability.Component(logger, "outbox_relay"),
	}
}

// Run relays batches until ctx is cancelled. A fully published batch is
// followed immediately by the next one instead of waiting for the ticker.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info().Int("batch_size", r.cfg.BatchSize).Dur("poll_interval", r.cfg.PollInterval).Msg("Outbox relay started")
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay batch failed")
		}
		if err == nil && n == r.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many entries went out.
// A failed publish bumps the entry's retry count; once its retries are spent
// the repository parks it as failed.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		published = 0

		for _, e := range entries {
			pubErr := r.publisher.PublishMessage(ctx, broker.Message{
				ID:         e.ID,
				EventType:  e.EventType,
				RoutingKey: e.RoutingKey,
				Body:       e.Body,
			})
			if pubErr == nil {
				if err := r.repo.MarkPublished(txCtx, e.ID); err != nil {
					return err
				}
				published++
				r.count("published")
				continue
			}

			result := "retry"
			if e.RetryCount+1 >= e.MaxRetries {
				result = "parked"
			}
			r.logger.Warn().Err(pubErr).
				Str("outbox_id", e.ID.String()).
				Str("event_type", string(e.EventType)).
				Int("retry_count", e.RetryCount+1).
				Str("result", result).
				Msg("Failed to publish outbox entry")
			if err := r.repo.MarkFailed(txCtx, e.ID, pubErr.Error()); err != nil {
				return err
			}
			r.count(result)
		}
		return nil
	})
	return published, err
}

func (r *OutboxRelay) count(result string) {
	if r.metrics != nil {
		r.metrics.OutboxRelayed.WithLabelValues(result).Inc()
	}
}
