package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// ExpiredKeyStore deletes idempotency keys past their expiry.
type ExpiredKeyStore interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Lease keeps a periodic job to one instance at a time.
type Lease interface {
	TryAcquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// IdempotencyCleaner periodically purges expired idempotency keys.
type IdempotencyCleaner struct {
	store    ExpiredKeyStore
	lease    Lease
	interval time.Duration
	logger   zerolog.Logger
}

func NewIdempotencyCleaner(store ExpiredKeyStore, interval time.Duration, logger zerolog.Logger) *IdempotencyCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IdempotencyCleaner{
		store:    store,
		interval: interval,
		logger:   observability.Component(logger, "idempotency_cleaner"),
	}
}

// WithLease makes CleanOnce skip the round when another instance holds lease.
func (c *IdempotencyCleaner) WithLease(lease Lease) *IdempotencyCleaner {
	c.lease = lease
	return c
}

func (c *IdempotencyCleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CleanOnce(ctx)
		}
	}
}

// CleanOnce runs one purge. It reports whether this instance did the work.
func (c *IdempotencyCleaner) CleanOnce(ctx context.Context) bool {
	if c.lease != nil {
		token, ok, err := c.lease.TryAcquire(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Cleanup lease unavailable, skipping round")
			return false
		}
		if !ok {
			c.logger.Debug().Msg("Cleanup running elsewhere")
			return false
		}
		defer func() {
			if err := c.lease.Release(ctx, token); err != nil {
				c.logger.Warn().Err(err).Msg("Release cleanup lease")
			}
		}()
	}

	n, err := c.store.Cleanup(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Idempotency key cleanup failed")
		return true
	}
	if n > 0 {
		c.logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
	}
	return true
}
