package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/ticketing/internal/bootstrap"
	"github.com/cassiomorais/ticketing/internal/infrastructure/broker"
	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/ticketing/internal/infrastructure/redis"
	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/cassiomorais/ticketing/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "ticketing-worker", "ticketing_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config
	if err := app.SetupTopology(ctx, worker.Topologies(cfg.Broker)...); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to provision broker topology")
		return
	}

	// --- Repositories ---
	ticketRepo := postgres.NewTicketRepository(app.Pool)
	ticketTypeRepo := postgres.NewTicketTypeRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	catalog := infraRedis.NewCatalogStore(app.Redis, cfg.Redis.CatalogPrefix)

	// --- Handlers ---
	events := service.NewEventRecorder(cfg.Events.Delivery, outboxRepo, app.Publisher, observability.Component(app.Logger, "events"))
	issuer := service.NewTicketIssuanceService(ticketRepo, ticketTypeRepo, app.TxManager, events, app.Metrics,
		observability.Component(app.Logger, "ticket_issuance"))
	projector := service.NewCatalogProjector(catalog, app.Metrics, observability.Component(app.Logger, "catalog"))

	consumers := []*broker.Consumer{
		broker.NewConsumer(app.Broker, broker.ConsumerConfig{
			Queue:    cfg.Broker.TicketIssuanceQueue,
			Tag:      cfg.InstanceID + "-issuance",
			Prefetch: cfg.Broker.Prefetch,
		}, worker.NewIssuanceMux(issuer), app.Logger, app.Metrics),
		broker.NewConsumer(app.Broker, broker.ConsumerConfig{
			Queue:    cfg.Broker.CatalogQueue,
			Tag:      cfg.InstanceID + "-catalog",
			Prefetch: cfg.Broker.Prefetch,
		}, worker.NewCatalogMux(projector), app.Logger, app.Metrics),
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, c := range consumers {
		g.Go(func() error { return c.Run(gCtx) })
	}

	if cfg.Events.Delivery == config.DeliveryOutbox {
		relay := worker.NewOutboxRelay(app.TxManager, outboxRepo, app.Publisher, worker.OutboxRelayConfig{
			BatchSize:    cfg.Worker.OutboxBatchSize,
			PollInterval: cfg.Worker.OutboxPollInterval,
		}, app.Metrics, app.Logger)
		g.Go(func() error { return relay.Run(gCtx) })
	}

	cleaner := worker.NewIdempotencyCleaner(idempotencyRepo, cfg.Worker.CleanupInterval, app.Logger).
		WithLease(infraRedis.NewJobLease(app.Redis, cfg.Redis.CatalogPrefix, "idempotency-cleanup", cfg.Worker.CleanupInterval))
	g.Go(func() error { return cleaner.Run(gCtx) })

	if cfg.Observability.EnableMetrics {
		metricsSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	app.Logger.Info().
		Str("issuance_queue", cfg.Broker.TicketIssuanceQueue).
		Str("catalog_queue", cfg.Broker.CatalogQueue).
		Str("delivery", cfg.Events.Delivery).
		Msg("Worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
		app.Close()
		os.Exit(1)
	}
	app.Logger.Info().Msg("Worker exited")
}
