package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/ticketing/internal/bootstrap"
	"github.com/cassiomorais/ticketing/internal/controller"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/ticketing/internal/infrastructure/redis"
	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/cassiomorais/ticketing/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "ticketing-api", "ticketing")
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
	orderRepo := postgres.NewOrderRepository(app.Pool)
	ticketRepo := postgres.NewTicketRepository(app.Pool)
	ticketTypeRepo := postgres.NewTicketTypeRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	catalog := infraRedis.NewCatalogStore(app.Redis, cfg.Redis.CatalogPrefix)

	// --- Services ---
	events := service.NewEventRecorder(cfg.Events.Delivery, outboxRepo, app.Publisher, observability.Component(app.Logger, "events"))
	orderSaga := service.NewOrderSagaService(orderRepo, app.TxManager, events, app.SessionVerifier(), app.Metrics,
		observability.Component(app.Logger, "order_saga"))

	router := controller.NewRouter(controller.RouterDeps{
		HealthChecks: []controller.HealthCheck{
			{Name: "database", Ping: app.Pool.Ping},
			{Name: "redis", Ping: catalog.Ping},
		},
		OrderSaga:         orderSaga,
		OrderService:      service.NewOrderService(orderRepo, ticketTypeRepo, app.TxManager).WithSessionRegistry(app.SessionRegistry()),
		TicketService:     service.NewTicketService(ticketRepo, orderRepo),
		TicketTypeService: service.NewTicketTypeService(ticketTypeRepo, app.TxManager, events),
		Catalog:           catalog,
		IdempotencyStore:  idempotencyRepo,
		Metrics:           app.Metrics,
		Config:            cfg,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server error")
	}
	app.Logger.Info().Msg("Server exited")
}
