package controller

import (
	"time"

	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/ticketing/internal/middleware"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	HealthChecks      []HealthCheck
	OrderSaga         *service.OrderSagaService
	OrderService      *service.OrderService
	TicketService     *service.TicketService
	TicketTypeService *service.TicketTypeService
	Catalog           CatalogReader
	IdempotencyStore  customMW.IdempotencyStore
	Metrics           *observability.Metrics
	Config            *config.Config
}

func NewRouter(deps RouterDeps) *chi.Mux {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders())
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	maxLimit := cfg.Pagination.MaxLimit
	healthH := NewHealthController(deps.HealthChecks...)
	webhookH := NewWebhookController(deps.OrderSaga)
	orderH := NewOrderController(deps.OrderService, deps.TicketService, maxLimit)
	ticketH := NewTicketController(deps.TicketService, maxLimit)
	ticketTypeH := NewTicketTypeController(deps.TicketTypeService, maxLimit)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate by signature, not by token.
	r.With(
		customMW.RateLimit(cfg.Webhook.RateLimit),
		customMW.WebhookSignature(cfg.Webhook.Secret),
	).Post("/webhooks/payment", webhookH.HandlePayment)

	r.Route("/api/v1", func(r chi.Router) {
		idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, cfg.Worker.IdempotencyTTL)
		authMW := customMW.RequireAuth(cfg.Auth.JWTSecret)
		organizerMW := customMW.RequireRole(customMW.RoleOrganizer)

		// Ticket types
		r.Get("/events/{eventId}/ticket-types", ticketTypeH.ListByEvent)
		r.Get("/ticket-types/{id}", ticketTypeH.Get)
		r.With(authMW, organizerMW, idempotencyMW).Post("/ticket-types", ticketTypeH.Create)
		r.With(authMW, organizerMW).Put("/ticket-types/{id}", ticketTypeH.Update)

		// Catalog read model
		if deps.Catalog != nil {
			catalogH := NewCatalogController(deps.Catalog)
			r.Get("/catalog/events/{eventId}/ticket-types", catalogH.ListEventTicketTypes)
			r.Get("/catalog/ticket-types/{id}", catalogH.GetTicketType)
		}

		r.Group(func(r chi.Router) {
			r.Use(authMW)

			// Orders
			r.With(idempotencyMW).Post("/orders", orderH.CreateOrder)
			r.Get("/orders", orderH.ListOrders)
			r.Get("/orders/{id}", orderH.GetOrder)
			r.Get("/orders/{id}/tickets", orderH.ListOrderTickets)

			// Tickets
			r.Get("/tickets", ticketH.ListTickets)
			r.Get("/tickets/{id}", ticketH.GetTicket)
		})
	})

	return r
}
