package service

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/cassiomorais/ticketing/internal/infrastructure/providers"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Webhook types sent by the payment provider.
const (
	WebhookSessionCompleted = "checkout.session.completed"
	WebhookSessionExpired   = "checkout.session.expired"
)

// WebhookEvent is the provider notification about a checkout session.
type WebhookEvent struct {
	SessionID string `json:"sessionId" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=checkout.session.completed checkout.session.expired"`
	OrderID   string `json:"orderId" validate:"required"`
}

// SagaResult reports what a webhook delivery did to its order.
type SagaResult struct {
	OrderID string
	Status  order.Status
	// Applied is false when the order was already terminal and the delivery was a replay.
	Applied bool
	EventID string
}

// SessionVerifier double-checks a webhook claim with the provider.
type SessionVerifier interface {
	VerifySession(ctx context.Context, orderID, sessionID string, expected providers.SessionStatus) error
}

// OrderSagaService turns payment webhooks into exactly one order transition
// and exactly one order event per order.
type OrderSagaService struct {
	orderRepo order.Repository
	txManager TransactionManager
	events    *EventRecorder
	verifier  SessionVerifier
	metrics   *observability.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func NewOrderSagaService(
	orderRepo order.Repository,
	txManager TransactionManager,
	events *EventRecorder,
	verifier SessionVerifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OrderSagaService {
	return &OrderSagaService{
		orderRepo: orderRepo,
		txManager: txManager,
		events:    events,
		verifier:  verifier,
		metrics:   metrics,
		logger:    logger,
		tracer:    observability.Tracer(),
	}
}

// HandleWebhook validates evt and, in one transaction, moves a pending order
// to confirmed or rejected and records the matching event. Replays against a
// terminal order succeed without side effects and without a provider call.
// Once validated, the delivery runs to completion even if ctx is cancelled.
func (s *OrderSagaService) HandleWebhook(ctx context.Context, evt WebhookEvent) (result *SagaResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "order_saga.handle_webhook", trace.WithAttributes(
		attribute.String("order.id", evt.OrderID),
		attribute.String("webhook.type", evt.Type),
	))
	defer func() {
		s.observe(result, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validateStruct(evt); err != nil {
		return nil, err
	}

	var pending []event.Envelope
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		pending = nil
		o, err := s.orderRepo.GetForUpdate(txCtx, evt.OrderID)
		if err != nil {
			return err
		}
		if o.SessionID != evt.SessionID {
			return domainErrors.NewDomainError("session_mismatch",
				"session "+evt.SessionID+" does not belong to order "+o.ID,
				domainErrors.ErrSessionMismatch)
		}

		if o.IsTerminal() {
			result = &SagaResult{OrderID: o.ID, Status: o.Status, Applied: false}
			return nil
		}

		// Only a pending order asks the provider, so replays never depend on it.
		if s.verifier != nil {
			if err := s.verifier.VerifySession(txCtx, o.ID, evt.SessionID, expectedSessionStatus(evt.Type)); err != nil {
				return err
			}
		}

		var env event.Envelope
		switch evt.Type {
		case WebhookSessionCompleted:
			if err := o.Confirm(); err != nil {
				return err
			}
			env = event.New(o.ConfirmedEvent())
		case WebhookSessionExpired:
			if err := o.Reject(); err != nil {
				return err
			}
			env = event.New(o.RejectedEvent("checkout session expired"))
		}

		if err := s.orderRepo.UpdateStatus(txCtx, o); err != nil {
			return err
		}
		if pending, err = s.events.Record(txCtx, "order", o.ID, env); err != nil {
			return err
		}

		result = &SagaResult{OrderID: o.ID, Status: o.Status, Applied: true, EventID: env.ID().String()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Flush(context.WithoutCancel(ctx), pending)

	span.SetAttributes(attribute.Bool("saga.applied", result.Applied), attribute.String("order.status", string(result.Status)))
	log := s.logger.Info()
	if !result.Applied {
		log = s.logger.Debug()
	}
	log.Str("order_id", result.OrderID).
		Str("status", string(result.Status)).
		Bool("applied", result.Applied).
		Str("webhook_type", evt.Type).
		Msg("Payment webhook handled")

	return result, nil
}

func (s *OrderSagaService) observe(result *SagaResult, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.SagaDuration.Observe(elapsed.Seconds())

	outcome := "applied"
	switch {
	case err == nil && !result.Applied:
		outcome = "replayed"
		s.metrics.DuplicateDeliveries.WithLabelValues("webhook").Inc()
	case err == nil:
		s.metrics.OrderTransitions.WithLabelValues(string(result.Status)).Inc()
	case domainErrors.IsValidation(err):
		outcome = "invalid"
	case errors.Is(err, domainErrors.ErrOrderNotFound):
		outcome = "not_found"
	case errors.Is(err, domainErrors.ErrSessionMismatch):
		outcome = "mismatch"
	default:
		outcome = "error"
	}
	s.metrics.WebhooksTotal.WithLabelValues(outcome).Inc()
}

func expectedSessionStatus(webhookType string) providers.SessionStatus {
	if webhookType == WebhookSessionExpired {
		return providers.SessionExpired
	}
	return providers.SessionComplete
}
