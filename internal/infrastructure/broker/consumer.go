package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler applies one decoded envelope. Returning nil acknowledges the message.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

// Mux routes envelopes to a handler by event type. Types without a handler
// are acknowledged and dropped.
type Mux struct {
	handlers map[event.Type]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[event.Type]Handler)}
}

func (m *Mux) Handle(t event.Type, h Handler) *Mux {
	m.handlers[t] = h
	return m
}

// Types lists the routed event types, usable as routing keys.
func (m *Mux) Types() []string {
	keys := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		keys = append(keys, string(t))
	}
	return keys
}

func (m *Mux) dispatch(ctx context.Context, env event.Envelope) (bool, error) {
	h, ok := m.handlers[env.Type()]
	if !ok {
		return false, nil
	}
	return true, h.Handle(ctx, env)
}

// Outcome of one delivery.
type Outcome string

const (
	OutcomeAcked     Outcome = "acked"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "dead_lettered"
	OutcomeRequeued  Outcome = "requeued"
)

type ConsumerConfig struct {
	Queue    string
	Tag      string
	Prefetch int
}

// Consumer reads one queue on its own channel and settles every delivery.
type Consumer struct {
	conn    Connection
	cfg     ConsumerConfig
	mux     *Mux
	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

func NewConsumer(conn Connection, cfg ConsumerConfig, mux *Mux, logger zerolog.Logger, metrics *observability.Metrics) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Tag == "" {
		cfg.Tag = cfg.Queue
	}
	return &Consumer{
		conn:    conn,
		cfg:     cfg,
		mux:     mux,
		logger:  logger.With().Str("queue", cfg.Queue).Logger(),
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
}

// Run consumes until ctx is cancelled or the broker closes the delivery stream.
// Deliveries are handled one at a time to keep per-queue order.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.logger.Info().Int("prefetch", c.cfg.Prefetch).Msg("Consumer started")
	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(c.cfg.Tag, false); err != nil {
				c.logger.Warn().Err(err).Msg("Cancel consumer failed")
			}
			c.logger.Info().Msg("Consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %s closed", c.cfg.Queue)
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery decodes, dispatches and settles one delivery.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) Outcome {
	start := time.Now()
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	ctx, span := c.tracer.Start(ctx, "consume "+c.cfg.Queue, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	outcome := c.process(ctx, d, span)

	span.SetAttributes(attribute.String("messaging.outcome", string(outcome)))
	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(c.cfg.Queue, string(outcome)).Inc()
		c.metrics.ConsumeDuration.WithLabelValues(c.cfg.Queue).Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, span trace.Span) Outcome {
	env, err := event.Decode(d.Body)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", d.MessageId).Str("routing_key", d.RoutingKey).Msg("Undecodable message, dead-lettering")
		span.SetStatus(codes.Error, err.Error())
		c.settle(d.Nack(false, false))
		return OutcomeRejected
	}

	log := observability.WithEvent(c.logger, env.ID().String(), string(env.Type()))
	span.SetAttributes(attribute.String("event.type", string(env.Type())), attribute.String("event.id", env.ID().String()))

	handled, err := c.mux.dispatch(ctx, env)
	switch {
	case err == nil && !handled:
		log.Debug().Msg("No handler for event type, acknowledging")
		c.settle(d.Ack(false))
		return OutcomeIgnored
	case err == nil:
		c.settle(d.Ack(false))
		return OutcomeAcked
	case errors.Is(err, domainErrors.ErrDuplicateTicket):
		log.Info().Msg("Duplicate delivery already applied")
		c.settle(d.Ack(false))
		return OutcomeDuplicate
	case domainErrors.IsValidation(err) || domainErrors.IsNotFound(err):
		log.Error().Err(err).Msg("Message cannot be applied, dead-lettering")
		span.SetStatus(codes.Error, err.Error())
		c.settle(d.Nack(false, false))
		return OutcomeRejected
	default:
		log.Warn().Err(err).Bool("redelivered", d.Redelivered).Msg("Handling failed, requeueing")
		span.SetStatus(codes.Error, err.Error())
		c.settle(d.Nack(false, true))
		return OutcomeRequeued
	}
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.logger.Error().Err(err).Msg("Settle delivery failed")
	}
}
