package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
)

// Message is a serialized envelope ready for the wire.
type Message struct {
	ID         uuid.UUID
	EventType  event.Type
	RoutingKey string
	Body       []byte
}

// PublisherConfig controls publishing on one exchange.
type PublisherConfig struct {
	Exchange              string
	PublishTimeout        time.Duration
	CircuitBreakerFails   uint32
	CircuitBreakerTimeout time.Duration
}

// confirmBuffer sizes the channel amqp091 delivers confirms on. A dispatcher
// drains it continuously, so the reader goroutine never blocks on it.
const confirmBuffer = 64

// Publisher sends envelopes to the topic exchange on a dedicated confirm-mode
// channel. Publishes are serialized so each one waits for its own confirm.
type Publisher struct {
	ch      Channel
	cfg     PublisherConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	nextTag uint64

	waitMu  sync.Mutex
	waiters map[uint64]chan amqp.Confirmation
	// done is closed once the confirm stream ends.
	done chan struct{}
}

// NewPublisher opens a channel on conn and puts it in confirm mode.
func NewPublisher(conn Connection, cfg PublisherConfig, logger zerolog.Logger, metrics *observability.Metrics) (*Publisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.CircuitBreakerFails == 0 {
		cfg.CircuitBreakerFails = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 30 * time.Second
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	p := &Publisher{
		ch:      ch,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		waiters: make(map[uint64]chan amqp.Confirmation),
		done:    make(chan struct{}),
	}
	go p.dispatchConfirms(ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)))

	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "broker-publisher",
		MaxRequests: 1,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return p, nil
}

// Publish serializes env and sends it under its routing key.
func (p *Publisher) Publish(ctx context.Context, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize %s envelope: %w", env.Type(), err)
	}
	return p.PublishMessage(ctx, Message{
		ID:         env.ID(),
		EventType:  env.Type(),
		RoutingKey: env.RoutingKey(),
		Body:       body,
	})
}

// PublishMessage sends an already serialized envelope and waits for the broker
// confirm. Broker failures are marked transient so callers may retry.
func (p *Publisher) PublishMessage(ctx context.Context, msg Message) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publish(ctx, msg)
	})

	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
			err = fmt.Errorf("publish %s: %w: %w", msg.EventType, domainErrors.ErrTransient, err)
		}
	}
	if p.metrics != nil {
		p.metrics.MessagesPublished.WithLabelValues(string(msg.EventType), result).Inc()
		p.metrics.CircuitBreakerRequests.WithLabelValues("broker-publisher", result).Inc()
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.nextTag + 1
	confirm := p.await(tag)
	defer p.forget(tag)

	err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         string(msg.EventType),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w: %w", msg.EventType, domainErrors.ErrTransient, err)
	}
	p.nextTag = tag

	select {
	case c := <-confirm:
		if !c.Ack {
			return fmt.Errorf("publish %s: %w: %w", msg.EventType, domainErrors.ErrPublishNotConfirmed, domainErrors.ErrTransient)
		}
		return nil
	case <-p.done:
		return fmt.Errorf("publish %s: confirm channel closed: %w", msg.EventType, domainErrors.ErrTransient)
	case <-ctx.Done():
		return fmt.Errorf("publish %s: waiting for confirm: %w: %w", msg.EventType, domainErrors.ErrTransient, ctx.Err())
	}
}

func (p *Publisher) await(tag uint64) <-chan amqp.Confirmation {
	c := make(chan amqp.Confirmation, 1)
	p.waitMu.Lock()
	p.waiters[tag] = c
	p.waitMu.Unlock()
	return c
}

func (p *Publisher) forget(tag uint64) {
	p.waitMu.Lock()
	delete(p.waiters, tag)
	p.waitMu.Unlock()
}

// dispatchConfirms hands each confirm to the publish waiting for its tag.
// Confirms nobody waits for any more, such as late ones for timed-out
// publishes, are dropped.
func (p *Publisher) dispatchConfirms(confirms <-chan amqp.Confirmation) {
	defer close(p.done)
	for c := range confirms {
		p.waitMu.Lock()
		w, ok := p.waiters[c.DeliveryTag]
		delete(p.waiters, c.DeliveryTag)
		p.waitMu.Unlock()
		if ok {
			w <- c
		} else {
			p.logger.Debug().Uint64("delivery_tag", c.DeliveryTag).Bool("ack", c.Ack).Msg("Dropping late publisher confirm")
		}
	}
}

// Close releases the publish channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// headerCarrier adapts AMQP headers to the OpenTelemetry propagator.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
