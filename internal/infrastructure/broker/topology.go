package broker

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultExchange is used when a topology leaves ExchangeName empty.
const DefaultExchange = "ticketing"

// Topology is the exchange, the durable queue and the routing keys bound to it.
type Topology struct {
	URL          string
	ExchangeName string
	QueueName    string
	RoutingKeys  []string

	// DeliveryLimit caps redeliveries of a requeued message before the broker
	// dead-letters it. Zero leaves the broker default.
	DeliveryLimit int
}

func (t Topology) exchange() string {
	if t.ExchangeName == "" {
		return DefaultExchange
	}
	return t.ExchangeName
}

// DeadLetterExchange is the topic exchange receiving rejected messages.
func (t Topology) DeadLetterExchange() string {
	return t.exchange() + ".dlx"
}

// DeadLetterQueue holds the messages dead-lettered from QueueName.
func (t Topology) DeadLetterQueue() string {
	return t.QueueName + ".dead-letter"
}

// DeadLetterRoutingKey replaces the routing key of messages dead-lettered from
// QueueName. Queues sharing an exchange also share its dead-letter exchange,
// so the original key would reach every queue's dead-letter queue.
func (t Topology) DeadLetterRoutingKey() string {
	return t.QueueName
}

func (t Topology) Validate() error {
	if t.URL == "" {
		return domainErrors.NewValidationError("url", "is required")
	}
	if t.QueueName == "" {
		return domainErrors.NewValidationError("queueName", "is required")
	}
	if len(t.RoutingKeys) == 0 {
		return domainErrors.NewValidationError("routingKeys", "at least one routing key is required")
	}
	for _, k := range t.RoutingKeys {
		if k == "" {
			return domainErrors.NewValidationError("routingKeys", "cannot contain an empty key")
		}
	}
	if t.DeliveryLimit < 0 {
		return domainErrors.NewValidationError("deliveryLimit", "cannot be negative")
	}
	return nil
}

// TopologyManager declares topologies on a connection it owns for the
// duration of one Setup call.
type TopologyManager struct {
	dial   Dialer
	logger zerolog.Logger
}

func NewTopologyManager(dial Dialer, logger zerolog.Logger) *TopologyManager {
	return &TopologyManager{dial: dial, logger: logger}
}

// Setup connects, declares the exchanges and queues, binds every routing key
// and closes the connection. Declarations are idempotent, so every process
// calls it at boot. Any failure is wrapped in ErrTopologyProvisioning and must
// abort startup.
func (m *TopologyManager) Setup(ctx context.Context, t Topology) (err error) {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domainErrors.ErrTopologyProvisioning, err)
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: queue %s: %w", domainErrors.ErrTopologyProvisioning, t.QueueName, err)
		}
	}()

	conn, err := m.dial(t.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	steps := []func() error{
		func() error { return declareExchange(ch, t.exchange()) },
		func() error { return declareExchange(ch, t.DeadLetterExchange()) },
		func() error { return declareQueue(ch, t.DeadLetterQueue(), nil) },
		func() error { return bind(ch, t.DeadLetterQueue(), t.DeadLetterRoutingKey(), t.DeadLetterExchange()) },
		func() error { return declareQueue(ch, t.QueueName, t.queueArgs()) },
	}
	for _, key := range dedupe(t.RoutingKeys) {
		steps = append(steps, func() error { return bind(ch, t.QueueName, key, t.exchange()) })
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(); err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("exchange", t.exchange()).
		Str("queue", t.QueueName).
		Strs("routing_keys", t.RoutingKeys).
		Msg("Broker topology provisioned")
	return nil
}

func (t Topology) queueArgs() amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    t.DeadLetterExchange(),
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey(),
	}
	if t.DeliveryLimit > 0 {
		args["x-delivery-limit"] = int32(t.DeliveryLimit)
	}
	return args
}

func declareExchange(ch Channel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func declareQueue(ch Channel, name string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
			return fmt.Errorf("queue %s exists with different arguments: %w", name, err)
		}
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func bind(ch Channel, queue, key, exchange string) error {
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s with %q: %w", queue, exchange, key, err)
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
