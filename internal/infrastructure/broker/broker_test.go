package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = zerolog.New(io.Discard)

func issuanceTopology() Topology {
	return Topology{
		URL:           "amqp://fake",
		ExchangeName:  "ticketing",
		QueueName:     "tickets.issuance",
		RoutingKeys:   []string{"payments.order.confirmed"},
		DeliveryLimit: 5,
	}
}

func TestTopology_SetupTwiceIsIdempotent(t *testing.T) {
	b := newFakeBroker()
	m := NewTopologyManager(b.dial, discard)
	topo := issuanceTopology()

	require.NoError(t, m.Setup(context.Background(), topo))
	require.NoError(t, m.Setup(context.Background(), topo))

	assert.Equal(t, map[string]string{"ticketing": "topic", "ticketing.dlx": "topic"}, b.exchanges)
	assert.Len(t, b.queues, 2)
	assert.Contains(t, b.queues, "tickets.issuance")
	assert.Contains(t, b.queues, "tickets.issuance.dead-letter")
	assert.Equal(t, map[binding]struct{}{
		{queue: "tickets.issuance", key: "payments.order.confirmed", exchange: "ticketing"}:         {},
		{queue: "tickets.issuance.dead-letter", key: "tickets.issuance", exchange: "ticketing.dlx"}: {},
	}, b.bindings)

	assert.Equal(t, 2, b.dials)
	assert.Equal(t, 0, b.openConns, "setup must release its connection")
}

func TestTopology_QueueArguments(t *testing.T) {
	b := newFakeBroker()
	require.NoError(t, NewTopologyManager(b.dial, discard).Setup(context.Background(), issuanceTopology()))

	args := b.queues["tickets.issuance"]
	assert.Equal(t, "quorum", args["x-queue-type"])
	assert.Equal(t, "ticketing.dlx", args["x-dead-letter-exchange"])
	assert.Equal(t, "tickets.issuance", args["x-dead-letter-routing-key"])
	assert.Equal(t, int32(5), args["x-delivery-limit"])
}

func TestTopology_DeadLettersReachOnlyTheirOwnQueue(t *testing.T) {
	b := newFakeBroker()
	m := NewTopologyManager(b.dial, discard)
	issuance := issuanceTopology()
	catalog := Topology{
		URL:          "amqp://fake",
		ExchangeName: "ticketing",
		QueueName:    "catalog.projection",
		RoutingKeys:  []string{"ticket-type.created", "payments.order.confirmed"},
	}
	require.NoError(t, m.Setup(context.Background(), issuance))
	require.NoError(t, m.Setup(context.Background(), catalog))

	// Both queues receive the event.
	assert.ElementsMatch(t, []string{"tickets.issuance", "catalog.projection"}, b.route("ticketing", "payments.order.confirmed"))

	for _, topo := range []Topology{issuance, catalog} {
		key, _ := b.queues[topo.QueueName]["x-dead-letter-routing-key"].(string)
		assert.Equal(t, []string{topo.DeadLetterQueue()}, b.route("ticketing.dlx", key), topo.QueueName)
	}
	assert.Empty(t, b.route("ticketing.dlx", "payments.order.confirmed"))
}

func TestTopology_DefaultExchangeAndDuplicateKeys(t *testing.T) {
	b := newFakeBroker()
	topo := Topology{
		URL:         "amqp://fake",
		QueueName:   "catalog.projection",
		RoutingKeys: []string{"ticket-type.created", "ticket-type.updated", "ticket-type.created"},
	}
	require.NoError(t, NewTopologyManager(b.dial, discard).Setup(context.Background(), topo))

	assert.Contains(t, b.exchanges, DefaultExchange)
	assert.Len(t, b.bindings, 3)
	assert.NotContains(t, b.queues["catalog.projection"], "x-delivery-limit")
}

func TestTopology_SetupFailuresAreFatal(t *testing.T) {
	t.Run("invalid configuration", func(t *testing.T) {
		b := newFakeBroker()
		topo := issuanceTopology()
		topo.RoutingKeys = nil

		err := NewTopologyManager(b.dial, discard).Setup(context.Background(), topo)
		assert.ErrorIs(t, err, domainErrors.ErrTopologyProvisioning)
		assert.True(t, domainErrors.IsValidation(err))
		assert.Equal(t, 0, b.dials)
	})

	t.Run("broker unreachable", func(t *testing.T) {
		b := newFakeBroker()
		b.dialErr = errors.New("connection refused")

		err := NewTopologyManager(b.dial, discard).Setup(context.Background(), issuanceTopology())
		assert.ErrorIs(t, err, domainErrors.ErrTopologyProvisioning)
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("queue declared with other arguments", func(t *testing.T) {
		b := newFakeBroker()
		b.queues["tickets.issuance"] = amqp.Table{"x-queue-type": "classic"}

		err := NewTopologyManager(b.dial, discard).Setup(context.Background(), issuanceTopology())
		assert.ErrorIs(t, err, domainErrors.ErrTopologyProvisioning)
		assert.ErrorContains(t, err, "different arguments")
		assert.Equal(t, 0, b.openConns)
	})

	t.Run("cancelled context", func(t *testing.T) {
		b := newFakeBroker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewTopologyManager(b.dial, discard).Setup(ctx, issuanceTopology())
		assert.ErrorIs(t, err, domainErrors.ErrTopologyProvisioning)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func rejected() event.Envelope {
	return event.New(event.OrderRejected{
		OrderID:    "o1",
		SessionID:  "s1",
		UserID:     "u1",
		EventID:    "e1",
		Reason:     "checkout.session.expired",
		RejectedAt: time.Now(),
	})
}

func newTestPublisher(t *testing.T, b *fakeBroker, fails uint32) *Publisher {
	t.Helper()
	p, err := NewPublisher(&fakeConn{b: b}, PublisherConfig{
		Exchange:            "ticketing",
		PublishTimeout:      time.Second,
		CircuitBreakerFails: fails,
	}, discard, nil)
	require.NoError(t, err)
	return p
}

func TestPublisher_PublishesEnvelope(t *testing.T) {
	b := newFakeBroker()
	p := newTestPublisher(t, b, 5)
	env := rejected()

	require.NoError(t, p.Publish(context.Background(), env))

	require.Len(t, b.published, 1)
	got := b.published[0]
	assert.Equal(t, "ticketing", got.exchange)
	assert.Equal(t, "payments.order.rejected", got.key)
	assert.Equal(t, env.ID().String(), got.msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	decoded, err := event.Decode(got.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, env.ID(), decoded.ID())

	var wire map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &wire))
	assert.Equal(t, "payments.order.rejected", wire["eventType"])
}

func TestPublisher_NackIsTransient(t *testing.T) {
	b := newFakeBroker()
	b.nackPublish = true
	p := newTestPublisher(t, b, 5)

	err := p.Publish(context.Background(), rejected())
	assert.ErrorIs(t, err, domainErrors.ErrPublishNotConfirmed)
	assert.ErrorIs(t, err, domainErrors.ErrTransient)
}

func TestPublisher_LateConfirmsDoNotBlockTheReader(t *testing.T) {
	b := newFakeBroker()
	b.holdConfirms = true
	p, err := NewPublisher(&fakeConn{b: b}, PublisherConfig{
		Exchange:            "ticketing",
		PublishTimeout:      5 * time.Millisecond,
		CircuitBreakerFails: 1000,
	}, discard, nil)
	require.NoError(t, err)

	// More timed-out publishes than the confirm buffer holds.
	for range confirmBuffer + 2 {
		err := p.Publish(context.Background(), rejected())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, domainErrors.ErrTransient)
	}

	released := make(chan struct{})
	go func() {
		b.releaseConfirms()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("late confirms blocked the confirm reader")
	}

	b.mu.Lock()
	b.holdConfirms = false
	b.mu.Unlock()
	require.NoError(t, p.Publish(context.Background(), rejected()), "the next publish matches its own confirm")
}

func TestPublisher_ClosedConfirmStream(t *testing.T) {
	b := newFakeBroker()
	b.holdConfirms = true
	p := newTestPublisher(t, b, 5)
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), rejected())
	assert.ErrorIs(t, err, domainErrors.ErrTransient)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newFakeBroker()
	b.publishErr = errors.New("channel closed")
	p := newTestPublisher(t, b, 2)

	for range 2 {
		err := p.Publish(context.Background(), rejected())
		assert.ErrorIs(t, err, domainErrors.ErrTransient)
	}

	b.publishErr = nil
	err := p.Publish(context.Background(), rejected())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domainErrors.ErrTransient)
	assert.Empty(t, b.published, "open breaker must not reach the broker")
}

func delivery(body []byte) (amqp.Delivery, *fakeAck) {
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}, ack
}

func TestConsumer_HandleDelivery(t *testing.T) {
	confirmedBody, err := json.Marshal(event.New(event.OrderConfirmed{
		OrderID: "o1", SessionID: "s1", UserID: "u1", EventID: "e1", Currency: "EUR", TotalCents: 100,
		LineItems:   []event.LineItem{{LineItemID: "li-1", TicketTypeID: "tt-1", PriceCents: 100, Currency: "EUR"}},
		ConfirmedAt: time.Now(),
	}))
	require.NoError(t, err)
	rejectedBody, err := json.Marshal(rejected())
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		outcome    Outcome
		acked      bool
		requeue    bool
	}{
		{"applied", confirmedBody, nil, OutcomeAcked, true, false},
		{"duplicate", confirmedBody, fmt.Errorf("issue: %w", domainErrors.ErrDuplicateTicket), OutcomeDuplicate, true, false},
		{"no handler", rejectedBody, nil, OutcomeIgnored, true, false},
		{"undecodable", []byte(`{"eventType":"payments.order.confirmed"`), nil, OutcomeRejected, false, false},
		{"unknown type", []byte(`{"eventType":"x.y","occurredAt":"2024-01-01T00:00:00Z","payload":{}}`), nil, OutcomeRejected, false, false},
		{"invalid content", confirmedBody, domainErrors.NewValidationError("lineItems", "empty"), OutcomeRejected, false, false},
		{"transient", confirmedBody, fmt.Errorf("insert: %w", domainErrors.ErrTransient), OutcomeRequeued, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := NewMux().Handle(event.TypeOrderConfirmed, HandlerFunc(func(ctx context.Context, env event.Envelope) error {
				return tt.handlerErr
			}))
			c := NewConsumer(&fakeConn{b: newFakeBroker()}, ConsumerConfig{Queue: "tickets.issuance"}, mux, discard, nil)

			d, ack := delivery(tt.body)
			assert.Equal(t, tt.outcome, c.HandleDelivery(context.Background(), d))
			assert.Equal(t, tt.acked, ack.acked)
			assert.Equal(t, !tt.acked, ack.nacked)
			assert.Equal(t, tt.requeue, ack.requeue)
		})
	}
}

func TestConsumer_RunUntilCancelled(t *testing.T) {
	b := newFakeBroker()
	handled := make(chan event.Envelope, 1)
	mux := NewMux().Handle(event.TypeOrderRejected, HandlerFunc(func(ctx context.Context, env event.Envelope) error {
		handled <- env
		return nil
	}))
	c := NewConsumer(&fakeConn{b: b}, ConsumerConfig{Queue: "q", Tag: "worker-1", Prefetch: 4}, mux, discard, nil)

	body, err := json.Marshal(rejected())
	require.NoError(t, err)
	d, ack := delivery(body)
	b.deliveries <- d

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case env := <-handled:
		assert.Equal(t, event.TypeOrderRejected, env.Type())
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not handled")
	}
	cancel()
	require.NoError(t, <-done)

	ack.mu.Lock()
	assert.True(t, ack.acked)
	ack.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 4, b.qos)
	assert.Equal(t, []string{"worker-1"}, b.cancelled)
}

func TestConsumer_RunFailsWhenStreamCloses(t *testing.T) {
	b := newFakeBroker()
	close(b.deliveries)
	c := NewConsumer(&fakeConn{b: b}, ConsumerConfig{Queue: "q"}, NewMux(), discard, nil)

	assert.ErrorContains(t, c.Run(context.Background()), "closed")
}

func TestMux_Types(t *testing.T) {
	noop := HandlerFunc(func(context.Context, event.Envelope) error { return nil })
	mux := NewMux().
		Handle(event.TypeTicketTypeCreated, noop).
		Handle(event.TypeTicketTypeUpdated, noop)

	assert.ElementsMatch(t, []string{"ticket-type.created", "ticket-type.updated"}, mux.Types())
}
