package broker

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type binding struct {
	queue, key, exchange string
}

// fakeBroker is an in-memory stand-in for a RabbitMQ node with
// idempotent declarations and publisher confirms.
type fakeBroker struct {
	mu sync.Mutex

	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  map[binding]struct{}

	published   []fakePublish
	publishErr  error
	nackPublish bool
	// holdConfirms parks confirms in held until releaseConfirms.
	holdConfirms bool
	held         []amqp.Confirmation
	confirmSink  chan amqp.Confirmation

	dials      int
	dialErr    error
	openConns  int
	qos        int
	cancelled  []string
	deliveries chan amqp.Delivery
}

type fakePublish struct {
	exchange, key string
	msg           amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges:  make(map[string]string),
		queues:     make(map[string]amqp.Table),
		bindings:   make(map[binding]struct{}),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (b *fakeBroker) dial(url string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	b.openConns++
	return &fakeConn{b: b}, nil
}

// route returns the queues a message published to exchange with key reaches,
// using topic exchange matching.
func (b *fakeBroker) route(exchange, key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var queues []string
	for bd := range b.bindings {
		if bd.exchange == exchange && topicMatch(strings.Split(bd.key, "."), strings.Split(key, ".")) && !slices.Contains(queues, bd.queue) {
			queues = append(queues, bd.queue)
		}
	}
	slices.Sort(queues)
	return queues
}

func topicMatch(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if topicMatch(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && topicMatch(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && topicMatch(pattern[1:], words[1:])
	}
}

type fakeConn struct {
	b *fakeBroker
}

func (c *fakeConn) Channel() (Channel, error) {
	return &fakeChannel{b: c.b}, nil
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.openConns--
	return nil
}

type fakeChannel struct {
	b         *fakeBroker
	confirms  chan amqp.Confirmation
	tag       uint64
	closeOnce sync.Once
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if existing, ok := ch.b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type'"}
	}
	ch.b.exchanges[name] = kind
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if existing, ok := ch.b.queues[name]; ok && !reflect.DeepEqual(existing, args) {
		return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg"}
	}
	ch.b.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.bindings[binding{queue: name, key: key, exchange: exchange}] = struct{}{}
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.qos = prefetchCount
	return nil
}

func (ch *fakeChannel) Confirm(noWait bool) error { return nil }

func (ch *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	ch.confirms = confirm
	ch.b.mu.Lock()
	ch.b.confirmSink = confirm
	ch.b.mu.Unlock()
	return confirm
}

// releaseConfirms delivers the held confirms the way the amqp091 reader
// goroutine does: blocking until the publisher takes each one.
func (b *fakeBroker) releaseConfirms() {
	b.mu.Lock()
	held, sink := b.held, b.confirmSink
	b.held = nil
	b.mu.Unlock()
	for _, c := range held {
		sink <- c
	}
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	ch.b.mu.Lock()
	if ch.b.publishErr != nil {
		ch.b.mu.Unlock()
		return ch.b.publishErr
	}
	ch.b.published = append(ch.b.published, fakePublish{exchange: exchange, key: key, msg: msg})
	ch.tag++
	c := amqp.Confirmation{DeliveryTag: ch.tag, Ack: !ch.b.nackPublish}
	if ch.b.holdConfirms {
		ch.b.held = append(ch.b.held, c)
		ch.b.mu.Unlock()
		return nil
	}
	ch.b.mu.Unlock()

	if ch.confirms != nil {
		ch.confirms <- c
	}
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return ch.b.deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.cancelled = append(ch.b.cancelled, consumer)
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.closeOnce.Do(func() {
		if ch.confirms != nil {
			close(ch.confirms)
		}
	})
	return nil
}

// fakeAck records how a delivery was settled.
type fakeAck struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
