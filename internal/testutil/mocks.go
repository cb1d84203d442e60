package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/outbox"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/cassiomorais/ticketing/internal/infrastructure/providers"
	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/google/uuid"
)

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory order.Repository. Stored orders are
// copied in and out so callers only see changes they persisted.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[string]order.Order

	CreateFunc       func(ctx context.Context, o *order.Order) error
	GetByIDFunc      func(ctx context.Context, id string) (*order.Order, error)
	GetForUpdateFunc func(ctx context.Context, id string) (*order.Order, error)
	UpdateStatusFunc func(ctx context.Context, o *order.Order) error
	ListFunc         func(ctx context.Context, filter order.ListFilter, page pagination.Params) ([]*order.Order, int, error)
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[string]order.Order)}
}

// AddOrder pre-populates the mock with an order.
func (m *MockOrderRepository) AddOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

// Stored returns the persisted copy of an order (test helper, no context needed).
func (m *MockOrderRepository) Stored(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	c := cloneOrder(&o)
	return &c
}

func (m *MockOrderRepository) Create(ctx context.Context, o *order.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.SessionID == o.SessionID {
			return domainErrors.NewDomainError("duplicate_session", "order already exists for session "+o.SessionID, domainErrors.ErrDuplicateIdempotencyKey)
		}
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockOrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	if m.GetForUpdateFunc != nil {
		return m.GetForUpdateFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockOrderRepository) get(id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	c := cloneOrder(&o)
	return &c, nil
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[o.ID]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	if stored.Status != order.StatusPending {
		return domainErrors.NewDomainError("invalid_transition", "order "+o.ID+" is no longer pending", domainErrors.ErrInvalidStateTransition)
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *MockOrderRepository) List(ctx context.Context, filter order.ListFilter, page pagination.Params) ([]*order.Order, int, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter, page)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*order.Order
	for _, o := range m.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		c := cloneOrder(&o)
		matched = append(matched, &c)
	}
	slices.SortFunc(matched, func(a, b *order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	items, total := paginate(matched, page)
	return items, total, nil
}

func cloneOrder(o *order.Order) order.Order {
	c := *o
	c.LineItems = slices.Clone(o.LineItems)
	if o.ResolvedAt != nil {
		t := *o.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// --- Ticket Repository Mock ---

// MockTicketRepository is an in-memory ticket.Repository enforcing one ticket
// per (order, line item).
type MockTicketRepository struct {
	mu      sync.Mutex
	tickets []*ticket.Ticket
	byLine  map[string]*ticket.Ticket

	CreateFunc func(ctx context.Context, t *ticket.Ticket) error
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{byLine: make(map[string]*ticket.Ticket)}
}

func (m *MockTicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := t.OrderID + "/" + t.LineItemID
	if _, exists := m.byLine[key]; exists {
		return fmt.Errorf("ticket for %s: %w", key, domainErrors.ErrDuplicateTicket)
	}
	c := *t
	m.byLine[key] = &c
	m.tickets = append(m.tickets, &c)
	return nil
}

func (m *MockTicketRepository) IsDuplicateError(err error) bool {
	return errors.Is(err, domainErrors.ErrDuplicateTicket)
}

func (m *MockTicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.ID == id {
			c := *t
			return &c, nil
		}
	}
	return nil, domainErrors.ErrTicketNotFound
}

func (m *MockTicketRepository) ListByOrder(ctx context.Context, orderID string, page pagination.Params) ([]*ticket.Ticket, int, error) {
	return m.filter(func(t *ticket.Ticket) bool { return t.OrderID == orderID }, page)
}

func (m *MockTicketRepository) ListByUser(ctx context.Context, userID string, page pagination.Params) ([]*ticket.Ticket, int, error) {
	return m.filter(func(t *ticket.Ticket) bool { return t.UserID == userID }, page)
}

func (m *MockTicketRepository) filter(keep func(*ticket.Ticket) bool, page pagination.Params) ([]*ticket.Ticket, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*ticket.Ticket
	for _, t := range m.tickets {
		if keep(t) {
			c := *t
			matched = append(matched, &c)
		}
	}
	items, total := paginate(matched, page)
	return items, total, nil
}

// Count returns the number of stored tickets.
func (m *MockTicketRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

// --- Ticket Type Repository Mock ---

// MockTicketTypeRepository is an in-memory ticket.TypeRepository with version checks.
type MockTicketTypeRepository struct {
	mu    sync.Mutex
	types map[uuid.UUID]ticket.TicketType

	IncrementSoldFunc func(ctx context.Context, id uuid.UUID, n int) (*ticket.TicketType, error)
}

func NewMockTicketTypeRepository() *MockTicketTypeRepository {
	return &MockTicketTypeRepository{types: make(map[uuid.UUID]ticket.TicketType)}
}

// AddTicketType pre-populates the mock with a ticket type.
func (m *MockTicketTypeRepository) AddTicketType(tt *ticket.TicketType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[tt.ID] = *tt
}

func (m *MockTicketTypeRepository) Create(ctx context.Context, tt *ticket.TicketType) error {
	m.AddTicketType(tt)
	return nil
}

func (m *MockTicketTypeRepository) GetByID(ctx context.Context, id uuid.UUID) (*ticket.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.types[id]
	if !ok {
		return nil, domainErrors.ErrTicketTypeNotFound
	}
	return &tt, nil
}

func (m *MockTicketTypeRepository) Update(ctx context.Context, tt *ticket.TicketType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.types[tt.ID]
	if !ok {
		return domainErrors.ErrTicketTypeNotFound
	}
	if stored.Version != tt.Version-1 {
		return domainErrors.ErrOptimisticLockFailed
	}
	m.types[tt.ID] = *tt
	return nil
}

func (m *MockTicketTypeRepository) IncrementSold(ctx context.Context, id uuid.UUID, n int) (*ticket.TicketType, error) {
	if m.IncrementSoldFunc != nil {
		return m.IncrementSoldFunc(ctx, id, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.types[id]
	if !ok {
		return nil, domainErrors.ErrTicketTypeNotFound
	}
	tt.Sold += n
	tt.Version++
	m.types[id] = tt
	return &tt, nil
}

func (m *MockTicketTypeRepository) ListByEvent(ctx context.Context, eventID string, page pagination.Params) ([]*ticket.TicketType, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*ticket.TicketType
	for _, tt := range m.types {
		if tt.EventID == eventID {
			c := tt
			matched = append(matched, &c)
		}
	}
	slices.SortFunc(matched, func(a, b *ticket.TicketType) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	items, total := paginate(matched, page)
	return items, total, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn directly. Transactions are serialized, which
// stands in for the row lock GetForUpdate takes in Postgres.
type MockTransactionManager struct {
	mu sync.Mutex

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error

	sessions atomic.Int64
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

func (m *MockTransactionManager) WithSession(ctx context.Context, fn func(ctx context.Context) error) error {
	m.sessions.Add(1)
	return fn(ctx)
}

// SessionCount reports how many WithSession scopes were opened.
func (m *MockTransactionManager) SessionCount() int {
	return int(m.sessions.Load())
}

// --- Outbox Repository Mock ---

// MockOutboxRepository records inserted entries.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	return nil
}

// Entries returns the recorded entries.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// EventTypes returns the event types of the recorded entries in insertion order.
func (m *MockOutboxRepository) EventTypes() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]event.Type, 0, len(m.entries))
	for _, e := range m.entries {
		types = append(types, e.EventType)
	}
	return types
}

// --- Event Publisher Mock ---

// MockEventPublisher records published envelopes.
type MockEventPublisher struct {
	mu        sync.Mutex
	published []event.Envelope

	PublishFunc func(ctx context.Context, env event.Envelope) error
}

func (m *MockEventPublisher) Publish(ctx context.Context, env event.Envelope) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, env); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, env)
	return nil
}

func (m *MockEventPublisher) Published() []event.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.published)
}

// --- Session Verifier Mock ---

type MockSessionVerifier struct {
	VerifySessionFunc func(ctx context.Context, orderID, sessionID string, expected providers.SessionStatus) error
}

func (m *MockSessionVerifier) VerifySession(ctx context.Context, orderID, sessionID string, expected providers.SessionStatus) error {
	if m.VerifySessionFunc != nil {
		return m.VerifySessionFunc(ctx, orderID, sessionID, expected)
	}
	return nil
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore keeps stored responses in memory, ignoring expiry.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (m *MockIdempotencyStore) Get(ctx context.Context, scope, key string) (*postgres.IdempotencyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[scope+"|"+key], nil
}

func (m *MockIdempotencyStore) Set(ctx context.Context, entry *postgres.IdempotencyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Scope+"|"+entry.Key] = entry
	return nil
}

func paginate[T any](items []T, page pagination.Params) ([]T, int) {
	total := len(items)
	if page.Offset >= total {
		return nil, total
	}
	end := min(page.Offset+page.Limit, total)
	return items[page.Offset:end], total
}
