package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
)

// MockProvider serves checkout sessions from memory with optional latency
// and simulated outages.
type MockProvider struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	// settlement is reported for sessions still open, standing in for the
	// customer finishing or abandoning checkout.
	settlement SessionStatus

	mu       sync.RWMutex
	sessions map[string]Session
}

type MockProviderOption func(*MockProvider)

func WithFailureRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

// WithSettlement makes open sessions report status once looked up.
func WithSettlement(status SessionStatus) MockProviderOption {
	return func(p *MockProvider) { p.settlement = status }
}

func WithSessions(sessions ...Session) MockProviderOption {
	return func(p *MockProvider) {
		for _, s := range sessions {
			p.sessions[s.ID] = s
		}
	}
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:     name,
		latency:  10 * time.Millisecond,
		sessions: make(map[string]Session),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

// Put registers or replaces a session.
func (p *MockProvider) Put(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

// RegisterSession records an open session for s.OrderID. Registering the same
// session for the same order again is a no-op.
func (p *MockProvider) RegisterSession(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[s.ID]; ok {
		if existing.OrderID != s.OrderID {
			return fmt.Errorf("%s: session %s already belongs to order %s: %w", p.name, s.ID, existing.OrderID, domainErrors.ErrSessionMismatch)
		}
		return nil
	}
	if s.Status == "" {
		s.Status = SessionOpen
	}
	p.sessions[s.ID] = s
	return nil
}

func (p *MockProvider) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < p.failureRate {
		return nil, fmt.Errorf("%s: simulated outage: %w", p.name, domainErrors.ErrProviderUnavailable)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: session %s: %w", p.name, sessionID, domainErrors.ErrProviderNotFound)
	}
	if s.Status == SessionOpen && p.settlement != "" {
		s.Status = p.settlement
	}
	return &s, nil
}
