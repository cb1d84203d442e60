package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the per-provider circuit breaker.
type BreakerSettings struct {
	Threshold uint32
	Timeout   time.Duration
}

type Factory struct {
	providers       map[string]Provider
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Session]
	settings        BreakerSettings
	metrics         *observability.Metrics
}

func NewFactory(settings BreakerSettings, metrics *observability.Metrics, providersList ...Provider) *Factory {
	if settings.Threshold == 0 {
		settings.Threshold = 10
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	f := &Factory{
		providers:       make(map[string]Provider),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Session]),
		settings:        settings,
		metrics:         metrics,
	}
	for _, p := range providersList {
		f.Register(p)
	}
	return f
}

func (f *Factory) Register(p Provider) {
	f.providers[p.Name()] = p
	f.circuitBreakers[p.Name()] = gobreaker.NewCircuitBreaker[*Session](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     f.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= f.settings.Threshold && failureRatio >= 0.6
		},
		// An unknown session is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrProviderNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.metrics != nil {
				f.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

func (f *Factory) Get(name string) (Provider, *gobreaker.CircuitBreaker[*Session], error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return p, f.circuitBreakers[name], nil
}

// Verifier confirms a webhook claim against the provider's own view of the session.
type Verifier struct {
	factory  *Factory
	provider string
	timeout  time.Duration
}

func NewVerifier(factory *Factory, provider string, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{factory: factory, provider: provider, timeout: timeout}
}

// VerifySession checks that sessionID belongs to orderID and is in the expected
// state. Outages and an open breaker are reported as transient.
func (v *Verifier) VerifySession(ctx context.Context, orderID, sessionID string, expected SessionStatus) error {
	p, breaker, err := v.factory.Get(v.provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	s, err := breaker.Execute(func() (*Session, error) {
		return p.GetSession(ctx, sessionID)
	})
	result := "ok"
	defer func() {
		if v.factory.metrics != nil {
			v.factory.metrics.CircuitBreakerRequests.WithLabelValues(v.provider, result).Inc()
		}
	}()
	if err != nil {
		result = "error"
		if errors.Is(err, domainErrors.ErrProviderNotFound) {
			return fmt.Errorf("session %s: %w", sessionID, domainErrors.ErrSessionMismatch)
		}
		return fmt.Errorf("verify session %s: %w: %w", sessionID, domainErrors.ErrTransient, err)
	}

	if s.OrderID != orderID {
		result = "mismatch"
		return domainErrors.NewDomainError("session_mismatch",
			fmt.Sprintf("session %s belongs to order %q, not %q", sessionID, s.OrderID, orderID),
			domainErrors.ErrSessionMismatch)
	}
	if s.Status != expected {
		result = "mismatch"
		return domainErrors.NewDomainError("session_mismatch",
			fmt.Sprintf("session %s is %s, webhook claims %s", sessionID, s.Status, expected),
			domainErrors.ErrSessionMismatch)
	}
	return nil
}
