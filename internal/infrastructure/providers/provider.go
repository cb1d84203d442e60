package providers

import (
	"context"
)

// SessionStatus is the provider-side state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// Session is what the payment provider knows about a checkout session.
type Session struct {
	ID      string
	OrderID string // metadata attached at checkout creation
	Status  SessionStatus
}

// Provider is the interface external payment providers implement.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// GetSession fetches a checkout session by id.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// SessionRegistry is implemented by providers that accept order metadata for
// a checkout session created on the client side.
type SessionRegistry interface {
	RegisterSession(ctx context.Context, s Session) error
}
