package service

import "context"

// TransactionManager scopes repository calls to one database session.
// Repositories pick the session up from ctx.
type TransactionManager interface {
	// WithTransaction runs fn in a transaction that is retried as a whole on
	// serialization conflicts, so fn must not have side effects outside it.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// WithSession pins fn to one connection without a transaction or retries.
	WithSession(ctx context.Context, fn func(ctx context.Context) error) error
}
