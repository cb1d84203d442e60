package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ctxKey is an unexported type for context keys in this package.
type ctxKey int

const (
	txKey ctxKey = iota
	sessionKey
)

// DBTX is the common query interface satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SessionSource hands out transactions and plain sessions. *pgxpool.Pool satisfies it.
type SessionSource interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// TxOptions controls the retry policy of a transactional unit of work.
type TxOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	IsoLevel   pgx.TxIsoLevel
	// AttemptTimeout bounds a single attempt; zero leaves attempts unbounded.
	AttemptTimeout time.Duration
}

// DefaultTxOptions returns the policy used when no overrides are given.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		MaxRetries:     3,
		BaseDelay:      50 * time.Millisecond,
		MaxDelay:       time.Second,
		IsoLevel:       pgx.RepeatableRead,
		AttemptTimeout: 10 * time.Second,
	}
}

// Validate enforces maxRetries >= 0 and 0 <= baseDelay <= maxDelay.
func (o TxOptions) Validate() error {
	if o.MaxRetries < 0 {
		return domainErrors.NewValidationError("maxRetries", "cannot be negative")
	}
	if o.BaseDelay < 0 {
		return domainErrors.NewValidationError("baseDelay", "cannot be negative")
	}
	if o.MaxDelay < o.BaseDelay {
		return domainErrors.NewValidationError("maxDelay", "must be greater than or equal to baseDelay")
	}
	if o.AttemptTimeout < 0 {
		return domainErrors.NewValidationError("attemptTimeout", "cannot be negative")
	}
	return nil
}

// TxOption overrides one field of the manager's default policy.
type TxOption func(*TxOptions)

func WithMaxRetries(n int) TxOption {
	return func(o *TxOptions) { o.MaxRetries = n }
}

func WithBaseDelay(d time.Duration) TxOption {
	return func(o *TxOptions) { o.BaseDelay = d }
}

func WithMaxDelay(d time.Duration) TxOption {
	return func(o *TxOptions) { o.MaxDelay = d }
}

func WithIsoLevel(level pgx.TxIsoLevel) TxOption {
	return func(o *TxOptions) { o.IsoLevel = level }
}

func WithAttemptTimeout(d time.Duration) TxOption {
	return func(o *TxOptions) { o.AttemptTimeout = d }
}

// TxManager implements transaction management with context propagation and
// bounded retries on transient conflicts.
type TxManager struct {
	source     SessionSource
	defaults   TxOptions
	logger     zerolog.Logger
	onRetry    func(attempt uint, err error)
	isRetrying func(error) bool
}

// NewTxManager creates a new transaction manager.
func NewTxManager(source SessionSource, defaults TxOptions, logger zerolog.Logger) *TxManager {
	return &TxManager{
		source:     source,
		defaults:   defaults,
		logger:     logger,
		isRetrying: IsRetryable,
	}
}

// OnRetry registers a hook called whenever an attempt fails with a retryable error.
func (m *TxManager) OnRetry(fn func(attempt uint, err error)) *TxManager {
	m.onRetry = fn
	return m
}

// WithTransaction executes fn inside a database transaction using the default policy.
// The transaction is committed if fn returns nil, rolled back otherwise.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteInTransaction(ctx, m, func(txCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(txCtx)
	})
	return err
}

// ExecuteInTransaction runs fn in a transaction and returns its result. Attempts
// failing with a retryable error are rolled back and retried with exponential
// backoff, at most MaxRetries times; the last error is returned unchanged.
//
// Cancelling ctx does not interrupt the unit of work or its retries. Context
// values still reach fn. Each attempt is bounded by AttemptTimeout instead.
func ExecuteInTransaction[T any](ctx context.Context, m *TxManager, fn func(ctx context.Context) (T, error), opts ...TxOption) (T, error) {
	var zero T
	ctx = context.WithoutCancel(ctx)
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return zero, err
	}

	return retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  uint(o.MaxRetries) + 1,
		InitialDelay: o.BaseDelay,
		MaxDelay:     o.MaxDelay,
		IsRetryable:  m.isRetrying,
		OnRetry: func(n uint, err error) {
			m.logger.Warn().Err(err).Uint("attempt", n).Int("max_retries", o.MaxRetries).Msg("Transaction attempt failed with retryable error")
			if m.onRetry != nil {
				m.onRetry(n, err)
			}
		},
	}, func() (T, error) {
		return runOnce(ctx, m, o, fn)
	})
}

func runOnce[T any](ctx context.Context, m *TxManager, o TxOptions, fn func(ctx context.Context) (T, error)) (result T, err error) {
	if o.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.AttemptTimeout)
		defer cancel()
	}

	tx, err := m.source.BeginTx(ctx, pgx.TxOptions{IsoLevel: o.IsoLevel})
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must run even when ctx is already cancelled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error().Err(rbErr).AnErr("cause", err).Msg("Rollback failed")
		}
	}()

	result, err = fn(context.WithValue(ctx, txKey, tx))
	if err != nil {
		return result, err
	}

	if err = tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return result, nil
}

// WithSession runs fn on a dedicated pooled connection without a transaction
// and without retries. The connection is released on every exit path.
func (m *TxManager) WithSession(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := m.source.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer conn.Release()

	return fn(context.WithValue(ctx, sessionKey, conn))
}

// IsRetryable classifies transient failures: serialization conflicts,
// deadlocks, connection failures that happened before anything was sent, and
// errors explicitly marked transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domainErrors.ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// ConnFromCtx returns the transaction or session from context if present, otherwise the pool.
func ConnFromCtx(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	if conn, ok := ctx.Value(sessionKey).(*pgxpool.Conn); ok {
		return conn
	}
	return pool
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey).(pgx.Tx)
	return ok
}
