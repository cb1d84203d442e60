package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/infrastructure/broker"
	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/cassiomorais/ticketing/internal/infrastructure/providers"
	infraRedis "github.com/cassiomorais/ticketing/internal/infrastructure/redis"
	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/cassiomorais/ticketing/pkg/saga"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds the dependencies shared by the api and worker processes.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Broker    broker.Connection
	Publisher *broker.Publisher
	TxManager *postgres.TxManager

	dial     broker.Dialer
	provider *providers.MockProvider
	tracer   *sdktrace.TracerProvider
	startup  *saga.Saga
}

// New loads the configuration and connects to Postgres, Redis and the broker.
// A failure part way releases whatever was already acquired.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, serviceName, os.Stdout)
	logger.Info().Str("delivery", cfg.Events.Delivery).Msg("Starting")

	app := &App{
		Config: cfg,
		Logger: logger,
		dial:   broker.NewDialer(cfg.Broker.ConnectTimeout),
	}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracer = tp
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)

	app.startup = saga.New(serviceName + "-startup").
		AddStep(saga.Step{
			Name: "postgres",
			Execute: func(ctx context.Context) error {
				pool, err := postgres.NewPool(ctx, &cfg.Database)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				app.Pool = pool
				logger.Info().Msg("Connected to PostgreSQL")
				return nil
			},
			Compensate: func(context.Context) error {
				app.Pool.Close()
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "redis",
			Execute: func(ctx context.Context) error {
				client, err := infraRedis.NewClient(ctx, &cfg.Redis)
				if err != nil {
					return fmt.Errorf("connect to redis: %w", err)
				}
				app.Redis = client
				logger.Info().Msg("Connected to Redis")
				return nil
			},
			Compensate: func(context.Context) error {
				return app.Redis.Close()
			},
		}).
		AddStep(saga.Step{
			Name: "broker",
			Execute: func(context.Context) error {
				conn, err := app.dial(cfg.Broker.URL)
				if err != nil {
					return err
				}
				app.Broker = conn
				logger.Info().Msg("Connected to broker")
				return nil
			},
			Compensate: func(context.Context) error {
				return app.Broker.Close()
			},
		}).
		AddStep(saga.Step{
			Name: "publisher",
			Execute: func(context.Context) error {
				pub, err := broker.NewPublisher(app.Broker, broker.PublisherConfig{
					Exchange:              cfg.Broker.Exchange,
					PublishTimeout:        cfg.Broker.PublishTimeout,
					CircuitBreakerFails:   cfg.Broker.CircuitBreakerFails,
					CircuitBreakerTimeout: cfg.Broker.CircuitBreakerTimeout,
				}, logger, app.Metrics)
				if err != nil {
					return err
				}
				app.Publisher = pub
				return nil
			},
			Compensate: func(context.Context) error {
				return app.Publisher.Close()
			},
		})

	if err := app.startup.Execute(ctx); err != nil {
		app.shutdownTracer()
		return nil, err
	}

	app.TxManager = postgres.NewTxManager(app.Pool, postgres.TxOptions{
		MaxRetries:     cfg.Transaction.MaxRetries,
		BaseDelay:      cfg.Transaction.BaseDelay,
		MaxDelay:       cfg.Transaction.MaxDelay,
		IsoLevel:       postgres.DefaultTxOptions().IsoLevel,
		AttemptTimeout: cfg.Transaction.AttemptTimeout,
	}, observability.Component(logger, "tx")).OnRetry(func(_ uint, err error) {
		app.Metrics.TxRetries.WithLabelValues(retryReason(err)).Inc()
	})

	return app, nil
}

// SetupTopology declares every topology on a short-lived connection of its own.
// Any failure is fatal for the process.
func (a *App) SetupTopology(ctx context.Context, topologies ...broker.Topology) error {
	tm := broker.NewTopologyManager(a.dial, observability.Component(a.Logger, "topology"))
	for _, t := range topologies {
		if err := tm.Setup(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// SessionVerifier returns the provider-backed webhook check, or nil when
// session verification is disabled.
func (a *App) SessionVerifier() service.SessionVerifier {
	if !a.Config.Webhook.VerifySession {
		return nil
	}
	pc := a.Config.Provider
	factory := providers.NewFactory(providers.BreakerSettings{
		Threshold: pc.CircuitBreakerThreshold,
		Timeout:   pc.CircuitBreakerTimeout,
	}, a.Metrics, a.checkoutProvider())
	a.Logger.Info().Str("provider", pc.Name).Msg("Webhook session verification enabled")
	return providers.NewVerifier(factory, pc.Name, pc.Timeout)
}

// SessionRegistry returns where order intake attaches orders to their
// checkout sessions, or nil when session verification is disabled. It shares
// the provider SessionVerifier reads from.
func (a *App) SessionRegistry() providers.SessionRegistry {
	if !a.Config.Webhook.VerifySession {
		return nil
	}
	return a.checkoutProvider()
}

func (a *App) checkoutProvider() *providers.MockProvider {
	if a.provider == nil {
		pc := a.Config.Provider
		a.provider = providers.NewMockProvider(pc.Name,
			providers.WithSettlement(providers.SessionStatus(pc.MockSettlement)))
	}
	return a.provider
}

// Close releases the broker, Redis and Postgres in reverse acquisition order
// and flushes pending spans. Calling it twice is harmless.
func (a *App) Close() {
	if err := a.startup.Compensate(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("Errors while releasing resources")
	}
	a.shutdownTracer()
}

func (a *App) shutdownTracer() {
	if a.tracer == nil {
		return
	}
	if err := observability.Shutdown(context.Background(), a.tracer); err != nil {
		a.Logger.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	a.tracer = nil
}

// retryReason labels a retried transaction attempt.
func retryReason(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return pgErr.Code
	case errors.Is(err, domainErrors.ErrTransient):
		return "transient"
	default:
		return "connection"
	}
}
