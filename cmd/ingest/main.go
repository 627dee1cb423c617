package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/config"
	"github.com/vnmchuo/llm-cost-tracker/internal/auth"
	"github.com/vnmchuo/llm-cost-tracker/internal/billing"
	"github.com/vnmchuo/llm-cost-tracker/internal/ingest"
	"github.com/vnmchuo/llm-cost-tracker/internal/seeder"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
	"github.com/vnmchuo/llm-cost-tracker/pkg/ratelimit"
)

const serviceName = "llm-cost-tracker"

// tracing holds the tracer together with its exporter shutdown.
type tracing struct {
	tracer   trace.Tracer
	shutdown func()
}

func main() {
	container := buildContainer()

	err := container.Invoke(run)
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}

	// Observability
	if err := container.Provide(telemetry.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func(cfg *config.Config, _ *zap.Logger) (*tracing, error) {
		shutdown, err := telemetry.InitTracer(serviceName, cfg)
		if err != nil {
			return nil, err
		}
		return &tracing{tracer: otel.GetTracerProvider().Tracer(serviceName), shutdown: shutdown}, nil
	}); err != nil {
		log.Fatalf("Failed to provide tracer: %v", err)
	}
	if err := container.Provide(func() *telemetry.Metrics {
		return telemetry.NewMetrics(prometheus.DefaultRegisterer)
	}); err != nil {
		log.Fatalf("Failed to provide metrics: %v", err)
	}

	// Storage
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("PostgreSQL connected")
		return pool, nil
	}); err != nil {
		log.Fatalf("Failed to provide postgres pool: %v", err)
	}
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		logger.Info("Redis connected")
		return rdb, nil
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}

	// Auth
	if err := container.Provide(func(pool *pgxpool.Pool) auth.Store {
		return auth.NewPostgresStore(pool)
	}); err != nil {
		log.Fatalf("Failed to provide project store: %v", err)
	}
	if err := container.Provide(func(store auth.Store, rdb *redis.Client, cfg *config.Config) *auth.Lookup {
		return auth.NewLookup(store, rdb, cfg.AuthCacheTTL)
	}); err != nil {
		log.Fatalf("Failed to provide project lookup: %v", err)
	}
	if err := container.Provide(auth.NewMiddleware); err != nil {
		log.Fatalf("Failed to provide auth middleware: %v", err)
	}

	// Billing
	if err := container.Provide(func(pool *pgxpool.Pool) billing.Store {
		return billing.NewPostgresStore(pool)
	}); err != nil {
		log.Fatalf("Failed to provide request store: %v", err)
	}
	if err := container.Provide(func(pool *pgxpool.Pool) billing.PricingStore {
		return billing.NewPostgresPricingStore(pool)
	}); err != nil {
		log.Fatalf("Failed to provide pricing store: %v", err)
	}

	// Rate limiting
	if err := container.Provide(func(rdb *redis.Client, cfg *config.Config) *ratelimit.Limiter {
		return ratelimit.NewLimiter(rdb, cfg.IngestRateLimitRPM)
	}); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// Ingest
	if err := container.Provide(func(
		pricing billing.PricingStore,
		store billing.Store,
		metrics *telemetry.Metrics,
		t *tracing,
	) *ingest.Service {
		return ingest.NewService(pricing, store, metrics, t.tracer)
	}); err != nil {
		log.Fatalf("Failed to provide ingest service: %v", err)
	}
	if err := container.Provide(ingest.NewHandler); err != nil {
		log.Fatalf("Failed to provide ingest handler: %v", err)
	}
	if err := container.Provide(func(h *ingest.Handler, mw auth.Middleware, cfg *config.Config) http.Handler {
		return ingest.NewRouter(h, mw, &cfg.CORS, prometheus.DefaultGatherer)
	}); err != nil {
		log.Fatalf("Failed to provide router: %v", err)
	}

	return container
}

func run(
	cfg *config.Config,
	logger *zap.Logger,
	t *tracing,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	projects auth.Store,
	router http.Handler,
) error {
	defer logger.Sync() //nolint:errcheck
	defer t.shutdown()
	defer pool.Close()
	defer rdb.Close()

	if cfg.RunSeed {
		// Errors are logged by the seeder; an existing project is fine.
		_, _ = seeder.SeedTestProject(context.Background(), projects)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("LLM cost tracker starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
