package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("orders service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	// Initialize OpenTelemetry
	tracer := tracenoop.NewTracerProvider().Tracer(cfg.ServiceName)
	meter := metricnoop.NewMeterProvider().Meter(cfg.ServiceName)

	if cfg.OTelEnabled {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()

		mp, err := initMetrics(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				logger.Warn("Error shutting down meter", zap.Error(err))
			}
		}()

		tracer = tp.Tracer(cfg.ServiceName)
		meter = mp.Meter(cfg.ServiceName)
	}

	if cfg.RunMigrations {
		if err := runMigrations(ctx, cfg.DatabaseURL(), logger); err != nil {
			return err
		}
	}

	// Initialize database
	dbPool, err := initDB(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbPool.Close()

	metrics, err := newCheckoutMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create checkout metrics: %w", err)
	}

	// Initialize dependencies
	repository := NewOrderRepository(dbPool, cfg.CheckoutLockTimeout)
	useCase := NewOrderUseCase(repository, tracer, metrics, logger, UseCaseConfig{
		MaxAttempts: cfg.CheckoutMaxAttempts,
		TopN:        cfg.StatsTopN,
		WindowDays:  cfg.StatsWindowDays,
	})
	handler := NewOrderHandler(useCase, cfg.CheckoutTimeout)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(RouterDeps{
		Handler:     handler,
		Verifier:    NewTokenVerifier(cfg.JWTSecret),
		Logger:      logger,
		Metrics:     NewServerMetrics("orders"),
		ServiceName: cfg.ServiceName,
		Tracing:     cfg.OTelEnabled,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Orders Service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful drain: aguarda os checkouts em andamento antes de fechar o pool
	logger.Info("Shutting down orders service", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func initDB(ctx context.Context, cfg Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = cfg.DatabaseMaxConns
	config.MinConns = cfg.DatabaseMinConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ Connected to sweetshop database with connection pool",
				zap.Int32("max_conns", config.MaxConns))
			return pool, nil
		}
		logger.Info("⏳ Waiting for database...", zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}
