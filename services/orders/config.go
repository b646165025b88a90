package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config reúne a configuração do serviço lida do ambiente
type Config struct {
	Env         string
	Port        string
	ServiceName string

	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabaseMaxConns int32
	DatabaseMinConns int32
	RunMigrations    bool

	JWTSecret string

	CheckoutTimeout     time.Duration
	CheckoutLockTimeout time.Duration
	CheckoutMaxAttempts int

	StatsTopN       int
	StatsWindowDays int

	OTelEnabled  bool
	OTLPEndpoint string
	LogLevel     string

	ShutdownTimeout time.Duration
}

// LoadConfig lê a configuração; valores inválidos falham o startup
func LoadConfig() (Config, error) {
	var errs []error

	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		Port:             getEnv("PORT", "8080"),
		ServiceName:      getEnv("SERVICE_NAME", "orders-service"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseName:     getEnv("DATABASE_NAME", "sweetshop"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	cfg.DatabaseMaxConns = int32(envInt("DATABASE_MAX_CONNS", 10, &errs))
	cfg.DatabaseMinConns = int32(envInt("DATABASE_MIN_CONNS", 2, &errs))
	cfg.RunMigrations = envBool("RUN_MIGRATIONS", true, &errs)
	cfg.CheckoutTimeout = envDuration("CHECKOUT_TIMEOUT", 10*time.Second, &errs)
	cfg.CheckoutLockTimeout = envDuration("CHECKOUT_LOCK_TIMEOUT", 5*time.Second, &errs)
	cfg.CheckoutMaxAttempts = envInt("CHECKOUT_MAX_ATTEMPTS", 3, &errs)
	cfg.StatsTopN = envInt("STATS_TOP_N", 6, &errs)
	cfg.StatsWindowDays = envInt("STATS_WINDOW_DAYS", 14, &errs)
	cfg.OTelEnabled = envBool("OTEL_ENABLED", true, &errs)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)

	if cfg.JWTSecret == "" {
		if cfg.Env != "dev" {
			errs = append(errs, errors.New("JWT_SECRET is required"))
		}
		cfg.JWTSecret = "secret"
	}
	if cfg.CheckoutMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CHECKOUT_MAX_ATTEMPTS must be >= 1, got %d", cfg.CheckoutMaxAttempts))
	}
	if cfg.StatsTopN < 1 || cfg.StatsWindowDays < 1 {
		errs = append(errs, errors.New("STATS_TOP_N and STATS_WINDOW_DAYS must be >= 1"))
	}
	if cfg.DatabaseMinConns > cfg.DatabaseMaxConns {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS (%d) exceeds DATABASE_MAX_CONNS (%d)", cfg.DatabaseMinConns, cfg.DatabaseMaxConns))
	}

	return cfg, errors.Join(errs...)
}

// DatabaseURL monta a DSN no formato aceito por pgx e lib/pq
func (c Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return defaultValue
	}
	return v
}

func envBool(key string, defaultValue bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return defaultValue
	}
	return v
}

func envDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return defaultValue
	}
	return v
}
