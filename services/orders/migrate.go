package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// schema cria as tabelas do checkout; users pertence ao provedor de identidade e é criada aqui só para a FK
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(100) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user'
	)`,
	`CREATE TABLE IF NOT EXISTS sweets (
		id VARCHAR(100) PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price NUMERIC NOT NULL CHECK (price >= 0),
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		image TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(100) PRIMARY KEY,
		user_id VARCHAR(100) REFERENCES users(id) ON DELETE SET NULL,
		total_amount NUMERIC NOT NULL CHECK (total_amount >= 0),
		address TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	)`,
	// sweet_id sem FK: a linha mantém a referência e o snapshot mesmo se o doce for removido
	`CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id VARCHAR(100) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		sweet_id VARCHAR(100) NOT NULL,
		item_name TEXT,
		price NUMERIC NOT NULL CHECK (price >= 0),
		qty INTEGER NOT NULL CHECK (qty > 0)
	)`,
	`ALTER TABLE order_items ADD COLUMN IF NOT EXISTS item_name TEXT`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS orders_created_idx ON orders (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id)`,
	`CREATE INDEX IF NOT EXISTS order_items_sweet_idx ON order_items (sweet_id)`,
}

// runMigrations aguarda o banco e aplica o schema idempotente numa transação
func runMigrations(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Info("⏳ Waiting for database (migrations)...", zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database after 30 attempts: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	logger.Info("✅ Schema migrated", zap.Int("statements", len(schema)))
	return nil
}
