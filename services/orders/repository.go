package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository define a interface para operações de banco de dados de pedidos e estoque
type Repository interface {
	// BeginTx inicia a transação do checkout
	BeginTx(ctx context.Context) (Tx, error)

	// LockItemsForUpdate lê preço e estoque dos doces com lock pessimista (FOR UPDATE)
	LockItemsForUpdate(ctx context.Context, tx Tx, itemIDs []string) (map[string]*CatalogItem, error)

	// InsertOrder persiste o pedido e preenche CreatedAt
	InsertOrder(ctx context.Context, tx Tx, order *Order) error

	// InsertOrderLine persiste uma linha do pedido e preenche ID
	InsertOrderLine(ctx context.Context, tx Tx, line *OrderLine) error

	// DecreaseStock decrementa o estoque de um doce já travado
	DecreaseStock(ctx context.Context, tx Tx, itemID string, qty int) error

	// ListOrders lista todos os pedidos, mais recentes primeiro
	ListOrders(ctx context.Context) ([]Order, error)

	// ListOrdersByUser lista os pedidos de um usuário, mais recentes primeiro
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)

	// GetOrder busca um pedido pelo ID
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOrderLines busca as linhas de um pedido com o nome do doce
	GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error)

	// GetStatistics calcula os agregados de vendas sobre um único snapshot
	GetStatistics(ctx context.Context, topN int, since time.Time) (*Statistics, error)

	Ping(ctx context.Context) error
}

// Tx interface para transações
type Tx interface {
	Commit(ctx context.Context) error
	Rollback() error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback usa um contexto próprio para liberar os locks mesmo se o da requisição já expirou
func (t *PostgresTx) Rollback() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// PostgresOrderRepository implementa Repository usando PostgreSQL
type PostgresOrderRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewOrderRepository cria uma nova instância de PostgresOrderRepository
func NewOrderRepository(db *pgxpool.Pool, lockTimeout time.Duration) Repository {
	return &PostgresOrderRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// BeginTx inicia uma nova transação com lock_timeout local
func (r *PostgresOrderRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}

	if r.lockTimeout > 0 {
		// SET não aceita parâmetros; o valor é um inteiro em milissegundos
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(context.Background())
			return nil, fmt.Errorf("failed to set lock_timeout: %w", err)
		}
	}

	return &PostgresTx{tx: tx}, nil
}

// LockItemsForUpdate trava as linhas em ordem de id para que carrinhos concorrentes não entrem em deadlock
func (r *PostgresOrderRepository) LockItemsForUpdate(ctx context.Context, tx Tx, itemIDs []string) (map[string]*CatalogItem, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT id, name, category, price::text, quantity, image
		FROM sweets
		WHERE id = ANY($1::text[])
		ORDER BY id
		FOR UPDATE
	`

	rows, err := pgTx.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to lock sweets: %w", err)
	}
	defer rows.Close()

	items := make(map[string]*CatalogItem, len(itemIDs))
	for rows.Next() {
		var item CatalogItem
		var price string
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &price, &item.Quantity, &item.Image); err != nil {
			return nil, fmt.Errorf("failed to scan sweet: %w", err)
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price for sweet %s: %w", item.ID, err)
		}
		items[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock sweets: %w", err)
	}

	return items, nil
}

// InsertOrder cria o pedido; created_at vem do banco
func (r *PostgresOrderRepository) InsertOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx := tx.(*PostgresTx).tx

	err := pgTx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, total_amount, address)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING created_at
	`, order.ID, order.UserID, order.TotalAmount.String(), order.Address).Scan(&order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderLine cria a linha com preço e nome capturados
func (r *PostgresOrderRepository) InsertOrderLine(ctx context.Context, tx Tx, line *OrderLine) error {
	pgTx := tx.(*PostgresTx).tx

	err := pgTx.QueryRow(ctx, `
		INSERT INTO order_items (order_id, sweet_id, item_name, price, qty)
		VALUES ($1, $2, $3, $4::numeric, $5)
		RETURNING id
	`, line.OrderID, line.ItemID, line.Name, line.Price.String(), line.Qty).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// DecreaseStock diminui o estoque; a guarda quantity >= $1 protege o invariante mesmo sem o lock
func (r *PostgresOrderRepository) DecreaseStock(ctx context.Context, tx Tx, itemID string, qty int) error {
	pgTx := tx.(*PostgresTx).tx

	tag, err := pgTx.Exec(ctx, `
		UPDATE sweets
		SET quantity = quantity - $1
		WHERE id = $2 AND quantity >= $1
	`, qty, itemID)
	if err != nil {
		return fmt.Errorf("failed to decrease stock: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("failed to decrease stock for %s: row changed under lock", itemID)
	}
	return nil
}

const orderColumns = `id, user_id, total_amount::text, address, created_at`

// ListOrders lista todos os pedidos
func (r *PostgresOrderRepository) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByUser lista os pedidos de um usuário
func (r *PostgresOrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orders: %w", err)
	}
	return collectOrders(rows)
}

// GetOrder busca um pedido pelo ID
func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newOrderNotFoundError(orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrderLines resolve o nome atual do doce e recai no nome capturado se ele foi removido
func (r *PostgresOrderRepository) GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.sweet_id, COALESCE(s.name, oi.item_name, ''), oi.price::text, oi.qty
		FROM order_items oi
		LEFT JOIN sweets s ON s.id = oi.sweet_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	lines := []OrderLine{}
	for rows.Next() {
		var line OrderLine
		var price string
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Name, &price, &line.Qty); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if line.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price on order item %d: %w", line.ID, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetStatistics executa todas as agregações numa transação REPEATABLE READ somente leitura
func (r *PostgresOrderRepository) GetStatistics(ctx context.Context, topN int, since time.Time) (*Statistics, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin statistics snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	stats := &Statistics{Top: []TopItem{}, Daily: []DailyRevenue{}}

	var revenue string
	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(total_amount), 0)::text, COUNT(*) FROM orders`).
		Scan(&revenue, &stats.TotalOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to compute revenue: %w", err)
	}
	if stats.TotalRevenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, fmt.Errorf("invalid revenue: %w", err)
	}

	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0)::bigint FROM order_items`).Scan(&stats.TotalItems)
	if err != nil {
		return nil, fmt.Errorf("failed to compute items sold: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT oi.sweet_id,
		       COALESCE(MAX(s.name), MAX(oi.item_name)) AS name,
		       SUM(oi.qty)::bigint AS sold_qty,
		       SUM(oi.qty * oi.price)::text AS revenue
		FROM order_items oi
		LEFT JOIN sweets s ON s.id = oi.sweet_id
		GROUP BY oi.sweet_id
		ORDER BY sold_qty DESC, oi.sweet_id ASC
		LIMIT $1
	`, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top sellers: %w", err)
	}
	for rows.Next() {
		var item TopItem
		var itemRevenue string
		if err := rows.Scan(&item.ID, &item.Name, &item.SoldQty, &itemRevenue); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan top seller: %w", err)
		}
		if item.Revenue, err = decimal.NewFromString(itemRevenue); err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid revenue for %s: %w", item.ID, err)
		}
		stats.Top = append(stats.Top, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to compute top sellers: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day,
		       COALESCE(SUM(total_amount), 0)::text AS revenue
		FROM orders
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily revenue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var day DailyRevenue
		var dayRevenue string
		if err := rows.Scan(&day.Day, &dayRevenue); err != nil {
			return nil, fmt.Errorf("failed to scan daily revenue: %w", err)
		}
		if day.Revenue, err = decimal.NewFromString(dayRevenue); err != nil {
			return nil, fmt.Errorf("invalid revenue for %s: %w", day.Day, err)
		}
		stats.Daily = append(stats.Daily, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to compute daily revenue: %w", err)
	}

	return stats, nil
}

func (r *PostgresOrderRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	var total string
	if err := row.Scan(&order.ID, &order.UserID, &total, &order.Address, &order.CreatedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid total for order %s: %w", order.ID, err)
	}
	order.TotalAmount = amount
	return &order, nil
}
