package main

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// UseCaseConfig agrupa os parâmetros de negócio do serviço
type UseCaseConfig struct {
	MaxAttempts int
	TopN        int
	WindowDays  int
}

// OrderUseCase contém a lógica de checkout e de consulta de pedidos
type OrderUseCase struct {
	repository Repository
	tracer     trace.Tracer
	metrics    *checkoutMetrics
	logger     *zap.Logger
	cfg        UseCaseConfig

	newID      func() string
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	repository Repository,
	tracer trace.Tracer,
	metrics *checkoutMetrics,
	logger *zap.Logger,
	cfg UseCaseConfig,
) *OrderUseCase {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.TopN < 1 {
		cfg.TopN = 6
	}
	if cfg.WindowDays < 1 {
		cfg.WindowDays = 14
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderUseCase{
		repository: repository,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

// PlaceOrder executa o checkout completo: valida, trava o estoque, persiste e decrementa, tudo ou nada
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, principal Principal, req PlaceOrderRequest) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.PlaceOrder")
	defer span.End()

	started := time.Now()

	// 1. Validações antes de qualquer acesso ao banco
	lines, err := normalizeCart(req.Items)
	if err != nil {
		uc.fail(ctx, span, principal, err, started)
		return nil, err
	}
	address := normalizeAddress(req.Address)

	span.SetAttributes(
		attribute.String("order.user_id", principal.ID),
		attribute.Int("order.lines", len(lines)),
	)

	// 2. Cada tentativa é uma transação nova; só transaction_failed retentável é refeita
	attempt := 0
	order, err := backoff.Retry(ctx, func() (*Order, error) {
		attempt++
		span.SetAttributes(attribute.Int("order.attempt", attempt))

		order, err := uc.placeOrderOnce(ctx, principal, lines, address)
		if err == nil {
			return order, nil
		}
		if IsRetryable(err) && ctx.Err() == nil {
			uc.logger.Warn("checkout attempt failed, retrying",
				zap.String("user_id", principal.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(uc.newBackOff()),
		backoff.WithMaxTries(uint(uc.cfg.MaxAttempts)),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		err = classifyStorageError("place order", err)
		uc.fail(ctx, span, principal, err, started)
		return nil, err
	}

	units := 0
	for _, line := range order.Items {
		units += line.Qty
	}
	uc.metrics.recordSuccess(ctx, units, time.Since(started))

	span.SetAttributes(attribute.String("order.id", order.ID))
	span.SetStatus(codes.Ok, "order placed")

	uc.logger.Info("✅ order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", principal.ID),
		zap.Int("lines", len(order.Items)),
		zap.String("total_amount", order.TotalAmount.String()),
		zap.Int("attempts", attempt),
	)

	return order, nil
}

// placeOrderOnce é uma única tentativa transacional; qualquer erro faz rollback completo
func (uc *OrderUseCase) placeOrderOnce(ctx context.Context, principal Principal, lines []CartLine, address *string) (*Order, error) {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, classifyStorageError("begin transaction", err)
	}
	defer tx.Rollback()

	// Lock pessimista em todas as linhas do carrinho antes de ler preço e estoque
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ID
	}
	items, err := uc.repository.LockItemsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, classifyStorageError("lock sweets", err)
	}

	// Regra de negócio: estoque e preço lidos sob lock, nunca do cliente
	orderLines := make([]OrderLine, 0, len(lines))
	for _, line := range lines {
		item, ok := items[line.ID]
		if !ok {
			return nil, newItemNotFoundError(line.ID)
		}
		if item.Quantity < line.Qty {
			return nil, newInsufficientStockError(line.ID, line.Qty, item.Quantity)
		}
		orderLines = append(orderLines, OrderLine{
			ItemID: item.ID,
			Name:   item.Name,
			Price:  item.Price,
			Qty:    line.Qty,
		})
	}

	order := NewOrder(uc.newID(), principal.ID, address, orderLines)

	if err := uc.repository.InsertOrder(ctx, tx, order); err != nil {
		if isForeignKeyViolation(err) {
			return nil, newUnknownUserError(principal.ID, err)
		}
		return nil, classifyStorageError("insert order", err)
	}

	for i := range order.Items {
		line := &order.Items[i]
		if err := uc.repository.InsertOrderLine(ctx, tx, line); err != nil {
			return nil, classifyStorageError("insert order item", err)
		}
		if err := uc.repository.DecreaseStock(ctx, tx, line.ItemID, line.Qty); err != nil {
			return nil, classifyStorageError("decrease stock", err)
		}
	}

	// Cliente desconectou ou o timeout disparou: não confirma
	if err := ctx.Err(); err != nil {
		return nil, classifyStorageError("before commit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStorageError("commit", err)
	}

	return order, nil
}

func (uc *OrderUseCase) fail(ctx context.Context, span trace.Span, principal Principal, err error, started time.Time) {
	kind := KindOf(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	uc.metrics.recordFailure(ctx, kind, time.Since(started))

	fields := []zap.Field{
		zap.String("user_id", principal.ID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	switch kind {
	case KindTransactionFailed:
		uc.logger.Error("❌ checkout failed", fields...)
		return
	case KindUnknownUser:
		uc.logger.Warn("checkout by principal without users row", fields...)
		return
	}
	uc.logger.Info("checkout rejected", fields...)
}

// ListOrders lista os pedidos do próprio usuário ou, para admins, todos
func (uc *OrderUseCase) ListOrders(ctx context.Context, principal Principal, mineOnly bool) ([]Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.ListOrders")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.user_id", principal.ID),
		attribute.Bool("orders.mine", mineOnly),
	)

	if mineOnly {
		orders, err := uc.repository.ListOrdersByUser(ctx, principal.ID)
		if err != nil {
			span.RecordError(err)
			return nil, classifyStorageError("list user orders", err)
		}
		return orders, nil
	}

	if err := requireRole(principal, RoleAdmin); err != nil {
		return nil, err
	}

	orders, err := uc.repository.ListOrders(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, classifyStorageError("list orders", err)
	}
	return orders, nil
}

// GetOrder retorna o pedido com suas linhas se o principal for dono ou admin
func (uc *OrderUseCase) GetOrder(ctx context.Context, principal Principal, orderID string) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, classifyStorageError("get order", err)
	}

	if !canAccessOrder(principal, order) {
		return nil, ErrForbidden
	}

	lines, err := uc.repository.GetOrderLines(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, classifyStorageError("get order items", err)
	}
	order.Items = lines

	return order, nil
}

// ComputeStatistics calcula receita, itens vendidos, mais vendidos e a série diária
func (uc *OrderUseCase) ComputeStatistics(ctx context.Context, principal Principal) (*Statistics, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.ComputeStatistics")
	defer span.End()

	if err := requireRole(principal, RoleAdmin); err != nil {
		return nil, err
	}

	since := windowStart(uc.now(), uc.cfg.WindowDays)

	stats, err := uc.repository.GetStatistics(ctx, uc.cfg.TopN, since)
	if err != nil {
		span.RecordError(err)
		return nil, classifyStorageError("compute statistics", err)
	}
	stats.Daily = fillDailySeries(since, uc.cfg.WindowDays, stats.Daily)

	return stats, nil
}

const maxLineQty = math.MaxInt32

// normalizeCart valida o carrinho e soma quantidades de ids repetidos, mantendo a ordem de aparição
func normalizeCart(items []CartLine) ([]CartLine, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	index := make(map[string]int, len(items))
	lines := make([]CartLine, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			return nil, &OrderError{Kind: KindInvalidRequest, Message: "item id is required"}
		}
		if it.Qty <= 0 || it.Qty > maxLineQty {
			return nil, newInvalidQuantityError(id, it.Qty)
		}

		if i, ok := index[id]; ok {
			// qty é INTEGER no banco: a soma não pode passar de int32
			if lines[i].Qty > maxLineQty-it.Qty {
				return nil, newInvalidQuantityError(id, it.Qty)
			}
			lines[i].Qty += it.Qty
			continue
		}
		index[id] = len(lines)
		lines = append(lines, CartLine{ID: id, Qty: it.Qty})
	}

	return lines, nil
}

func normalizeAddress(address *string) *string {
	if address == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*address)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Ready verifica a conectividade com o banco
func (uc *OrderUseCase) Ready(ctx context.Context) error {
	return uc.repository.Ping(ctx)
}
