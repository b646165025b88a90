package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind identifica de forma estável a classe de um erro do domínio de pedidos
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindNoItems           ErrorKind = "no_items"
	KindInvalidQuantity   ErrorKind = "invalid_quantity"
	KindItemNotFound      ErrorKind = "item_not_found"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindOrderNotFound     ErrorKind = "order_not_found"
	KindForbidden         ErrorKind = "forbidden"
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindUnknownUser       ErrorKind = "unknown_user"
	KindTransactionFailed ErrorKind = "transaction_failed"
)

// OrderError é o erro retornado por todas as operações de pedidos
type OrderError struct {
	Kind      ErrorKind
	Message   string
	ItemID    string
	Requested int
	Available int
	Retryable bool
	Err       error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// Is compara apenas o Kind, permitindo errors.Is(err, ErrInsufficientStock)
func (e *OrderError) Is(target error) bool {
	var t *OrderError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinelas por Kind
var (
	ErrInvalidRequest    = &OrderError{Kind: KindInvalidRequest, Message: "invalid request body"}
	ErrNoItems           = &OrderError{Kind: KindNoItems, Message: "No items"}
	ErrInvalidQuantity   = &OrderError{Kind: KindInvalidQuantity, Message: "quantity must be a positive integer"}
	ErrItemNotFound      = &OrderError{Kind: KindItemNotFound, Message: "sweet not found"}
	ErrInsufficientStock = &OrderError{Kind: KindInsufficientStock, Message: "Insufficient stock"}
	ErrOrderNotFound     = &OrderError{Kind: KindOrderNotFound, Message: "Not found"}
	ErrForbidden         = &OrderError{Kind: KindForbidden, Message: "Forbidden"}
	ErrUnauthenticated   = &OrderError{Kind: KindUnauthenticated, Message: "Unauthorized"}
	ErrUnknownUser       = &OrderError{Kind: KindUnknownUser, Message: "Unknown user"}
	ErrTransactionFailed = &OrderError{Kind: KindTransactionFailed, Message: "transaction failed"}
)

func newInvalidRequestError(err error) *OrderError {
	return &OrderError{Kind: KindInvalidRequest, Message: "invalid request body", Err: err}
}

func newInvalidQuantityError(itemID string, qty int) *OrderError {
	return &OrderError{
		Kind:      KindInvalidQuantity,
		Message:   fmt.Sprintf("Invalid quantity %d for %s", qty, itemID),
		ItemID:    itemID,
		Requested: qty,
	}
}

func newItemNotFoundError(itemID string) *OrderError {
	return &OrderError{
		Kind:    KindItemNotFound,
		Message: fmt.Sprintf("Sweet not found: %s", itemID),
		ItemID:  itemID,
	}
}

func newInsufficientStockError(itemID string, requested, available int) *OrderError {
	return &OrderError{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("Insufficient stock for %s (requested %d, available %d)", itemID, requested, available),
		ItemID:    itemID,
		Requested: requested,
		Available: available,
	}
}

func newOrderNotFoundError(orderID string) *OrderError {
	return &OrderError{Kind: KindOrderNotFound, Message: "Not found", Err: fmt.Errorf("order %s", orderID)}
}

// newUnknownUserError: token válido, mas o principal não tem linha em users
func newUnknownUserError(userID string, err error) *OrderError {
	return &OrderError{Kind: KindUnknownUser, Message: "Unknown user", Err: fmt.Errorf("user %s: %w", userID, err)}
}

func newForbiddenError(reason string) *OrderError {
	return &OrderError{Kind: KindForbidden, Message: reason}
}

// retryableSQLStates são os SQLSTATEs em que refazer a transação inteira é seguro
var retryableSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available (lock_timeout)
	"57014": {}, // query_canceled (statement_timeout)
}

// classifyStorageError converte erros de infraestrutura em transaction_failed
func classifyStorageError(op string, err error) error {
	if err == nil {
		return nil
	}

	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return err
	}

	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &OrderError{Kind: KindTransactionFailed, Message: "transaction failed", Retryable: true, Err: wrapped}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, retryable := retryableSQLStates[pgErr.Code]
		if strings.HasPrefix(pgErr.Code, "08") {
			retryable = true
		}
		return &OrderError{Kind: KindTransactionFailed, Message: "transaction failed", Retryable: retryable, Err: wrapped}
	}

	return &OrderError{
		Kind:      KindTransactionFailed,
		Message:   "transaction failed",
		Retryable: pgconn.SafeToRetry(err) || pgconn.Timeout(err),
		Err:       wrapped,
	}
}

// isForeignKeyViolation detecta SQLSTATE 23503 (foreign_key_violation)
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// KindOf retorna o Kind de um erro, ou transaction_failed quando desconhecido
func KindOf(err error) ErrorKind {
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return orderErr.Kind
	}
	return KindTransactionFailed
}

// IsRetryable indica se a operação pode ser refeita do zero
func IsRetryable(err error) bool {
	var orderErr *OrderError
	return errors.As(err, &orderErr) && orderErr.Kind == KindTransactionFailed && orderErr.Retryable
}
