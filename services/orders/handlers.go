package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderUseCaseInterface define a interface para o use case
type OrderUseCaseInterface interface {
	PlaceOrder(ctx context.Context, principal Principal, req PlaceOrderRequest) (*Order, error)
	ListOrders(ctx context.Context, principal Principal, mineOnly bool) ([]Order, error)
	GetOrder(ctx context.Context, principal Principal, orderID string) (*Order, error)
	ComputeStatistics(ctx context.Context, principal Principal) (*Statistics, error)
	Ready(ctx context.Context) error
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	useCase         OrderUseCaseInterface
	checkoutTimeout time.Duration
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, checkoutTimeout time.Duration) *OrderHandler {
	return &OrderHandler{
		useCase:         useCase,
		checkoutTimeout: checkoutTimeout,
	}
}

// PlaceOrder cria um pedido a partir do carrinho
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, ErrUnauthenticated, "")
		return
	}

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, newInvalidRequestError(err), "")
		return
	}

	ctx := c.Request.Context()
	if h.checkoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.checkoutTimeout)
		defer cancel()
	}

	order, err := h.useCase.PlaceOrder(ctx, principal, req)
	if err != nil {
		writeError(c, err, "Order creation failed")
		return
	}

	created := *order
	created.Items = nil
	c.JSON(http.StatusCreated, gin.H{"order": created})
}

// ListOrders lista os pedidos do usuário (?mine=true) ou todos (admin)
func (h *OrderHandler) ListOrders(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, ErrUnauthenticated, "")
		return
	}

	orders, err := h.useCase.ListOrders(c.Request.Context(), principal, c.Query("mine") == "true")
	if err != nil {
		writeError(c, err, "Cannot fetch orders")
		return
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrder retorna o pedido com suas linhas
func (h *OrderHandler) GetOrder(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, ErrUnauthenticated, "")
		return
	}

	order, err := h.useCase.GetOrder(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err, "Cannot fetch order")
		return
	}

	if order.Items == nil {
		order.Items = []OrderLine{}
	}
	c.JSON(http.StatusOK, orderDetail{Order: order, Items: order.Items})
}

// Statistics retorna os agregados de vendas (admin)
func (h *OrderHandler) Statistics(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, ErrUnauthenticated, "")
		return
	}

	stats, err := h.useCase.ComputeStatistics(c.Request.Context(), principal)
	if err != nil {
		writeError(c, err, "Cannot compute stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.useCase.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "orders-service",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

// orderDetail garante que "items" sempre apareça, mesmo vazio
type orderDetail struct {
	*Order
	Items []OrderLine `json:"items"`
}

type errorResponse struct {
	Error     string    `json:"error"`
	Kind      ErrorKind `json:"kind"`
	ItemID    string    `json:"item_id,omitempty"`
	Requested int       `json:"requested,omitempty"`
	Available *int      `json:"available,omitempty"`
}

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindInvalidRequest, KindNoItems, KindInvalidQuantity, KindItemNotFound, KindInsufficientStock:
		return http.StatusBadRequest
	case KindOrderNotFound:
		return http.StatusNotFound
	case KindForbidden, KindUnknownUser:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// buildErrorResponse nunca expõe a causa interna de transaction_failed
func buildErrorResponse(err error, fallback string) (int, errorResponse) {
	var orderErr *OrderError
	if !errors.As(err, &orderErr) || orderErr.Kind == KindTransactionFailed {
		if fallback == "" {
			fallback = "Internal server error"
		}
		return http.StatusInternalServerError, errorResponse{Error: fallback, Kind: KindTransactionFailed}
	}

	body := errorResponse{Error: orderErr.Message, Kind: orderErr.Kind, ItemID: orderErr.ItemID}
	if orderErr.Kind == KindInsufficientStock {
		available := orderErr.Available
		body.Requested = orderErr.Requested
		body.Available = &available
	}
	return statusFor(orderErr.Kind), body
}

func writeError(c *gin.Context, err error, fallback string) {
	status, body := buildErrorResponse(err, fallback)
	if status >= http.StatusInternalServerError {
		loggerFrom(c).Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func abortWithError(c *gin.Context, err error, fallback string) {
	status, body := buildErrorResponse(err, fallback)
	c.AbortWithStatusJSON(status, body)
}
