package main

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouterDeps agrupa o que o roteador precisa
type RouterDeps struct {
	Handler     *OrderHandler
	Verifier    *TokenVerifier
	Logger      *zap.Logger
	Metrics     *ServerMetrics
	ServiceName string
	Tracing     bool
}

func newRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if deps.Tracing {
		r.Use(otelgin.Middleware(deps.ServiceName))
	}
	r.Use(RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
		r.GET("/metrics", deps.Metrics.Handler())
	}

	// Health check
	r.GET("/health", deps.Handler.HealthCheck)

	api := r.Group("/api", AuthMiddleware(deps.Verifier))
	api.POST("/orders", deps.Handler.PlaceOrder)
	api.GET("/orders", deps.Handler.ListOrders)
	api.GET("/orders/stats/all", deps.Handler.Statistics)
	api.GET("/orders/:id", deps.Handler.GetOrder)

	return r
}
