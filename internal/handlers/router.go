// Package handlers exposes the HTTP API on gin.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/placement"
	"github.com/imrishuroy/go-consistent-orders/internal/validation"
)

// Placer is satisfied by *placement.Service.
type Placer interface {
	Place(ctx context.Context, customerID string, lines []placement.LineRequest) (*orders.Order, error)
}

// Registrar is satisfied by *registration.Service.
type Registrar interface {
	Register(ctx context.Context, name string, price money.Amount, quantity int) (*catalog.Product, error)
}

// OrderReader is satisfied by *orders.Store.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int32) ([]orders.Order, error)
}

// ProductReader is satisfied by *catalog.Store.
type ProductReader interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
}

// CustomerStore is satisfied by *customers.Store.
type CustomerStore interface {
	Get(ctx context.Context, customerID string) (*customers.Customer, error)
	Create(ctx context.Context, name, email string) (*customers.Customer, error)
}

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Placer      Placer
	Registrar   Registrar
	Orders      OrderReader
	Products    ProductReader
	Customers   CustomerStore
	Idempotency *idempotency.Store // nil disables Idempotency-Key handling
	Metrics     http.Handler       // served on /metrics when set
}

type api struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	a := &api{cfg: cfg, v: validation.New()}
	a.registerOrdersRoutes(r)
	a.registerProductRoutes(r)
	a.registerCustomerRoutes(r)
	return r
}
