package validation

import "github.com/imrishuroy/go-consistent-orders/internal/money"

// OrderLine represents a single requested order line.
type OrderLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000000"`
}

// PlaceOrderRequest is the payload for POST /orders.
// Prices are never taken from the client; the catalog snapshot prices the order.
type PlaceOrderRequest struct {
	CustomerID string      `json:"customer_id" validate:"required"`
	Lines      []OrderLine `json:"lines" validate:"required,min=1,max=500,dive"`
}

// RegisterProductRequest is the payload for POST /products.
type RegisterProductRequest struct {
	Name     string        `json:"name" validate:"required,max=200"`
	Price    *money.Amount `json:"price" validate:"required"` // number or decimal string
	Quantity *int          `json:"quantity" validate:"required,min=0"`
}

// CreateCustomerRequest is the payload for POST /customers.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
}
