package orders

import (
	"time"

	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

// Order statuses. Orders written by placement are append-only and stay PLACED.
const (
	StatusPlaced = "PLACED"
)

// CustomerIndex is the GSI (customer_id, created_at) used by ListByCustomer.
const CustomerIndex = "customer_id-created_at-index"

// Line is a priced order line. UnitPrice is the catalog price observed while
// the order was validated; it is never re-read.
type Line struct {
	ProductID string       `dynamodbav:"product_id" json:"product_id"`
	UnitPrice money.Amount `dynamodbav:"unit_price" json:"unit_price"`
	Quantity  int          `dynamodbav:"quantity" json:"quantity"`
}

// Order represents the item stored in the Orders DynamoDB table. Header and
// lines live in one item, so a partially written order cannot be observed.
type Order struct {
	OrderID    string              `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID string              `dynamodbav:"customer_id" json:"customer_id"`
	Customer   *customers.Customer `dynamodbav:"-" json:"customer,omitempty"` // resolved on placement, not persisted
	Status     string              `dynamodbav:"status" json:"status"`
	Lines      []Line              `dynamodbav:"lines" json:"lines"`
	Total      money.Amount        `dynamodbav:"total" json:"total"`
	CreatedAt  time.Time           `dynamodbav:"created_at" json:"ordered_at"`
}

// Subtotal of one line.
func (l Line) Subtotal() money.Amount { return l.UnitPrice.Times(l.Quantity) }

// TotalOf sums line subtotals.
func TotalOf(lines []Line) money.Amount {
	total := money.Zero
	for _, l := range lines {
		total = total.Plus(l.Subtotal())
	}
	return total
}
