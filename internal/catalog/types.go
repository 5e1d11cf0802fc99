package catalog

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

// Product is the item stored in the products table.
type Product struct {
	ProductID string       `dynamodbav:"product_id" json:"product_id"` // PK
	Name      string       `dynamodbav:"name" json:"name"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
	Quantity  int          `dynamodbav:"quantity" json:"quantity"` // quantity on hand, never negative
	CreatedAt time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// nameGuard is the item in the product_names table that makes names unique.
type nameGuard struct {
	ProductName string    `dynamodbav:"product_name"` // PK
	ProductID   string    `dynamodbav:"product_id"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

// Reservation is a quantity to take from (or give back to) one product.
type Reservation struct {
	ProductID string `dynamodbav:"product_id" json:"product_id"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
}

// ErrNameTaken is returned by Create when another product already owns the name.
var ErrNameTaken = errors.New("product name already taken")

// ErrDuplicateReservation is returned when a reservation list names a product twice.
var ErrDuplicateReservation = errors.New("reservations must reference distinct products")

// ErrInvalidReservation is returned for a non-positive quantity or a per-product
// total that does not fit in an int.
var ErrInvalidReservation = errors.New("reservation quantity must be positive")

// InsufficientStockError reports a conditional decrement rejected by the store:
// the product no longer had Requested units (or no longer exists).
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
}

// MergeReservations sums quantities per product, keeping first-seen order.
func MergeReservations(in []Reservation) ([]Reservation, error) {
	idx := make(map[string]int, len(in))
	out := make([]Reservation, 0, len(in))
	for _, r := range in {
		if r.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s has %d", ErrInvalidReservation, r.ProductID, r.Quantity)
		}
		if i, ok := idx[r.ProductID]; ok {
			if r.Quantity > math.MaxInt-out[i].Quantity {
				return nil, fmt.Errorf("%w: total for %s overflows", ErrInvalidReservation, r.ProductID)
			}
			out[i].Quantity += r.Quantity
			continue
		}
		idx[r.ProductID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// CheckReservations accepts only merged reservations with positive quantities.
func CheckReservations(res []Reservation) error {
	merged, err := MergeReservations(res)
	if err != nil {
		return err
	}
	if len(merged) != len(res) {
		return ErrDuplicateReservation
	}
	return nil
}

// Units is the total quantity across reservations.
func Units(res []Reservation) int {
	total := 0
	for _, r := range res {
		total += r.Quantity
	}
	return total
}
