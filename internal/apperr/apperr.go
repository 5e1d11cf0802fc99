// Package apperr is the failure taxonomy returned by order placement and
// product registration. Callers branch on Kind (or errors.Is against the
// sentinels) instead of matching message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindCustomerNotFound   Kind = "customer_not_found"
	KindEmptyOrder         Kind = "empty_order"
	KindProductNotFound    Kind = "product_not_found"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindDuplicateProduct   Kind = "duplicate_product"
	KindInvalidRequest     Kind = "invalid_request"
	KindPersistenceFailure Kind = "persistence_failure"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrCustomerNotFound   = &Error{Kind: KindCustomerNotFound}
	ErrEmptyOrder         = &Error{Kind: KindEmptyOrder}
	ErrProductNotFound    = &Error{Kind: KindProductNotFound}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock}
	ErrDuplicateProduct   = &Error{Kind: KindDuplicateProduct}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
)

// Error carries the kind plus whichever subject fields apply to it.
type Error struct {
	Kind       Kind
	CustomerID string
	ProductID  string
	Quantity   int
	Name       string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCustomerNotFound:
		return fmt.Sprintf("customer %s does not exist", e.CustomerID)
	case KindEmptyOrder:
		return "could not find any products with the given ids"
	case KindProductNotFound:
		return fmt.Sprintf("could not find product %s", e.ProductID)
	case KindInsufficientStock:
		return fmt.Sprintf("the quantity %d is not available for %s", e.Quantity, e.ProductID)
	case KindDuplicateProduct:
		return fmt.Sprintf("there is already one product named %q", e.Name)
	case KindInvalidRequest:
		return "invalid request: " + e.Detail
	case KindPersistenceFailure:
		if e.Err != nil {
			return fmt.Sprintf("persistence failure (%s): %v", e.Detail, e.Err)
		}
		return "persistence failure: " + e.Detail
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the same request may succeed later unchanged or
// with a smaller quantity. Only stock shortfalls and storage failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindInsufficientStock || e.Kind == KindPersistenceFailure
}

func CustomerNotFound(customerID string) *Error {
	return &Error{Kind: KindCustomerNotFound, CustomerID: customerID}
}

func EmptyOrder() *Error { return &Error{Kind: KindEmptyOrder} }

func ProductNotFound(productID string) *Error {
	return &Error{Kind: KindProductNotFound, ProductID: productID}
}

func InsufficientStock(productID string, requested int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Quantity: requested}
}

func DuplicateProduct(name string) *Error {
	return &Error{Kind: KindDuplicateProduct, Name: name}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf(format, args...)}
}

// PersistenceFailure wraps a storage error; step names the write that failed.
func PersistenceFailure(step string, err error) *Error {
	return &Error{Kind: KindPersistenceFailure, Detail: step, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
