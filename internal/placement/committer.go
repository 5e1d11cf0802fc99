package placement

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

// TxCommitter writes the order and every conditional decrement in one
// DynamoDB transaction.
type TxCommitter struct {
	orders *orders.Store
	stock  *catalog.Store
}

func NewTxCommitter(orderStore *orders.Store, stock *catalog.Store) *TxCommitter {
	return &TxCommitter{orders: orderStore, stock: stock}
}

func (c *TxCommitter) Commit(ctx context.Context, order orders.Order, res []catalog.Reservation) error {
	if err := catalog.CheckReservations(res); err != nil {
		return apperr.InvalidRequest("%s", err.Error())
	}
	err := c.orders.CreateWith(ctx, order, c.stock.DecrementItems(res))
	if err == nil {
		return nil
	}
	// the order Put is item 0, decrements start at 1
	if se, ok := catalog.InsufficientStockFromCancel(err, res, 1); ok {
		return apperr.InsufficientStock(se.ProductID, se.Requested)
	}
	if errors.Is(err, orders.ErrOrderExists) {
		return apperr.PersistenceFailure("order write: duplicate order id", err)
	}
	return apperr.PersistenceFailure("order write", err)
}
