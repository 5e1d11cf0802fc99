package placement

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/reconcile"
)

const compensateTimeout = 5 * time.Second

// Releaser gives stock back for an order that was not written.
type Releaser interface {
	ReleaseOnce(ctx context.Context, orderID string, res []catalog.Reservation) error
}

// ReleaseQueue hands a release to the worker when it cannot run inline.
type ReleaseQueue interface {
	StockRelease(ctx context.Context, orderID string, res []catalog.Reservation) error
}

// Saga commits in two steps: reserve stock, then write the order. If the
// order write fails the reservation is released, inline or by the worker.
//
// The order write carries a condition that no release was claimed for its id,
// and the release carries a condition that the order does not exist, so an
// order and the release of its stock never both commit.
type Saga struct {
	stock    *catalog.Store
	orders   *orders.Store
	claims   *idempotency.Store
	releaser Releaser
	queue    ReleaseQueue
}

func NewSaga(stock *catalog.Store, orderStore *orders.Store, claims *idempotency.Store, releaser Releaser, queue ReleaseQueue) *Saga {
	return &Saga{stock: stock, orders: orderStore, claims: claims, releaser: releaser, queue: queue}
}

func (s *Saga) Commit(ctx context.Context, order orders.Order, res []catalog.Reservation) error {
	if err := s.stock.UpdateQuantity(ctx, res); err != nil {
		var se *catalog.InsufficientStockError
		if errors.As(err, &se) {
			return apperr.InsufficientStock(se.ProductID, se.Requested)
		}
		if errors.Is(err, catalog.ErrInvalidReservation) || errors.Is(err, catalog.ErrDuplicateReservation) {
			return apperr.InvalidRequest("%s", err.Error())
		}
		return apperr.PersistenceFailure("stock reservation", err)
	}

	guard := []types.TransactWriteItem{s.claims.AbsentCheck(reconcile.ReleaseKey(order.OrderID))}
	writeErr := s.orders.CreateWith(ctx, order, guard)
	if writeErr == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	err := s.releaser.ReleaseOnce(cctx, order.OrderID, res)
	switch {
	case errors.Is(err, reconcile.ErrOrderCommitted):
		// the write landed even though the call failed
		obs.Logger.Warn("order_write_error_but_committed", "order_id", order.OrderID, "error", writeErr.Error())
		return nil
	case err != nil:
		obs.Logger.Error("stock_release_failed", "order_id", order.OrderID, "error", err.Error())
		if qerr := s.queue.StockRelease(cctx, order.OrderID, res); qerr != nil {
			obs.Logger.Error("stock_release_enqueue_failed", "order_id", order.OrderID,
				"units", catalog.Units(res), "error", qerr.Error())
			return apperr.PersistenceFailure("order write", errors.Join(writeErr, qerr))
		}
		obs.Logger.Info("stock_release_enqueued", "order_id", order.OrderID)
	}
	return apperr.PersistenceFailure("order write", writeErr)
}
