// Package reconcile gives reserved stock back for orders that were never
// written, exactly once per order.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

// ErrOrderCommitted means the order exists after all, so its stock must stay reserved.
var ErrOrderCommitted = errors.New("order committed; reservation kept")

// ReleaseKey is the idempotency key that marks an order's stock as released.
// The order write checks that this key is absent, so an order and its release
// can never both commit.
func ReleaseKey(orderID string) string { return "release#" + orderID }

// Releaser runs the compensating step of a placement saga.
type Releaser struct {
	client  aws.DynamoDBAPI
	stock   *catalog.Store
	orders  *orders.Store
	claims  *idempotency.Store
	metrics metrics.Recorder
}

func NewReleaser(client aws.DynamoDBAPI, stock *catalog.Store, orderStore *orders.Store, claims *idempotency.Store, rec metrics.Recorder) *Releaser {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Releaser{client: client, stock: stock, orders: orderStore, claims: claims, metrics: rec}
}

// ReleaseOnce returns res to stock in one transaction with two guards:
// the release claim for orderID must not exist yet, and the order itself must
// not exist. A second release is a no-op; a committed order yields ErrOrderCommitted.
func (r *Releaser) ReleaseOnce(ctx context.Context, orderID string, res []catalog.Reservation) error {
	res, err := catalog.MergeReservations(res)
	if err != nil {
		return fmt.Errorf("release %s: %w", orderID, err)
	}
	if len(res) == 0 {
		return nil
	}
	claim, err := r.claims.ClaimItem(ReleaseKey(orderID), fmt.Sprintf("released %d units", catalog.Units(res)))
	if err != nil {
		return err
	}
	items := append([]types.TransactWriteItem{claim, r.orders.AbsentCheck(orderID)}, r.stock.IncrementItems(res)...)

	_, err = r.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) >= 2 {
			if code(tce.CancellationReasons[1]) == "ConditionalCheckFailed" {
				return ErrOrderCommitted
			}
			if code(tce.CancellationReasons[0]) == "ConditionalCheckFailed" {
				obs.Logger.Info("stock_already_released", "order_id", orderID)
				return nil
			}
		}
		return fmt.Errorf("release stock for order %s: %w", orderID, err)
	}

	units := catalog.Units(res)
	r.metrics.StockReleased(units)
	obs.Logger.Info("stock_released", "order_id", orderID, "units", units)
	return nil
}

func code(reason types.CancellationReason) string {
	if reason.Code == nil {
		return ""
	}
	return *reason.Code
}
