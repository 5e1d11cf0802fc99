package reconcile

import (
	"context"
	"errors"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-consistent-orders/internal/events"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

// OrderReader is the part of the order store the processor needs.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Processor handles SQS messages published by the API.
type Processor struct {
	releaser *Releaser
	orders   OrderReader
}

// NewProcessor creates a new worker processor.
func NewProcessor(releaser *Releaser, orderReader OrderReader) *Processor {
	return &Processor{releaser: releaser, orders: orderReader}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry the batch. Every handler below is
			// idempotent; repeated failures go to the DLQ.
			obs.Logger.Error("worker_message_failed", "message_id", rec.MessageId, "error", err.Error())
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	ev, err := events.Decode(rec.Body)
	if err != nil {
		return err
	}
	obs.Logger.Info("worker_received", "type", ev.Type, "order_id", ev.OrderID, "message_id", rec.MessageId)

	switch ev.Type {
	case events.TypeStockRelease:
		err := p.releaser.ReleaseOnce(ctx, ev.OrderID, ev.Reservations)
		if errors.Is(err, ErrOrderCommitted) {
			obs.Logger.Warn("release_skipped_order_exists", "order_id", ev.OrderID)
			return nil
		}
		return err

	case events.TypeOrderPlaced:
		order, err := p.orders.Get(ctx, ev.OrderID)
		if err != nil {
			return fmt.Errorf("failed to fetch order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("order not found: %s", ev.OrderID)
		}
		obs.Logger.Info("order_confirmed", "order_id", order.OrderID, "customer_id", order.CustomerID,
			"lines", len(order.Lines), "total", order.Total.String())
		return nil
	}
	return nil
}
