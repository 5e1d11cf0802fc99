// Package events defines the messages the API publishes to SQS and the
// worker consumes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

// Event types.
const (
	TypeOrderPlaced  = "order.placed"
	TypeStockRelease = "stock.release"
)

// Event is the envelope sent from API -> SQS -> Worker.
type Event struct {
	Type          string                `json:"type"`
	OrderID       string                `json:"order_id"`
	CustomerID    string                `json:"customer_id,omitempty"`
	Total         money.Amount          `json:"total"`
	Reservations  []catalog.Reservation `json:"reservations,omitempty"`
	OccurredAt    time.Time             `json:"occurred_at"`
	CorrelationID string                `json:"correlation_id,omitempty"`
}

// Decode parses a message body and rejects unknown types.
func Decode(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("invalid message body: %w", err)
	}
	switch ev.Type {
	case TypeOrderPlaced, TypeStockRelease:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.OrderID == "" {
		return Event{}, fmt.Errorf("event %s without order_id", ev.Type)
	}
	return ev, nil
}

// Sender is satisfied by *aws.Publisher.
type Sender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

// ErrNoQueue is returned by StockRelease when no queue is configured.
var ErrNoQueue = errors.New("no events queue configured")

// Publisher turns domain facts into queue messages. A Publisher without a
// Sender drops order.placed events, which is how the API runs in transaction
// mode when no queue is configured.
type Publisher struct {
	sender  Sender
	nowFunc func() time.Time
}

// NewPublisher returns a Publisher; sender may be nil.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender, nowFunc: time.Now}
}

// OrderPlaced announces a committed order.
func (p *Publisher) OrderPlaced(ctx context.Context, order orders.Order) error {
	res := make([]catalog.Reservation, 0, len(order.Lines))
	for _, l := range order.Lines {
		res = append(res, catalog.Reservation{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	merged, err := catalog.MergeReservations(res)
	if err != nil {
		return err
	}
	if p.sender == nil {
		obs.Logger.Debug("event_dropped", "type", TypeOrderPlaced, "order_id", order.OrderID)
		return nil
	}
	return p.publish(ctx, Event{
		Type:         TypeOrderPlaced,
		OrderID:      order.OrderID,
		CustomerID:   order.CustomerID,
		Total:        order.Total,
		Reservations: merged,
	})
}

// StockRelease asks the worker to give back units reserved for an order that
// was never written. Unlike OrderPlaced it is never dropped: without a queue
// it fails with ErrNoQueue.
func (p *Publisher) StockRelease(ctx context.Context, orderID string, res []catalog.Reservation) error {
	if p.sender == nil {
		return fmt.Errorf("stock release for %s: %w", orderID, ErrNoQueue)
	}
	return p.publish(ctx, Event{
		Type:         TypeStockRelease,
		OrderID:      orderID,
		Reservations: res,
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	ev.OccurredAt = p.nowFunc().UTC()
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{"type": ev.Type, "order_id": ev.OrderID}
	if err := p.sender.Send(ctx, string(body), attrs); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
