package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/config"
	"github.com/imrishuroy/go-consistent-orders/internal/dynamotest"
	orderevents "github.com/imrishuroy/go-consistent-orders/internal/events"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

func TestNewProcessor_ReleasesStock(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "none")
	cfg := config.Load()
	fake := dynamotest.New()
	fake.CreateTable(cfg.ProductsTable, "product_id")
	fake.CreateTable(cfg.ProductNamesTable, "product_name")
	fake.CreateTable(cfg.OrdersTable, "order_id")
	fake.CreateTable(cfg.IdempotencyTable, "idempotency_key")
	clients := &aws.AWSClients{DynamoDB: fake}

	stock := catalog.NewStore(fake, cfg.ProductsTable, cfg.ProductNamesTable)
	p, err := stock.Create(context.Background(), catalog.NewProduct("A", money.MustParse("1"), 3))
	require.NoError(t, err)
	res := []catalog.Reservation{{ProductID: p.ProductID, Quantity: 2}}
	require.NoError(t, stock.UpdateQuantity(context.Background(), res))

	body, err := json.Marshal(orderevents.Event{Type: orderevents.TypeStockRelease, OrderID: "lost", Reservations: res})
	require.NoError(t, err)
	ev := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m-1", Body: string(body)}}}

	proc := newProcessor(cfg, clients)
	require.NoError(t, proc.Handle(context.Background(), ev))
	require.NoError(t, proc.Handle(context.Background(), ev))

	got, err := stock.Get(context.Background(), p.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)
}
