package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/config"
	"github.com/imrishuroy/go-consistent-orders/internal/dynamotest"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

type recordingSQS struct {
	mu     sync.Mutex
	bodies []string
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, *in.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

type countingCloudWatch struct{ calls int }

func (c *countingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.calls++
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func newClients(cfg config.Config) (*aws.AWSClients, *dynamotest.Fake, *recordingSQS, *countingCloudWatch) {
	fake := dynamotest.New()
	fake.CreateTable(cfg.CustomersTable, "customer_id")
	fake.CreateTable(cfg.ProductsTable, "product_id")
	fake.CreateTable(cfg.ProductNamesTable, "product_name")
	fake.CreateTable(cfg.OrdersTable, "order_id")
	fake.AddIndex(cfg.OrdersTable, orders.CustomerIndex, "customer_id", "created_at")
	fake.CreateTable(cfg.IdempotencyTable, "idempotency_key")
	q := &recordingSQS{}
	cw := &countingCloudWatch{}
	return &aws.AWSClients{DynamoDB: fake, SQS: q, CloudWatch: cw}, fake, q, cw
}

func post(t *testing.T, r *gin.Engine, path, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSetupRouter_PlacesOrdersInEveryMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, mode := range []string{config.ModeTransaction, config.ModeSaga} {
		t.Run(mode, func(t *testing.T) {
			t.Setenv("PLACEMENT_MODE", mode)
			t.Setenv("METRICS_BACKEND", "cloudwatch")
			t.Setenv("EVENTS_QUEUE_URL", "https://sqs.local/queue/events")
			cfg := config.Load()
			clients, fake, q, cw := newClients(cfg)

			r, err := setupRouter(cfg, clients)
			require.NoError(t, err)
			cust := post(t, r, "/customers", `{"name":"Ada","email":"ada@example.com"}`)
			prod := post(t, r, "/products", `{"name":"A","price":"10","quantity":5}`)
			body, _ := json.Marshal(map[string]any{
				"customer_id": cust["customer_id"],
				"lines":       []map[string]any{{"product_id": prod["product_id"], "quantity": 2}},
			})
			post(t, r, "/orders", string(body))

			assert.Equal(t, 1, fake.Count(cfg.OrdersTable))
			require.Len(t, q.bodies, 1)
			assert.Contains(t, q.bodies[0], `"type":"order.placed"`)
			assert.Equal(t, 1, cw.calls)
		})
	}
}

func TestSetupRouter_PrometheusExposesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("METRICS_BACKEND", "prometheus")
	cfg := config.Load()
	clients, _, _, _ := newClients(cfg)

	r, err := setupRouter(cfg, clients)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orders_placed_total 0")
}

func TestSetupRouter_SagaRequiresQueue(t *testing.T) {
	t.Setenv("PLACEMENT_MODE", config.ModeSaga)
	t.Setenv("EVENTS_QUEUE_URL", "")
	cfg := config.Load()
	clients, _, _, _ := newClients(cfg)

	r, err := setupRouter(cfg, clients)

	assert.ErrorIs(t, err, config.ErrSagaWithoutQueue)
	assert.Nil(t, r)
}
