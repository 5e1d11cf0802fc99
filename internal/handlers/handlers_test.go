package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	"github.com/imrishuroy/go-consistent-orders/internal/dynamotest"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/placement"
	"github.com/imrishuroy/go-consistent-orders/internal/registration"
)

type testAPI struct {
	router *gin.Engine
	fake   *dynamotest.Fake
	stock  *catalog.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dynamotest.New()
	fake.CreateTable("customers", "customer_id")
	fake.CreateTable("products", "product_id")
	fake.CreateTable("product_names", "product_name")
	fake.CreateTable("orders", "order_id")
	fake.AddIndex("orders", orders.CustomerIndex, "customer_id", "created_at")
	fake.CreateTable("idempotency", "idempotency_key")

	custStore := customers.NewStore(fake, "customers")
	stock := catalog.NewStore(fake, "products", "product_names")
	orderStore := orders.NewStore(fake, "orders")
	reg := metrics.NewRegistry()

	svc := placement.NewService(custStore, stock, placement.NewTxCommitter(orderStore, stock), placement.WithMetrics(reg))
	router := NewRouter(HandlerConfig{
		Placer:      svc,
		Registrar:   registration.NewService(stock),
		Orders:      orderStore,
		Products:    stock,
		Customers:   custStore,
		Idempotency: idempotency.NewStore(fake, "idempotency", time.Hour),
		Metrics:     reg.Handler(),
	})
	return &testAPI{router: router, fake: fake, stock: stock}
}

func (a *testAPI) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (a *testAPI) customer(t *testing.T) string {
	t.Helper()
	w := a.do(http.MethodPost, "/customers", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["customer_id"].(string)
}

func (a *testAPI) product(t *testing.T, name string, qty int) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"name": name, "price": "10", "quantity": qty})
	w := a.do(http.MethodPost, "/products", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["product_id"].(string)
}

func orderBody(customerID string, lines ...any) string {
	ls := make([]map[string]any, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		ls = append(ls, map[string]any{"product_id": lines[i], "quantity": lines[i+1]})
	}
	b, _ := json.Marshal(map[string]any{"customer_id": customerID, "lines": ls})
	return string(b)
}

func TestHealthAndRequestID(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/health", "", "X-Request-Id", "req-42")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
	assert.NotEmpty(t, api.do(http.MethodGet, "/health", "").Header().Get("X-Request-Id"))
}

func TestPlaceOrder_EndToEnd(t *testing.T) {
	api := newTestAPI(t)
	cust := api.customer(t)
	a := api.product(t, "A", 5)

	w := api.do(http.MethodPost, "/orders", orderBody(cust, a, 3))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode(t, w)
	orderID := got["order_id"].(string)
	assert.Equal(t, "/orders/"+orderID, w.Header().Get("Location"))
	assert.Equal(t, "30", got["total"])
	lines := got["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, "10", lines[0].(map[string]any)["unit_price"])

	w = api.do(http.MethodGet, "/orders/"+orderID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/products/"+a, "")
	assert.Equal(t, float64(2), decode(t, w)["quantity"])

	w = api.do(http.MethodGet, "/customers/"+cust+"/orders?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["orders"].([]any), 1)

	w = api.do(http.MethodGet, "/metrics", "")
	assert.Contains(t, w.Body.String(), "orders_placed_total 1")
}

func TestPlaceOrder_FailureStatuses(t *testing.T) {
	api := newTestAPI(t)
	cust := api.customer(t)
	a := api.product(t, "A", 5)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"insufficient stock", orderBody(cust, a, 3, a, 3), http.StatusConflict, "insufficient_stock"},
		{"unknown customer", orderBody("nobody", a, 1), http.StatusNotFound, "customer_not_found"},
		{"unknown product", orderBody(cust, a, 1, "ghost", 1), http.StatusNotFound, "product_not_found"},
		{"all products unknown", orderBody(cust, "ghost", 1), http.StatusUnprocessableEntity, "empty_order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/orders", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, decode(t, w)["error"])
		})
	}

	w := api.do(http.MethodPost, "/orders", orderBody(cust, a, 3, a, 3))
	body := decode(t, w)
	assert.Equal(t, a, body["product_id"])
	assert.Equal(t, float64(3), body["quantity"])

	w = api.do(http.MethodPost, "/orders", orderBody(cust, a, 0))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode(t, w)["error"])
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	api := newTestAPI(t)
	cust := api.customer(t)
	a := api.product(t, "A", 5)
	body := orderBody(cust, a, 2)

	first := api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-1")
	second := api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-1")

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, api.fake.Count("orders"))

	p, err := api.stock.Get(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)

	reused := api.do(http.MethodPost, "/orders", orderBody(cust, a, 1), "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	assert.Equal(t, "idempotency_key_reused", decode(t, reused)["error"])
}

func TestPlaceOrder_IdempotencyKeyReplaysRejection(t *testing.T) {
	api := newTestAPI(t)
	cust := api.customer(t)
	a := api.product(t, "A", 1)
	body := orderBody(cust, a, 2)

	first := api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-2")
	second := api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-2")

	assert.Equal(t, http.StatusConflict, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPlaceOrder_FailedAttemptCanBeRetried(t *testing.T) {
	api := newTestAPI(t)
	cust := api.customer(t)
	a := api.product(t, "A", 5)
	body := orderBody(cust, a, 1)

	api.fake.Fault = func(op string, tables []string) error {
		if op == "TransactWriteItems" {
			return errors.New("throttled")
		}
		return nil
	}
	w := api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-3")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "persistence_failure", decode(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "throttled")

	api.fake.Fault = nil
	w = api.do(http.MethodPost, "/orders", body, "Idempotency-Key", "k-3")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestProducts(t *testing.T) {
	api := newTestAPI(t)
	api.product(t, "Lamp", 1)

	w := api.do(http.MethodPost, "/products", `{"name":"Lamp","price":"1","quantity":1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_product", decode(t, w)["error"])

	w = api.do(http.MethodPost, "/products", `{"name":"Chair","price":-5,"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/products/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadRoutes_NotFoundAndLimits(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/orders/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/customers/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/customers/c/orders?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/customers/c/orders?limit=abc", "").Code)

	w := api.do(http.MethodGet, "/customers/c/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["orders"])
}
