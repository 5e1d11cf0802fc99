package placement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	"github.com/imrishuroy/go-consistent-orders/internal/dynamotest"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/reconcile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	modeTransaction = "transaction"
	modeSaga        = "saga"
)

var modes = []string{modeTransaction, modeSaga}

type fixture struct {
	fake      *dynamotest.Fake
	customers *customers.Store
	stock     *catalog.Store
	orders    *orders.Store
	claims    *idempotency.Store
	releaser  *reconcile.Releaser
	queue     *recordingQueue
	metrics   *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("customers", "customer_id")
	fake.CreateTable("products", "product_id")
	fake.CreateTable("product_names", "product_name")
	fake.CreateTable("orders", "order_id")
	fake.CreateTable("idempotency", "idempotency_key")

	f := &fixture{
		fake:      fake,
		customers: customers.NewStore(fake, "customers"),
		stock:     catalog.NewStore(fake, "products", "product_names"),
		orders:    orders.NewStore(fake, "orders"),
		claims:    idempotency.NewStore(fake, "idempotency", time.Hour),
		queue:     &recordingQueue{},
		metrics:   metrics.NewRegistry(),
	}
	f.releaser = reconcile.NewReleaser(fake, f.stock, f.orders, f.claims, f.metrics)
	return f
}

func (f *fixture) committer(mode string) Committer {
	if mode == modeSaga {
		return NewSaga(f.stock, f.orders, f.claims, f.releaser, f.queue)
	}
	return NewTxCommitter(f.orders, f.stock)
}

func (f *fixture) service(mode string, opts ...Option) *Service {
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	return NewService(f.customers, f.stock, f.committer(mode), opts...)
}

func (f *fixture) customer(t *testing.T) string {
	t.Helper()
	c, err := f.customers.Create(context.Background(), "Ada", "ada@example.com")
	require.NoError(t, err)
	return c.CustomerID
}

func (f *fixture) product(t *testing.T, name, price string, qty int) string {
	t.Helper()
	p, err := f.stock.Create(context.Background(), catalog.NewProduct(name, money.MustParse(price), qty))
	require.NoError(t, err)
	return p.ProductID
}

func (f *fixture) quantity(t *testing.T, id string) int {
	t.Helper()
	p, err := f.stock.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Quantity
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, kind, ae.Kind, "error: %v", err)
	return ae
}

type recordingQueue struct {
	mu       sync.Mutex
	releases map[string][]catalog.Reservation
}

func (q *recordingQueue) StockRelease(ctx context.Context, orderID string, res []catalog.Reservation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.releases == nil {
		q.releases = map[string][]catalog.Reservation{}
	}
	q.releases[orderID] = res
	return nil
}

// hookCatalog runs after once the snapshot is read, before pricing.
type hookCatalog struct {
	inner Catalog
	after func()
}

func (h *hookCatalog) FindAllByID(ctx context.Context, ids []string) ([]catalog.Product, error) {
	ps, err := h.inner.FindAllByID(ctx, ids)
	if h.after != nil {
		h.after()
	}
	return ps, err
}

type recordingNotifier struct {
	placed []string
	err    error
}

func (n *recordingNotifier) OrderPlaced(ctx context.Context, order orders.Order) error {
	n.placed = append(n.placed, order.OrderID)
	return n.err
}
