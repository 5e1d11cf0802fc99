// Package placement is the order placement engine: it validates a request
// against one catalog snapshot, prices it from that snapshot and commits the
// order together with a conditional stock reservation.
//
// The engine holds no locks. Two placements racing for the last units are
// arbitrated by the storage layer: the reservation is "take K only if at
// least K are on hand", and a rejected reservation is reported as
// InsufficientStock.
package placement

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
)

// MaxDistinctProducts bounds one placement: the order and one stock update per
// product have to fit in a single 100-item DynamoDB transaction.
const MaxDistinctProducts = 99

const defaultCommitTimeout = 5 * time.Second

// LineRequest is one caller-supplied (product, quantity) pair.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CustomerReader resolves customers by id; (nil, nil) means unknown.
type CustomerReader interface {
	Get(ctx context.Context, customerID string) (*customers.Customer, error)
}

// Catalog returns the products among ids that exist, omitting unknown ones.
type Catalog interface {
	FindAllByID(ctx context.Context, ids []string) ([]catalog.Product, error)
}

// Committer persists a priced order and takes its stock, all or nothing.
// Implementations return *apperr.Error values: InsufficientStock when a
// conditional decrement is rejected, PersistenceFailure otherwise.
type Committer interface {
	Commit(ctx context.Context, order orders.Order, res []catalog.Reservation) error
}

// Notifier is told about committed orders. Its failures are logged only.
type Notifier interface {
	OrderPlaced(ctx context.Context, order orders.Order) error
}

// Service places orders.
type Service struct {
	customers     CustomerReader
	catalog       Catalog
	committer     Committer
	metrics       metrics.Recorder
	notifier      Notifier
	nowFunc       func() time.Time
	newID         func() string
	commitTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFunc = now } }

func WithIDGenerator(newID func() string) Option { return func(s *Service) { s.newID = newID } }

// WithCommitTimeout bounds the non-cancelable commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.commitTimeout = d
		}
	}
}

func WithMetrics(rec metrics.Recorder) Option { return func(s *Service) { s.metrics = rec } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// NewService builds the engine around its three collaborators.
func NewService(customerReader CustomerReader, cat Catalog, committer Committer, opts ...Option) *Service {
	s := &Service{
		customers:     customerReader,
		catalog:       cat,
		committer:     committer,
		metrics:       metrics.Nop{},
		nowFunc:       time.Now,
		newID:         func() string { return ulid.Make().String() },
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Place validates, prices and commits an order.
//
// Failures are reported for the first offending line in caller order. Until
// the commit starts, a cancelled ctx aborts the placement with no effect; once
// the commit starts it runs to completion, bounded by the commit timeout.
func (s *Service) Place(ctx context.Context, customerID string, lines []LineRequest) (*orders.Order, error) {
	order, err := s.place(ctx, customerID, lines)
	if err != nil {
		if kind := apperr.KindOf(err); kind != "" {
			s.metrics.PlacementRejected(kind)
		}
		obs.Logger.Info("order_rejected", "customer_id", customerID, "lines", len(lines), "error", err.Error())
		return nil, err
	}
	return order, nil
}

func (s *Service) place(ctx context.Context, customerID string, lines []LineRequest) (*orders.Order, error) {
	if customerID == "" {
		return nil, apperr.InvalidRequest("customer_id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, apperr.PersistenceFailure("customer lookup", err)
	}
	if customer == nil {
		return nil, apperr.CustomerNotFound(customerID)
	}

	if len(lines) == 0 {
		return nil, apperr.EmptyOrder()
	}
	ids, err := distinctIDs(lines)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	products, err := s.catalog.FindAllByID(ctx, ids)
	if err != nil {
		return nil, apperr.PersistenceFailure("catalog read", err)
	}
	if len(products) == 0 {
		return nil, apperr.EmptyOrder()
	}
	snapshot := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		snapshot[p.ProductID] = p
	}

	priced, err := priceLines(lines, snapshot)
	if err != nil {
		return nil, err
	}

	order := orders.Order{
		OrderID:    s.newID(),
		CustomerID: customerID,
		Status:     orders.StatusPlaced,
		Lines:      priced,
		Total:      orders.TotalOf(priced),
		CreatedAt:  s.nowFunc().UTC(),
	}
	res := make([]catalog.Reservation, 0, len(priced))
	for _, l := range priced {
		res = append(res, catalog.Reservation{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	res, err = catalog.MergeReservations(res)
	if err != nil {
		return nil, apperr.InvalidRequest("%s", err.Error())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()
	if err := s.committer.Commit(commitCtx, order, res); err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.PersistenceFailure("order write", err)
		}
		return nil, err
	}

	order.Customer = customer
	s.metrics.OrderPlaced(len(priced), order.Total)
	obs.Logger.Info("order_placed",
		"order_id", order.OrderID,
		"customer_id", customerID,
		"lines", len(priced),
		"units", catalog.Units(res),
		"total", order.Total.String(),
	)
	if s.notifier != nil {
		if err := s.notifier.OrderPlaced(commitCtx, order); err != nil {
			obs.Logger.Warn("order_event_failed", "order_id", order.OrderID, "error", err.Error())
		}
	}
	return &order, nil
}

// distinctIDs checks line shape and returns product ids in first-seen order.
func distinctIDs(lines []LineRequest) ([]string, error) {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for i, l := range lines {
		if l.ProductID == "" {
			return nil, apperr.InvalidRequest("line %d: product_id is required", i)
		}
		if l.Quantity <= 0 {
			return nil, apperr.InvalidRequest("line %d: quantity must be positive, got %d", i, l.Quantity)
		}
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	if len(ids) > MaxDistinctProducts {
		return nil, apperr.InvalidRequest("at most %d distinct products per order, got %d", MaxDistinctProducts, len(ids))
	}
	return ids, nil
}

// priceLines runs the existence pass, then the availability pass, both in
// caller order, and prices every line from the snapshot. Availability is
// checked against cumulative demand, so two lines for the same product
// together may not exceed what is on hand.
func priceLines(lines []LineRequest, snapshot map[string]catalog.Product) ([]orders.Line, error) {
	for _, l := range lines {
		if _, ok := snapshot[l.ProductID]; !ok {
			return nil, apperr.ProductNotFound(l.ProductID)
		}
	}

	// demand never exceeds what is on hand, so comparing against the
	// remainder cannot overflow however large a single quantity is.
	demand := make(map[string]int, len(snapshot))
	for _, l := range lines {
		if l.Quantity > snapshot[l.ProductID].Quantity-demand[l.ProductID] {
			return nil, apperr.InsufficientStock(l.ProductID, l.Quantity)
		}
		demand[l.ProductID] += l.Quantity
	}

	priced := make([]orders.Line, 0, len(lines))
	for _, l := range lines {
		priced = append(priced, orders.Line{
			ProductID: l.ProductID,
			UnitPrice: snapshot[l.ProductID].Price,
			Quantity:  l.Quantity,
		})
	}
	return priced, nil
}
