package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

// Registry is the Prometheus-backed Recorder.
type Registry struct {
	reg           *prometheus.Registry
	OrdersPlaced  prometheus.Counter
	LinesPlaced   prometheus.Counter
	OrderValue    prometheus.Histogram
	Rejected      *prometheus.CounterVec
	UnitsReleased prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	placed := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_placed_total"})
	lines := prometheus.NewCounter(prometheus.CounterOpts{Name: "order_lines_placed_total"})
	value := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_value",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "placements_rejected_total"}, []string{"kind"})
	released := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_units_released_total"})

	r.MustRegister(placed, lines, value, rejected, released)
	return &Registry{
		reg:           r,
		OrdersPlaced:  placed,
		LinesPlaced:   lines,
		OrderValue:    value,
		Rejected:      rejected,
		UnitsReleased: released,
	}
}

func (r *Registry) OrderPlaced(lines int, total money.Amount) {
	r.OrdersPlaced.Inc()
	r.LinesPlaced.Add(float64(lines))
	r.OrderValue.Observe(total.InexactFloat64())
}

func (r *Registry) PlacementRejected(kind apperr.Kind) {
	r.Rejected.WithLabelValues(string(kind)).Inc()
}

func (r *Registry) StockReleased(units int) {
	r.UnitsReleased.Add(float64(units))
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
