// Package metrics records placement outcomes. Recorder implementations must
// never fail the caller: a metrics backend outage only shows up in the logs.
package metrics

import (
	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

// Recorder receives the business events worth counting.
type Recorder interface {
	OrderPlaced(lines int, total money.Amount)
	PlacementRejected(kind apperr.Kind)
	StockReleased(units int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderPlaced(int, money.Amount)  {}
func (Nop) PlacementRejected(apperr.Kind) {}
func (Nop) StockReleased(int)             {}
