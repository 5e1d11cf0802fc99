// Package registration inserts new products under a unique name.
package registration

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
)

// Catalog is the part of the catalog registration writes through.
type Catalog interface {
	FindByName(ctx context.Context, name string) (*catalog.Product, error)
	Create(ctx context.Context, p catalog.Product) (*catalog.Product, error)
}

// Service registers products.
type Service struct {
	catalog Catalog
}

func NewService(cat Catalog) *Service {
	return &Service{catalog: cat}
}

// Register creates a product. The name lookup only produces the friendlier
// error early; uniqueness is enforced by the conditional insert, so of two
// concurrent registrations with one name exactly one succeeds.
func (s *Service) Register(ctx context.Context, name string, price money.Amount, quantity int) (*catalog.Product, error) {
	if name == "" {
		return nil, s.reject(apperr.InvalidRequest("name is required"))
	}
	if price.IsNegative() {
		return nil, s.reject(apperr.InvalidRequest("price must not be negative, got %s", price))
	}
	if quantity < 0 {
		return nil, s.reject(apperr.InvalidRequest("quantity must not be negative, got %d", quantity))
	}

	existing, err := s.catalog.FindByName(ctx, name)
	if err != nil {
		return nil, apperr.PersistenceFailure("product lookup", err)
	}
	if existing != nil {
		return nil, s.reject(apperr.DuplicateProduct(name))
	}

	p, err := s.catalog.Create(ctx, catalog.NewProduct(name, price, quantity))
	if errors.Is(err, catalog.ErrNameTaken) {
		return nil, s.reject(apperr.DuplicateProduct(name))
	}
	if err != nil {
		return nil, apperr.PersistenceFailure("product insert", err)
	}
	obs.Logger.Info("product_registered", "product_id", p.ProductID, "name", name, "quantity", quantity)
	return p, nil
}

func (s *Service) reject(err *apperr.Error) error {
	obs.Logger.Info("product_rejected", "kind", string(err.Kind), "error", err.Error())
	return err
}
