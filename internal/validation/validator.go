package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// prices are decimals, so the tag-based gte cannot see them
	v.RegisterStructValidation(registerProductStructValidation, RegisterProductRequest{})

	return v
}

// registerProductStructValidation rejects negative prices.
func registerProductStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RegisterProductRequest)
	if req.Price != nil && req.Price.IsNegative() {
		sl.ReportError(req.Price, "price", "Price", "price_not_negative", req.Price.String())
	}
}
