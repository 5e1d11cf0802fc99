package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
)

// errorBody is the JSON error payload.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// errorResponse maps an engine failure to a status code and payload.
func errorResponse(err error) (int, errorBody) {
	kind := apperr.KindOf(err)
	body := errorBody{Error: string(kind), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.ProductID = ae.ProductID
		body.Quantity = ae.Quantity
		body.Retryable = ae.Retryable()
	}
	switch kind {
	case apperr.KindCustomerNotFound, apperr.KindProductNotFound:
		return http.StatusNotFound, body
	case apperr.KindInsufficientStock, apperr.KindDuplicateProduct:
		return http.StatusConflict, body
	case apperr.KindEmptyOrder, apperr.KindInvalidRequest:
		return http.StatusUnprocessableEntity, body
	case apperr.KindPersistenceFailure:
		// storage details stay in the logs
		body.Message = "the order could not be stored, retry later"
		return http.StatusInternalServerError, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal error"}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		obs.Logger.Error("request_failed", "path", c.FullPath(), "request_id", c.GetString(ctxKeyRequestID), "error", err.Error())
	}
	c.JSON(status, body)
}
