package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/placement"
	"github.com/imrishuroy/go-consistent-orders/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// registerOrdersRoutes registers routes for order API.
func (a *api) registerOrdersRoutes(r *gin.Engine) {
	r.POST("/orders", a.placeOrder)
	r.GET("/orders/:id", a.getOrder)
	r.GET("/customers/:id/orders", a.listCustomerOrders)
}

func (a *api) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()

	// Bind + validate request
	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	idempKey := c.GetHeader(headerIdempotent)
	if idempKey == "" || a.cfg.Idempotency == nil {
		status, body := a.place(ctx, req)
		a.respond(c, status, body)
		return
	}

	hash := requestHash(req)
	created, err := a.cfg.Idempotency.CreateIfNotExists(ctx, idempKey, hash)
	if err != nil {
		obs.Logger.Error("idempotency_create_failed", "key", idempKey, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		return
	}
	if !created {
		if proceed := a.replay(c, idempKey, hash); !proceed {
			return
		}
	}

	status, body := a.place(ctx, req)
	if status >= http.StatusInternalServerError {
		// let the client retry with the same key
		if err := a.cfg.Idempotency.MarkFailed(ctx, idempKey, string(body)); err != nil {
			obs.Logger.Warn("idempotency_mark_failed_error", "key", idempKey, "error", err.Error())
		}
	} else {
		orderID := ""
		if status == http.StatusCreated {
			orderID = orderIDOf(body)
		}
		// 4xx answers are final too: a retry with the same key gets the same answer
		if err := a.cfg.Idempotency.MarkDone(ctx, idempKey, orderID, string(body), status); err != nil {
			obs.Logger.Warn("idempotency_mark_done_error", "key", idempKey, "error", err.Error())
		}
	}
	a.respond(c, status, body)
}

// replay answers a repeated Idempotency-Key. It returns true when the caller
// owns the key again (a FAILED attempt was reclaimed) and should place the order.
func (a *api) replay(c *gin.Context, key, hash string) bool {
	rec, err := a.cfg.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		return false
	}
	if rec == nil {
		// expired between the create and the read
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_expired", "message": "retry the request"})
		return false
	}
	if rec.RequestHash != "" && rec.RequestHash != hash {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "message": "the key was used with a different request body"})
		return false
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return false
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
		return false
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
		return false
	case idempotency.StatusFailed:
		ok, err := a.cfg.Idempotency.Reclaim(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
			return false
		}
		if !ok {
			c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
			return false
		}
		return true
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
		return false
	}
}

// place runs the engine and renders the outcome as (status, JSON body).
func (a *api) place(ctx context.Context, req validation.PlaceOrderRequest) (int, []byte) {
	lines := make([]placement.LineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, placement.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	order, err := a.cfg.Placer.Place(ctx, req.CustomerID, lines)
	if err != nil {
		status, eb := errorResponse(err)
		if status >= http.StatusInternalServerError {
			obs.Logger.Error("place_order_failed", "customer_id", req.CustomerID, "error", err.Error())
		}
		body, _ := json.Marshal(eb)
		return status, body
	}
	body, err := json.Marshal(order)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":"internal_error","message":"internal error"}`)
	}
	return http.StatusCreated, body
}

func (a *api) respond(c *gin.Context, status int, body []byte) {
	if status == http.StatusCreated {
		if id := orderIDOf(body); id != "" {
			c.Header("Location", fmt.Sprintf("/orders/%s", id))
		}
	}
	c.Data(status, "application/json", body)
}

func (a *api) getOrder(c *gin.Context) {
	order, err := a.cfg.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		obs.Logger.Error("get_order_failed", "order_id", c.Param("id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *api) listCustomerOrders(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "msg": fmt.Sprintf("limit must be between 1 and %d", maxListLimit)})
			return
		}
		limit = n
	}
	list, err := a.cfg.Orders.ListByCustomer(c.Request.Context(), c.Param("id"), int32(limit))
	if err != nil {
		obs.Logger.Error("list_orders_failed", "customer_id", c.Param("id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// requestHash fingerprints the validated request so a reused key with a
// different body is detected.
func requestHash(req validation.PlaceOrderRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func orderIDOf(body []byte) string {
	var v struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return v.OrderID
}
