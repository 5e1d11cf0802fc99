package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/validation"
)

func (a *api) registerCustomerRoutes(r *gin.Engine) {
	r.POST("/customers", func(c *gin.Context) {
		var req validation.CreateCustomerRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		cust, err := a.cfg.Customers.Create(c.Request.Context(), req.Name, req.Email)
		if err != nil {
			obs.Logger.Error("create_customer_failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.Header("Location", fmt.Sprintf("/customers/%s", cust.CustomerID))
		c.JSON(http.StatusCreated, cust)
	})

	r.GET("/customers/:id", func(c *gin.Context) {
		cust, err := a.cfg.Customers.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			obs.Logger.Error("get_customer_failed", "customer_id", c.Param("id"), "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if cust == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
			return
		}
		c.JSON(http.StatusOK, cust)
	})
}
