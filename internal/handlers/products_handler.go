package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/validation"
)

func (a *api) registerProductRoutes(r *gin.Engine) {
	r.POST("/products", func(c *gin.Context) {
		var req validation.RegisterProductRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		p, err := a.cfg.Registrar.Register(c.Request.Context(), req.Name, *req.Price, *req.Quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/products/%s", p.ProductID))
		c.JSON(http.StatusCreated, p)
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := a.cfg.Products.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			obs.Logger.Error("get_product_failed", "product_id", c.Param("id"), "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})
}
