package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterProductRoutes registra las rutas de comandos, consultas y streams.
func RegisterProductRoutes(r *gin.Engine, handler *ProductHandler) {
	products := r.Group("/products")
	{
		products.POST("", handler.RegisterProduct)
		products.GET("", handler.SearchProducts)
		products.GET("/sku/:sku", handler.GetProductBySku)
		products.GET("/:id", handler.GetProduct)
		products.PATCH("/:id/name", handler.RenameProduct)
		products.PATCH("/:id/description", handler.ChangeDescription)
		products.DELETE("/:id", handler.RetireProduct)
		products.GET("/:id/history", handler.History)
		products.GET("/:id/stream", handler.StreamProduct)
	}

	r.GET("/streams/products", handler.StreamProductList)
}

// RegisterAdminRoutes registra la superficie de operadores.
func RegisterAdminRoutes(r *gin.Engine, handler *AdminHandler) {
	admin := r.Group("/admin")
	{
		admin.GET("/outbox/dead-letters", handler.ListDeadLetters)
		admin.POST("/outbox/:id/retry", handler.RetryDeadLetter)
		admin.POST("/products/:id/replay", handler.ReplayProduct)
		admin.GET("/analytics/daily", handler.DailyCounts)
	}
}

func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
