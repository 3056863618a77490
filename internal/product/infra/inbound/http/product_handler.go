package http

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/productregistry/internal/product/application"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/pkg/utils"
)

// ProductHandler encapsula los endpoints HTTP de comandos y consultas de Product.
type ProductHandler struct {
	commands *application.ProductService
	queries  *application.ReadService
	log      *zap.Logger
}

func NewProductHandler(commands *application.ProductService, queries *application.ReadService, log *zap.Logger) *ProductHandler {
	return &ProductHandler{commands: commands, queries: queries, log: log}
}

type versionResponse struct {
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`
}

// ---------------- Comandos ----------------

// RegisterProduct endpoint POST /products
func (h *ProductHandler) RegisterProduct(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		SkuID       string `json:"skuId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	p, err := h.commands.Register(c.Request.Context(), req.Name, req.Description, req.SkuID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, versionResponse{ID: p.ID, Version: p.Version})
}

// RenameProduct endpoint PATCH /products/:id/name
func (h *ProductHandler) RenameProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	p, err := h.commands.Rename(c.Request.Context(), id, req.Name)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse{ID: p.ID, Version: p.Version})
}

// ChangeDescription endpoint PATCH /products/:id/description
func (h *ProductHandler) ChangeDescription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	// Puntero para distinguir "ausente" de "vacía": vaciar la descripción es válido.
	var req struct {
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if req.Description == nil {
		utils.SendBadRequest(c, "description is required")
		return
	}

	p, err := h.commands.ChangeDescription(c.Request.Context(), id, *req.Description)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse{ID: p.ID, Version: p.Version})
}

// RetireProduct endpoint DELETE /products/:id
func (h *ProductHandler) RetireProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.commands.Retire(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse{ID: p.ID, Version: p.Version})
}

// ---------------- Consultas ----------------

// GetProduct endpoint GET /products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.queries.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetProductBySku endpoint GET /products/sku/:sku
func (h *ProductHandler) GetProductBySku(c *gin.Context) {
	view, err := h.queries.GetProductBySku(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SearchProducts endpoint GET /products?sku=&page=&size=
func (h *ProductHandler) SearchProducts(c *gin.Context) {
	page, size, ok := parsePage(c)
	if !ok {
		return
	}
	result, err := h.queries.SearchProducts(c.Request.Context(), c.Query("sku"), page, size)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History endpoint GET /products/:id/history
func (h *ProductHandler) History(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entries, err := h.queries.History(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// StreamProduct endpoint GET /products/:id/stream (SSE)
func (h *ProductHandler) StreamProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	h.stream(c, h.queries.StreamProductEvents(c.Request.Context(), id))
}

// StreamProductList endpoint GET /streams/products?sku=&page=&size= (SSE)
func (h *ProductHandler) StreamProductList(c *gin.Context) {
	page, size, ok := parsePage(c)
	if !ok {
		return
	}
	seq, err := h.queries.StreamProductListEvents(c.Request.Context(), c.Query("sku"), page, size)
	if err != nil {
		h.sendError(c, err)
		return
	}
	h.stream(c, seq)
}

// stream envía cada notificación como evento SSE hasta que el cliente se va.
func (h *ProductHandler) stream(c *gin.Context, seq iter.Seq[application.Notification]) {
	next, stop := iter.Pull(seq)
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.log.Debug("📡 Stream SSE abierto", zap.String("path", c.FullPath()))
	c.Stream(func(w io.Writer) bool {
		n, ok := next()
		if !ok {
			return false
		}
		c.SSEvent(string(n.EventType), n)
		return true
	})
	h.log.Debug("📴 Stream SSE cerrado", zap.String("path", c.FullPath()))
}

// ---------------- Helpers ----------------

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}

func parsePage(c *gin.Context) (int, int, bool) {
	page, size := 0, 0
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			utils.SendBadRequest(c, "invalid page")
			return 0, 0, false
		}
		page = n
	}
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			utils.SendBadRequest(c, "invalid size")
			return 0, 0, false
		}
		size = n
	}
	return page, size, true
}

// sendError traduce los errores de dominio a códigos HTTP.
func (h *ProductHandler) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, productDomain.ErrProductNotFound):
		utils.SendNotFound(c, err.Error())
	case errors.Is(err, productDomain.ErrDuplicateSku),
		errors.Is(err, productDomain.ErrInvalidState),
		errors.Is(err, sharedDomain.ErrConcurrencyConflict):
		utils.SendConflict(c, err.Error())
	case errors.Is(err, productDomain.ErrInvalidSku),
		errors.Is(err, productDomain.ErrInvalidProduct):
		utils.SendBadRequest(c, err.Error())
	default:
		h.log.Error("Error interno atendiendo petición", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
	}
}
