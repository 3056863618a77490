package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/productregistry/internal/product/application"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/pkg/utils"
)

// DeadLetterJournal es el diario de mensajes agotados; opcional.
type DeadLetterJournal interface {
	Forget(ctx context.Context, outboxID int64) error
}

// AdminHandler expone la superficie de operadores: mensajes agotados, replay y analítica.
type AdminHandler struct {
	inspector  sharedDomain.DeadLetterInspector
	journal    DeadLetterJournal
	queries    *application.ReadService
	analytics  productDomain.EventAnalyticsRepository
	maxRetries int
	log        *zap.Logger
}

func NewAdminHandler(
	inspector sharedDomain.DeadLetterInspector,
	queries *application.ReadService,
	maxRetries int,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{inspector: inspector, queries: queries, maxRetries: maxRetries, log: log}
}

func (h *AdminHandler) WithJournal(journal DeadLetterJournal) *AdminHandler {
	h.journal = journal
	return h
}

func (h *AdminHandler) WithAnalytics(analytics productDomain.EventAnalyticsRepository) *AdminHandler {
	h.analytics = analytics
	return h
}

// ListDeadLetters endpoint GET /admin/outbox/dead-letters?limit=
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.SendBadRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.inspector.ListDeadLettered(c.Request.Context(), productDomain.AggregateType, h.maxRetries, limit)
	if err != nil {
		h.log.Error("Error listando mensajes agotados", zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}
	if msgs == nil {
		msgs = []sharedDomain.OutboxMessage{}
	}
	utils.SendSuccess(c, http.StatusOK, msgs)
}

// RetryDeadLetter endpoint POST /admin/outbox/:id/retry
func (h *AdminHandler) RetryDeadLetter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendBadRequest(c, "invalid outbox id")
		return
	}

	if err := h.inspector.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, sharedDomain.ErrOutboxMessageNotFound) {
			utils.SendNotFound(c, err.Error())
			return
		}
		h.log.Error("Error reencolando mensaje", zap.Int64("outbox_id", id), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}

	if h.journal != nil {
		if err := h.journal.Forget(c.Request.Context(), id); err != nil {
			h.log.Warn("⚠️ Reencolado pero no se pudo limpiar el diario", zap.Int64("outbox_id", id), zap.Error(err))
		}
	}
	h.log.Info("🔁 Mensaje reencolado por un operador", zap.Int64("outbox_id", id))
	c.Status(http.StatusNoContent)
}

// ReplayProduct endpoint POST /admin/products/:id/replay
func (h *AdminHandler) ReplayProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.queries.ReplayView(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, productDomain.ErrProductNotFound) {
			utils.SendNotFound(c, err.Error())
			return
		}
		h.log.Error("Error reconstruyendo vista", zap.String("aggregate_id", id.String()), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, view)
}

// DailyCounts endpoint GET /admin/analytics/daily?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AdminHandler) DailyCounts(c *gin.Context) {
	if h.analytics == nil {
		utils.SendError(c, http.StatusNotImplemented, "analytics disabled")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			utils.SendBadRequest(c, "invalid from date, use YYYY-MM-DD")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			utils.SendBadRequest(c, "invalid to date, use YYYY-MM-DD")
			return
		}
		to = to.Add(24*time.Hour - time.Millisecond)
	}

	counts, err := h.analytics.DailyCounts(c.Request.Context(), from, to)
	if err != nil {
		h.log.Error("Error consultando analítica", zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}
	if counts == nil {
		counts = []productDomain.DailyEventCount{}
	}
	utils.SendSuccess(c, http.StatusOK, counts)
}
