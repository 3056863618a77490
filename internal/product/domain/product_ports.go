package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
)

// ---------- Errores de dominio ----------
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrDuplicateSku        = errors.New("sku already in use")
	ErrInvalidState        = errors.New("product is retired")
	ErrInvalidSku          = errors.New("invalid sku")
	ErrInvalidProduct      = errors.New("invalid product")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrViewVersionMismatch = errors.New("view version mismatch")
	ErrOrderingGap         = errors.New("event arrived ahead of the projected version")
)

// ---------- Interfaces (Ports) ----------

// ProductRepository persiste el agregado junto con su evento y la intención de entrega.
type ProductRepository interface {
	// Save guarda p, añade evt al event log y lo encola en el outbox en una sola transacción.
	// expectedVersion 0 significa alta. Devuelve sharedDomain.ErrConcurrencyConflict si la
	// versión almacenada no es expectedVersion y ErrDuplicateSku si el SKU ya existe.
	Save(ctx context.Context, p *Product, expectedVersion int64, evt Envelope) error

	// Debe devolver ErrProductNotFound si no existe.
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)

	ExistsBySku(ctx context.Context, sku SkuID) (bool, error)
}

// ProductViewRepository es el View Store del modelo de lectura.
type ProductViewRepository interface {
	// Save inserta (expectedVersion 0) o actualiza la vista solo si su versión almacenada
	// es expectedVersion. Devuelve ErrViewVersionMismatch en otro caso.
	Save(ctx context.Context, v *ProductView, expectedVersion int64) error

	// Debe devolver ErrProductNotFound si no existe.
	FindByID(ctx context.Context, id uuid.UUID) (*ProductView, error)
	FindBySku(ctx context.Context, sku string) (*ProductView, error)

	// Search devuelve la página pedida y el total de coincidencias.
	Search(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]*ProductView, int64, error)
}

// DailyEventCount es una fila del resumen diario de eventos entregados.
type DailyEventCount struct {
	Day       time.Time `json:"day"`
	EventType string    `json:"eventType"`
	Count     uint64    `json:"count"`
}

type EventAnalyticsRepository interface {
	DailyCounts(ctx context.Context, start, end time.Time) ([]DailyEventCount, error)
}

// ---------- Helpers comunes (cache keys, etc.) ----------

func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("product:view:%s", id.String())
}
