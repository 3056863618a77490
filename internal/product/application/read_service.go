package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedCache "github.com/davicafu/productregistry/internal/shared/infra/platform/cache"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ReadService agrupa las consultas sobre el modelo de lectura.
type ReadService struct {
	views       productDomain.ProductViewRepository
	events      sharedDomain.EventLog
	cache       sharedCache.Cache
	cacheTTL    time.Duration
	broadcaster *Broadcaster
	log         *zap.Logger
}

func NewReadService(
	views productDomain.ProductViewRepository,
	events sharedDomain.EventLog,
	cache sharedCache.Cache,
	cacheTTL time.Duration,
	broadcaster *Broadcaster,
	log *zap.Logger,
) *ReadService {
	return &ReadService{
		views:       views,
		events:      events,
		cache:       cache,
		cacheTTL:    cacheTTL,
		broadcaster: broadcaster,
		log:         log,
	}
}

// GetProduct obtiene una vista usando cache-aside.
func (s *ReadService) GetProduct(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	// 1. Intentar caché
	if s.cache != nil {
		var v productDomain.ProductView
		if hit, _ := s.cache.Get(ctx, productDomain.CacheKeyByID(id), &v); hit {
			return &v, nil
		}
	}

	// 2. Ir al View Store
	view, err := s.views.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, productDomain.ErrProductNotFound) {
			s.log.Error("Failed to fetch product view", zap.String("aggregate_id", id.String()), zap.Error(err))
		}
		return nil, err
	}

	// 3. Poblar caché sin bloquear la respuesta
	sharedCache.AsyncCacheFill(s.cache, productDomain.CacheKeyByID(id), view, s.ttlSecs(), s.log)
	return view, nil
}

func (s *ReadService) GetProductBySku(ctx context.Context, sku string) (*productDomain.ProductView, error) {
	skuID, err := productDomain.NewSkuID(sku)
	if err != nil {
		return nil, err
	}
	return s.views.FindBySku(ctx, skuID.String())
}

// SearchProducts pagina las vistas cuyo SKU contiene skuPattern, ordenadas por SKU.
// page empieza en 0.
func (s *ReadService) SearchProducts(ctx context.Context, skuPattern string, page, size int) (sharedQuery.Page[productDomain.ProductSummary], error) {
	page, size = normalizePage(page, size)

	views, total, err := s.views.Search(ctx,
		productDomain.SkuLikeCriteria{Pattern: skuPattern},
		sharedQuery.PageOf(page, size),
		sharedQuery.Sort{Field: "sku_id"},
	)
	if err != nil {
		return sharedQuery.Page[productDomain.ProductSummary]{}, err
	}

	items := make([]productDomain.ProductSummary, 0, len(views))
	for _, v := range views {
		items = append(items, v.Summary())
	}
	return sharedQuery.Page[productDomain.ProductSummary]{Items: items, Page: page, Size: size, Total: total}, nil
}

// History devuelve las entradas del event log de un producto en orden de versión.
func (s *ReadService) History(ctx context.Context, id uuid.UUID) ([]sharedDomain.EventLogEntry, error) {
	entries, err := s.events.LoadStream(ctx, productDomain.AggregateType, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", productDomain.ErrProductNotFound, id)
	}
	return entries, nil
}

// StreamProductEvents emite las notificaciones de un único producto.
func (s *ReadService) StreamProductEvents(ctx context.Context, id uuid.UUID) iter.Seq[Notification] {
	return func(yield func(Notification) bool) {
		for n := range s.broadcaster.Stream(ctx) {
			if n.AggregateID != id {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// StreamProductListEvents emite las notificaciones de los productos de una
// página de búsqueda, más los registrados después que encajen en el patrón.
func (s *ReadService) StreamProductListEvents(ctx context.Context, skuPattern string, page, size int) (iter.Seq[Notification], error) {
	result, err := s.SearchProducts(ctx, skuPattern, page, size)
	if err != nil {
		return nil, err
	}
	visible := make(map[uuid.UUID]struct{}, len(result.Items))
	for _, item := range result.Items {
		visible[item.ID] = struct{}{}
	}
	pattern := strings.ToUpper(strings.TrimSpace(skuPattern))

	return func(yield func(Notification) bool) {
		for n := range s.broadcaster.Stream(ctx) {
			if _, ok := visible[n.AggregateID]; !ok {
				if n.EventType != productDomain.EventRegistered || !s.matchesPattern(ctx, n.AggregateID, pattern) {
					continue
				}
				visible[n.AggregateID] = struct{}{}
			}
			if !yield(n) {
				return
			}
		}
	}, nil
}

func (s *ReadService) matchesPattern(ctx context.Context, id uuid.UUID, pattern string) bool {
	if pattern == "" {
		return true
	}
	view, err := s.views.FindByID(ctx, id)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToUpper(view.SkuID), pattern)
}

// ReplayView reconstruye la vista desde el event log y la guarda si va por
// delante de la almacenada.
func (s *ReadService) ReplayView(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	entries, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}

	history := make([]productDomain.Envelope, 0, len(entries))
	for _, entry := range entries {
		env, err := productDomain.FromLogEntry(entry)
		if err != nil {
			return nil, err
		}
		history = append(history, env)
	}
	rebuilt, err := productDomain.Replay(history)
	if err != nil {
		return nil, err
	}

	stored, err := s.views.FindByID(ctx, id)
	var expected int64
	switch {
	case errors.Is(err, productDomain.ErrProductNotFound):
	case err != nil:
		return nil, err
	case stored.Version >= rebuilt.Version:
		return stored, nil
	default:
		expected = stored.Version
	}

	if err := s.views.Save(ctx, rebuilt, expected); err != nil {
		if errors.Is(err, productDomain.ErrViewVersionMismatch) {
			// Una proyección se adelantó; lo cacheado puede ser anterior a ella.
			sharedCache.Invalidate(ctx, s.cache, productDomain.CacheKeyByID(id), s.log)
		}
		return nil, err
	}
	s.log.Info("♻️ Vista reconstruida desde el event log",
		zap.String("aggregate_id", id.String()),
		zap.Int64("version", rebuilt.Version),
	)
	// La siguiente lectura rellena desde el View Store.
	sharedCache.Invalidate(ctx, s.cache, productDomain.CacheKeyByID(id), s.log)
	return rebuilt, nil
}

func (s *ReadService) ttlSecs() int {
	return int(s.cacheTTL.Seconds())
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
