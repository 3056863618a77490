package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedCache "github.com/davicafu/productregistry/internal/shared/infra/platform/cache"
)

type ProjectionKind int

const (
	ProjectionSuccess ProjectionKind = iota
	ProjectionNoOp
	ProjectionFailure
)

func (k ProjectionKind) String() string {
	switch k {
	case ProjectionSuccess:
		return "success"
	case ProjectionNoOp:
		return "noop"
	default:
		return "failure"
	}
}

type NoOpReason int

const (
	NoOpNone NoOpReason = iota
	NoOpDuplicate
	NoOpGap
)

func (r NoOpReason) String() string {
	switch r {
	case NoOpDuplicate:
		return "duplicate"
	case NoOpGap:
		return "gap"
	default:
		return ""
	}
}

// ProjectionResult es el resultado de proyectar un evento. View solo se
// rellena en Success y Reason solo en Failure.
type ProjectionResult struct {
	Kind       ProjectionKind
	NoOpReason NoOpReason
	View       *productDomain.ProductView
	Reason     string
}

func success(v *productDomain.ProductView) ProjectionResult {
	return ProjectionResult{Kind: ProjectionSuccess, View: v}
}

func noOp(reason NoOpReason) ProjectionResult {
	return ProjectionResult{Kind: ProjectionNoOp, NoOpReason: reason}
}

func failure(reason string) ProjectionResult {
	return ProjectionResult{Kind: ProjectionFailure, Reason: reason}
}

// ProjectionDispatcher pliega eventos en ProductView de forma idempotente.
type ProjectionDispatcher struct {
	views       productDomain.ProductViewRepository
	cache       sharedCache.Cache
	cacheTTL    time.Duration
	broadcaster *Broadcaster
	log         *zap.Logger
}

func NewProjectionDispatcher(
	views productDomain.ProductViewRepository,
	cache sharedCache.Cache,
	cacheTTL time.Duration,
	broadcaster *Broadcaster,
	log *zap.Logger,
) *ProjectionDispatcher {
	return &ProjectionDispatcher{
		views:       views,
		cache:       cache,
		cacheTTL:    cacheTTL,
		broadcaster: broadcaster,
		log:         log,
	}
}

// DispatchEntry decodifica una entrada del event log y la proyecta.
// Un tipo desconocido o un payload ilegible dan Failure.
func (d *ProjectionDispatcher) DispatchEntry(ctx context.Context, entry sharedDomain.EventLogEntry) (ProjectionResult, error) {
	env, err := productDomain.FromLogEntry(entry)
	if err != nil {
		d.log.Error("❌ Evento malformado, no se puede proyectar",
			zap.Int64("log_id", entry.LogID),
			zap.String("aggregate_id", entry.AggregateID.String()),
			zap.String("event_type", entry.EventType),
			zap.Error(err),
		)
		return failure(err.Error()), nil
	}
	return d.Dispatch(ctx, env)
}

// Dispatch aplica env si su secuencia es la siguiente a la de la vista.
// Los errores devueltos son de infraestructura y se pueden reintentar.
func (d *ProjectionDispatcher) Dispatch(ctx context.Context, env productDomain.Envelope) (ProjectionResult, error) {
	fields := []zap.Field{
		zap.String("aggregate_id", env.AggregateID.String()),
		zap.Int64("sequence", env.Sequence),
	}
	if env.Event == nil || env.AggregateType != productDomain.AggregateType {
		reason := fmt.Sprintf("%v: cannot project %q event", productDomain.ErrMalformedEvent, env.AggregateType)
		d.log.Error("❌ Evento malformado, no se puede proyectar", append(fields, zap.String("reason", reason))...)
		return failure(reason), nil
	}
	fields = append(fields, zap.String("event_type", string(env.Event.Type())))

	current, err := d.views.FindByID(ctx, env.AggregateID)
	if errors.Is(err, productDomain.ErrProductNotFound) {
		current = nil
	} else if err != nil {
		return ProjectionResult{}, fmt.Errorf("failed to load view: %w", err)
	}

	switch productDomain.Decide(current, env.Sequence) {
	case productDomain.DecisionDuplicate:
		d.log.Info("Evento ya proyectado, se ignora", fields...)
		return noOp(NoOpDuplicate), nil
	case productDomain.DecisionGap:
		d.log.Info("⏳ Hueco de secuencia, se espera la reentrega", fields...)
		return noOp(NoOpGap), nil
	}

	next, err := productDomain.Fold(current, env)
	if err != nil {
		d.log.Error("❌ No se pudo plegar el evento", append(fields, zap.Error(err))...)
		return failure(err.Error()), nil
	}

	var expected int64
	if current != nil {
		expected = current.Version
	}
	if err := d.views.Save(ctx, next, expected); err != nil {
		if errors.Is(err, productDomain.ErrViewVersionMismatch) {
			d.log.Info("Otra proyección ganó la carrera, se ignora", fields...)
			return noOp(NoOpDuplicate), nil
		}
		return ProjectionResult{}, fmt.Errorf("failed to save view: %w", err)
	}

	d.refreshCache(ctx, next)
	if d.broadcaster != nil {
		d.broadcaster.Broadcast(Notification{
			EventType:   env.Event.Type(),
			AggregateID: env.AggregateID,
			OccurredAt:  env.OccurredAt,
		})
	}

	d.log.Info("📦 Vista actualizada", fields...)
	return success(next), nil
}

// refreshCache es síncrono para que el orden por agregado también valga en caché.
func (d *ProjectionDispatcher) refreshCache(ctx context.Context, v *productDomain.ProductView) {
	if d.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()
	if err := d.cache.Set(cacheCtx, productDomain.CacheKeyByID(v.ID), v, int(d.cacheTTL.Seconds())); err != nil {
		d.log.Warn("Cache update failed", zap.String("aggregate_id", v.ID.String()), zap.Error(err))
	}
}
