package relayer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedDomainEvents "github.com/davicafu/productregistry/internal/shared/domain/events"
	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

// Config agrupa los parámetros del dispatcher de un tipo de agregado.
type Config struct {
	AggregateType string
	Interval      time.Duration
	BatchSize     int
	MaxRetries    int
	Backoff       sharedUtils.BackoffPolicy
	// Parallelism limita los agregados entregados a la vez; 0 = sin límite.
	Parallelism int
}

// DeadLetterSink recibe los mensajes que agotan sus reintentos.
type DeadLetterSink interface {
	Record(ctx context.Context, msg sharedDomain.OutboxMessage, reason string) error
}

// Worker procesa los mensajes listos del outbox: entrega, borra o reprograma.
type Worker struct {
	repo          sharedDomain.OutboxRepository
	publishers    []sharedBus.EventBus
	eventRegistry map[string]sharedDomainEvents.EventMetadata
	cfg           Config
	deadLetters   DeadLetterSink
	log           *zap.Logger
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	publishers []sharedBus.EventBus,
	registry map[string]sharedDomainEvents.EventMetadata,
	cfg Config,
	log *zap.Logger,
) *Worker {
	return &Worker{
		repo:          repo,
		publishers:    publishers,
		eventRegistry: registry,
		cfg:           cfg,
		log:           log.With(zap.String("aggregate_type", cfg.AggregateType)),
	}
}

// WithDeadLetterSink registra dónde anotar los mensajes agotados.
func (w *Worker) WithDeadLetterSink(sink DeadLetterSink) *Worker {
	w.deadLetters = sink
	return w
}

// Start inicia el bucle de polling del worker. Bloquea hasta que ctx termina.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.log.Debug("🔄 Ejecutando polling de outbox")
			_, _ = w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch reclama un lote y lo entrega: en serie dentro de cada agregado,
// en paralelo entre agregados. Devuelve cuántos mensajes se entregaron.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := w.repo.FetchReady(ctx, w.cfg.AggregateType, w.cfg.BatchSize, w.cfg.MaxRetries)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener mensajes listos", zap.Error(err))
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	w.log.Info(fmt.Sprintf("📬 %d mensajes encontrados para procesar", len(msgs)))

	var delivered atomic.Int64
	var g errgroup.Group
	if w.cfg.Parallelism > 0 {
		g.SetLimit(w.cfg.Parallelism)
	}
	for _, group := range groupByAggregate(msgs) {
		g.Go(func() error {
			delivered.Add(int64(w.deliverGroup(ctx, group)))
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load()), nil
}

// deliverGroup entrega los mensajes de un agregado en orden. El primer fallo
// detiene el grupo y libera el resto para no adelantar versiones.
func (w *Worker) deliverGroup(ctx context.Context, group []sharedDomain.OutboxMessage) int {
	delivered := 0
	for i, msg := range group {
		if ctx.Err() != nil {
			w.release(ctx, group[i:])
			return delivered
		}

		if err := w.deliver(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Apagado durante la entrega: el mensaje vuelve a su estado previo.
				w.release(ctx, group[i:])
				return delivered
			}
			w.fail(ctx, msg, err)
			w.release(ctx, group[i+1:])
			return delivered
		}

		if err := w.repo.Delete(context.WithoutCancel(ctx), msg); err != nil {
			w.log.Warn("⚠️ Entregado pero no se pudo borrar del outbox; se reentregará",
				zap.Int64("outbox_id", msg.ID),
				zap.Error(err),
			)
		} else {
			w.log.Info("✅ Evento entregado y borrado del outbox",
				zap.Int64("outbox_id", msg.ID),
				zap.String("aggregate_id", msg.Entry.AggregateID.String()),
				zap.Int64("sequence", msg.Entry.AggregateVersion),
			)
		}
		delivered++
	}
	return delivered
}

func (w *Worker) deliver(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	if _, ok := w.eventRegistry[msg.Entry.EventType]; !ok {
		return fmt.Errorf("unknown event type %q", msg.Entry.EventType)
	}
	for _, publisher := range w.publishers {
		if err := publisher.Publish(ctx, msg.Entry); err != nil {
			return &sharedDomain.DeliveryError{Consumer: sharedBus.NameOf(publisher), Err: err}
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, msg sharedDomain.OutboxMessage, cause error) {
	bookkeeping := context.WithoutCancel(ctx)
	delay := w.cfg.Backoff.Delay(msg.Attempts)

	if err := w.repo.MarkFailed(bookkeeping, msg, cause.Error(), delay); err != nil {
		w.log.Warn("⚠️ No se pudo registrar el fallo de entrega",
			zap.Int64("outbox_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	fields := []zap.Field{
		zap.Int64("outbox_id", msg.ID),
		zap.String("aggregate_id", msg.Entry.AggregateID.String()),
		zap.Int64("sequence", msg.Entry.AggregateVersion),
		zap.Int("attempts", msg.Attempts+1),
		zap.Error(cause),
	}
	if msg.Attempts+1 < w.cfg.MaxRetries {
		w.log.Warn("⚠️ Entrega fallida, se reintentará", append(fields, zap.Duration("backoff", delay))...)
		return
	}

	w.log.Error("☠️ Mensaje de outbox agotado, queda para inspección manual", fields...)
	if w.deadLetters != nil {
		msg.Attempts++
		msg.LastError = cause.Error()
		if err := w.deadLetters.Record(bookkeeping, msg, cause.Error()); err != nil {
			w.log.Warn("⚠️ No se pudo anotar el mensaje agotado", zap.Int64("outbox_id", msg.ID), zap.Error(err))
		}
	}
}

func (w *Worker) release(ctx context.Context, msgs []sharedDomain.OutboxMessage) {
	if len(msgs) == 0 {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.repo.Release(releaseCtx, msgs...); err != nil {
		w.log.Warn("⚠️ No se pudieron liberar mensajes reclamados", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

// groupByAggregate conserva el orden de llegada dentro de cada agregado.
func groupByAggregate(msgs []sharedDomain.OutboxMessage) [][]sharedDomain.OutboxMessage {
	index := make(map[string]int)
	var groups [][]sharedDomain.OutboxMessage
	for _, msg := range msgs {
		key := msg.Entry.PartitionKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], msg)
	}
	return groups
}
