package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	productApp "github.com/davicafu/productregistry/internal/product/application"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
)

// ErrProjectionFailed marca eventos que no se pueden proyectar por mucho que se reintenten.
var ErrProjectionFailed = errors.New("projection failed")

// EntryDispatcher es la parte del ProjectionDispatcher que usa el consumidor.
type EntryDispatcher interface {
	DispatchEntry(ctx context.Context, entry sharedDomain.EventLogEntry) (productApp.ProjectionResult, error)
}

// ProjectionConsumer traduce resultados de proyección a resultados de entrega.
// Sirve como publisher del outbox (Publish) y como handler de Kafka (HandleMessage).
type ProjectionConsumer struct {
	dispatcher EntryDispatcher
	timeout    time.Duration
	log        *zap.Logger
}

func NewProjectionConsumer(dispatcher EntryDispatcher, log *zap.Logger) *ProjectionConsumer {
	return &ProjectionConsumer{dispatcher: dispatcher, timeout: 5 * time.Second, log: log}
}

func (c *ProjectionConsumer) Name() string { return "projection" }

// Publish recibe una sharedDomain.EventLogEntry, por valor o puntero.
func (c *ProjectionConsumer) Publish(ctx context.Context, event interface{}) error {
	switch e := event.(type) {
	case sharedDomain.EventLogEntry:
		return c.project(ctx, e)
	case *sharedDomain.EventLogEntry:
		if e == nil {
			return fmt.Errorf("%w: nil entry", ErrProjectionFailed)
		}
		return c.project(ctx, *e)
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrProjectionFailed, event)
	}
}

// HandleMessage decodifica la entrada serializada que llega por Kafka o por el bus.
func (c *ProjectionConsumer) HandleMessage(ctx context.Context, key string, payload []byte) error {
	var entry sharedDomain.EventLogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		c.log.Warn("Failed to unmarshal event log entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrProjectionFailed, err)
	}
	return c.project(ctx, entry)
}

func (c *ProjectionConsumer) project(ctx context.Context, entry sharedDomain.EventLogEntry) error {
	projCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.dispatcher.DispatchEntry(projCtx, entry)
	if err != nil {
		return err
	}

	switch res.Kind {
	case productApp.ProjectionSuccess:
		return nil
	case productApp.ProjectionNoOp:
		if res.NoOpReason == productApp.NoOpGap {
			return fmt.Errorf("%w: %s %s at sequence %d",
				productDomain.ErrOrderingGap, entry.EventType, entry.AggregateID, entry.AggregateVersion)
		}
		return nil
	default:
		c.log.Error("❌ Fallo de proyección",
			zap.Int64("log_id", entry.LogID),
			zap.String("aggregate_id", entry.AggregateID.String()),
			zap.Int64("sequence", entry.AggregateVersion),
			zap.String("reason", res.Reason),
		)
		return fmt.Errorf("%w: %s", ErrProjectionFailed, res.Reason)
	}
}

// IsRetryable indica si un error de HandleMessage puede resolverse reintentando.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrProjectionFailed)
}

var (
	_ sharedBus.EventBus = (*ProjectionConsumer)(nil)
	_ sharedBus.Named    = (*ProjectionConsumer)(nil)
)
