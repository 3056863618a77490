package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// OutboxMessage es una intención de entrega pendiente, 1:1 con una entrada del event log.
type OutboxMessage struct {
	ID            int64         `json:"id"`
	EventLogID    int64         `json:"eventLogId"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt time.Time     `json:"nextAttemptAt"`
	LastError     string        `json:"lastError,omitempty"`
	Entry         EventLogEntry `json:"entry"`
}

// Outbox encola la entrega en la misma transacción que el Append del event log.
type Outbox interface {
	Publish(ctx context.Context, q persistence.DBTX, entry EventLogEntry) error
}

// OutboxRepository define el contrato que necesita el dispatcher.
type OutboxRepository interface {
	// FetchReady reclama mensajes con attempts < maxRetries y nextAttemptAt <= now,
	// ordenados por la versión del evento origen. Un mensaje reclamado no se
	// devuelve a otro dispatcher hasta que se libera o vence la reclamación.
	FetchReady(ctx context.Context, aggregateType string, limit, maxRetries int) ([]OutboxMessage, error)

	// Delete elimina el mensaje tras una entrega correcta.
	Delete(ctx context.Context, msg OutboxMessage) error

	// MarkFailed incrementa attempts, guarda lastError y programa nextAttemptAt = now + backoff.
	MarkFailed(ctx context.Context, msg OutboxMessage, errDescription string, backoff time.Duration) error

	// Release devuelve los mensajes a su estado previo al intento, sin contar intento.
	Release(ctx context.Context, msgs ...OutboxMessage) error
}

// DeadLetterInspector expone los mensajes agotados a los operadores.
type DeadLetterInspector interface {
	ListDeadLettered(ctx context.Context, aggregateType string, maxRetries, limit int) ([]OutboxMessage, error)
	Requeue(ctx context.Context, id int64) error
}

// DeliveryError es un fallo transitorio al entregar un mensaje a un consumidor.
type DeliveryError struct {
	Consumer string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Consumer, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
