package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

var (
	// ErrConcurrencyConflict indica que otro escritor ya avanzó el agregado más allá de la versión esperada.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// EventLogEntry es el registro durable e inmutable de un evento.
// Para un (AggregateType, AggregateID) fijo, AggregateVersion forma la secuencia 1..N sin huecos.
type EventLogEntry struct {
	LogID              int64           `json:"logId"`
	AggregateType      string          `json:"aggregateType"`
	AggregateID        uuid.UUID       `json:"aggregateId"`
	AggregateVersion   int64           `json:"aggregateVersion"`
	EventType          string          `json:"eventType"`
	EventSchemaVersion int             `json:"eventSchemaVersion"`
	OccurredAt         time.Time       `json:"occurredAt"`
	Payload            json.RawMessage `json:"payload"`
}

// PartitionKey agrupa por agregado, así el orden por agregado sobrevive al particionado.
func (e EventLogEntry) PartitionKey() string {
	return e.AggregateID.String()
}

// EventLog es el almacén append-only de eventos.
type EventLog interface {
	// Append debe ejecutarse con el mismo q (transacción) que persiste el estado del agregado.
	// Devuelve ErrConcurrencyConflict si la versión más alta registrada no es expectedVersion.
	// LogID lo asigna el almacén.
	Append(ctx context.Context, q persistence.DBTX, expectedVersion int64, entry EventLogEntry) (EventLogEntry, error)

	// LoadStream devuelve los eventos del agregado en orden de versión.
	LoadStream(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]EventLogEntry, error)
}
