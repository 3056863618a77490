package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope envuelve cualquier evento de dominio con su posición en el agregado.
// Sequence es la versión del agregado justo después de aplicar el evento.
type Envelope[E any] struct {
	AggregateType string
	AggregateID   uuid.UUID
	Sequence      int64
	OccurredAt    time.Time
	Event         E
}

// EventMetadata describe cómo se enruta un tipo de evento.
type EventMetadata struct {
	Topic         string
	SchemaVersion int
}
