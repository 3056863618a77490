package bus

import "context"

type Keyer interface {
	PartitionKey() string
}

// EventBus entrega un evento a un consumidor. Un error significa que la entrega
// no se completó y debe reintentarse.
// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventBus interface {
	Publish(ctx context.Context, event interface{}) error
}

// Named permite a un EventBus identificarse en logs y errores de entrega.
type Named interface {
	Name() string
}

// NameOf devuelve el nombre del bus o "bus" si no implementa Named.
func NameOf(b EventBus) string {
	if n, ok := b.(Named); ok {
		return n.Name()
	}
	return "bus"
}
