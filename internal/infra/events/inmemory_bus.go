package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
)

var ErrBusClosed = errors.New("event bus closed")

// MessageHandler procesa un mensaje serializado; key es la clave de partición.
// Un error indica que el mensaje no se procesó.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, payload []byte) error
}

// InMemoryEventBus implementa un bus de eventos para UN solo topic.
// Publish entrega en orden y sin bloquear: si el buffer de un suscriptor está lleno, ese suscriptor pierde el mensaje.
type InMemoryEventBus struct {
	subscribers []chan []byte
	mu          sync.RWMutex
	closed      bool
	topic       string
}

var (
	_ sharedBus.EventBus = (*InMemoryEventBus)(nil)
	_ sharedBus.Named    = (*InMemoryEventBus)(nil)
)

func NewInMemoryEventBus(topic string) *InMemoryEventBus {
	return &InMemoryEventBus{topic: topic}
}

func (b *InMemoryEventBus) Name() string { return "inmemory:" + b.topic }

func (b *InMemoryEventBus) Publish(ctx context.Context, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registra un oyente con su propio buffer.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan []byte, bufferSize)
	if b.closed {
		close(sub)
		return sub
	}
	b.subscribers = append(b.subscribers, sub)
	return sub
}

// Close cierra todos los canales de suscripción.
func (b *InMemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

// Listen pasa al handler cada mensaje de ch hasta que ctx termina o ch se cierra.
func Listen(ctx context.Context, ch <-chan []byte, handler MessageHandler, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			log.Info("🛑 Oyente del bus detenido")
			return
		case payload, ok := <-ch:
			if !ok {
				log.Info("🛑 Bus cerrado, oyente detenido")
				return
			}
			if err := handler.HandleMessage(ctx, "", payload); err != nil {
				log.Warn("⚠️ Mensaje del bus no procesado", zap.Error(err))
			}
		}
	}
}
