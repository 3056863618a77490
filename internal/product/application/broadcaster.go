package application

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
)

// Notification avisa de un cambio proyectado. No lleva payload: quien necesite
// el estado debe consultar el modelo de lectura.
type Notification struct {
	EventType   productDomain.EventType `json:"eventType"`
	AggregateID uuid.UUID               `json:"aggregateId"`
	OccurredAt  time.Time               `json:"occurredAt"`
}

type subscriber struct {
	ch   chan Notification
	once sync.Once
}

// Broadcaster reparte notificaciones en vivo. La entrega es best-effort: un
// suscriptor con el buffer lleno pierde la notificación.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	log    *zap.Logger
}

func NewBroadcaster(buffer int, log *zap.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registra un suscriptor. Llamar a la función devuelta o terminar ctx
// lo elimina y cierra el canal.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Notification, func()) {
	s := &subscriber{ch: make(chan Notification, b.buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	remove := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)

	return s.ch, func() {
		stop()
		remove()
	}
}

// Stream es una secuencia perezosa: se suscribe al empezar a iterar y se
// da de baja al salir del bucle.
func (b *Broadcaster) Stream(ctx context.Context) iter.Seq[Notification] {
	return func(yield func(Notification) bool) {
		ch, cancel := b.Subscribe(ctx)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok || !yield(n) {
					return
				}
			}
		}
	}
}

func (b *Broadcaster) Broadcast(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		select {
		case s.ch <- n:
		default:
			b.log.Debug("Subscriber too slow, notification dropped",
				zap.String("aggregate_id", n.AggregateID.String()),
				zap.String("event_type", string(n.EventType)),
			)
		}
	}
}

// Subscribers devuelve el número de suscriptores activos.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
