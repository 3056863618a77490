package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

// MessageReader es la parte de *kafka.Reader que usa el adapter.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConsumerConfig struct {
	Topic   string
	Retries int
	Backoff sharedUtils.BackoffPolicy
	// Retryable decide si un error del handler merece otro intento; nil = siempre.
	Retryable func(error) bool
}

// ConsumerAdapter es el "oído" que escucha en Kafka. Confirma el offset solo
// después de que el handler termina, así un reinicio reentrega lo no procesado.
type ConsumerAdapter struct {
	reader  MessageReader
	handler MessageHandler
	cfg     ConsumerConfig
	log     *zap.Logger
}

func NewConsumerAdapter(reader MessageReader, handler MessageHandler, cfg ConsumerConfig, log *zap.Logger) *ConsumerAdapter {
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	return &ConsumerAdapter{
		reader:  reader,
		handler: handler,
		cfg:     cfg,
		log:     log.With(zap.String("topic", cfg.Topic)),
	}
}

// Start lanza Run en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	go c.Run(ctx)
}

// Run consume hasta que ctx termina.
func (c *ConsumerAdapter) Run(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor de Kafka...")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("🛑 Consumidor de Kafka detenido.")
				return
			}
			c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
			if !sleep(ctx, c.cfg.Backoff.Delay(0)) {
				c.log.Info("🛑 Consumidor de Kafka detenido.")
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			// Sin commit: el mensaje se reentrega al arrancar de nuevo.
			c.log.Info("🛑 Consumidor de Kafka detenido.")
			return
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.log.Warn("⚠️ No se pudo confirmar el offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		cancel()
	}
}

// process repite msg hasta que sale bien o falla de forma permanente; solo
// entonces se confirma. Devuelve false si ctx termina antes.
func (c *ConsumerAdapter) process(ctx context.Context, msg kafka.Message) bool {
	for round := 0; ; round++ {
		err := c.handle(ctx, msg)
		switch {
		case err == nil:
			return true
		case ctx.Err() != nil:
			return false
		case !c.cfg.Retryable(err):
			c.log.Error("❌ Mensaje descartado por error permanente",
				zap.ByteString("key", msg.Key),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return true
		}

		delay := c.cfg.Backoff.Delay(round)
		c.log.Warn("⚠️ Reintentos agotados, el mensaje queda sin confirmar",
			zap.ByteString("key", msg.Key),
			zap.Int64("offset", msg.Offset),
			zap.Int("round", round+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !sleep(ctx, delay) {
			return false
		}
	}
}

func (c *ConsumerAdapter) handle(ctx context.Context, msg kafka.Message) error {
	_, err := sharedUtils.Retry(ctx, c.cfg.Retries, c.cfg.Backoff, c.cfg.Retryable, func() (struct{}, error) {
		return struct{}{}, c.handler.HandleMessage(ctx, string(msg.Key), msg.Value)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
