package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AsyncCacheFill puebla la caché en background sin bloquear. Usa SetIfAbsent:
// si alguien escribió la clave mientras tanto, lo suyo es más nuevo y se queda.
func AsyncCacheFill(cache Cache, key string, value interface{}, ttl int, log *zap.Logger) {
	if cache == nil {
		return
	}

	go func() {
		// Contexto propio: la actualización no depende de la petición original.
		cacheCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		if _, err := cache.SetIfAbsent(cacheCtx, key, value, ttl); err != nil {
			log.Warn("Cache fill failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}

// Invalidate borra key de forma síncrona; un fallo solo se registra.
func Invalidate(ctx context.Context, cache Cache, key string, log *zap.Logger) {
	if cache == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()

	if err := cache.Delete(cacheCtx, key); err != nil {
		log.Warn("Cache deletion failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
