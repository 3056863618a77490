package cache

import (
	"context"
)

// Cache es el puerto de caché clave-valor del modelo de lectura.
// Los valores viajan serializados en JSON, así que dest y val deben ser
// tipos serializables (p. ej. *ProductView).
type Cache interface {
	// Get rellena dest (puntero) y devuelve true en un hit; false, nil en un miss.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set guarda val durante ttlSecs segundos; ttlSecs <= 0 usa el TTL por defecto del adapter.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error

	// SetIfAbsent guarda val solo si key no existe. Devuelve si se guardó.
	// Es la escritura de los rellenos hechos desde lecturas.
	SetIfAbsent(ctx context.Context, key string, val interface{}, ttlSecs int) (bool, error)

	Delete(ctx context.Context, key string) error
}
