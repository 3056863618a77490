package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
)

func newTestCache(t *testing.T) *InMemoryCache {
	c := NewInMemoryCache(time.Minute, time.Hour)
	t.Cleanup(c.Stop)
	return c
}

func TestInMemoryCache_SetGetDelete(t *testing.T) {
	// Arrange
	c := newTestCache(t)
	ctx := context.Background()
	view := productDomain.ProductView{ID: uuid.New(), Version: 2, SkuID: "ABC-12345", Name: "Laptop"}
	key := productDomain.CacheKeyByID(view.ID)

	// Act
	require.NoError(t, c.Set(ctx, key, view, 0))
	var got productDomain.ProductView
	hit, err := c.Get(ctx, key, &got)

	// Assert
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, c.Delete(ctx, key))
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_Expiry(t *testing.T) {
	// Arrange
	c := newTestCache(t)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "k", "v", 1))

	// Act
	c.now = func() time.Time { return now.Add(2 * time.Second) }
	var got string
	hit, err := c.Get(ctx, "k", &got)

	// Assert
	require.NoError(t, err)
	assert.False(t, hit)

	c.evictExpired()
	c.mu.RLock()
	assert.Empty(t, c.store)
	c.mu.RUnlock()
}

func TestInMemoryCache_StopIsIdempotent(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Millisecond)
	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}

func TestInMemoryCache_SetIfAbsent(t *testing.T) {
	// Arrange
	c := newTestCache(t)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "k", "nueva", 1))

	// Act: un relleno tardío no pisa lo escrito
	stored, err := c.SetIfAbsent(ctx, "k", "vieja", 0)

	// Assert
	require.NoError(t, err)
	assert.False(t, stored)
	var got string
	_, _ = c.Get(ctx, "k", &got)
	assert.Equal(t, "nueva", got)

	// Una clave expirada cuenta como ausente
	c.now = func() time.Time { return now.Add(2 * time.Second) }
	stored, err = c.SetIfAbsent(ctx, "k", "relleno", 0)
	require.NoError(t, err)
	assert.True(t, stored)
	_, _ = c.Get(ctx, "k", &got)
	assert.Equal(t, "relleno", got)
}
