package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraPostgres "github.com/davicafu/productregistry/internal/infra/db/postgres"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
)

func setupPostgresTestDB(t *testing.T) *sql.DB {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL no está configurada, saltando test de integración con Postgres")
	}

	ctx := context.Background()
	db, err := infraPostgres.Open(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, infraPostgres.InitSchema(ctx, db))
	require.NoError(t, InitProductSchema(ctx, db))

	_, err = db.Exec(`TRUNCATE outbox, event_log, products, product_views RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestProductRepoPostgres_WriteAndProject(t *testing.T) {
	// Arrange
	db := setupPostgresTestDB(t)
	ctx := context.Background()
	events := infraPostgres.NewEventLogRepoPostgres(db)
	outbox := infraPostgres.NewOutboxRepoPostgres(db, time.Minute)
	products := NewProductRepoPostgres(db, events, outbox)
	views := NewProductViewRepoPostgres(db)

	sku, err := productDomain.NewSkuID("ABC-12345")
	require.NoError(t, err)
	p, registered, err := productDomain.NewProduct("Laptop", "", sku)
	require.NoError(t, err)

	// Act
	require.NoError(t, products.Save(ctx, p, 0, registered))
	renamed, _ := p.Rename("Gaming Laptop")
	require.NoError(t, products.Save(ctx, p, 1, renamed))

	v1, _ := productDomain.Fold(nil, registered)
	v2, _ := productDomain.Fold(v1, renamed)
	require.NoError(t, views.Save(ctx, v1, 0))
	require.NoError(t, views.Save(ctx, v2, 1))

	// Assert
	stored, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	dup, dupEvt, _ := productDomain.NewProduct("Otro", "", sku)
	assert.ErrorIs(t, products.Save(ctx, dup, 0, dupEvt), productDomain.ErrDuplicateSku)

	stale, _ := productDomain.Rehydrate(p.ID, []productDomain.Envelope{registered})
	staleEvt, _ := stale.Rename("Tarde")
	assert.ErrorIs(t, products.Save(ctx, stale, 1, staleEvt), sharedDomain.ErrConcurrencyConflict)

	assert.ErrorIs(t, views.Save(ctx, v2, 1), productDomain.ErrViewVersionMismatch)

	found, total, err := views.Search(ctx, productDomain.SkuLikeCriteria{Pattern: "abc"}, sharedQuery.PageOf(0, 10), sharedQuery.Sort{Field: "sku_id"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, found, 1)
	assert.Equal(t, "Gaming Laptop", found[0].Name)
}
