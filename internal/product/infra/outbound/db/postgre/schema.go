package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// InitProductSchema crea las tablas products y product_views.
func InitProductSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
            id UUID PRIMARY KEY,
            sku_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT NOT NULL,
            version BIGINT NOT NULL,
            CONSTRAINT products_sku_id_key UNIQUE (sku_id)
        )`,
		`CREATE TABLE IF NOT EXISTS product_views (
            id UUID PRIMARY KEY,
            version BIGINT NOT NULL,
            sku_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT NOT NULL,
            catalogs JSONB NOT NULL,
            events JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_product_views_sku_id ON product_views (sku_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init product schema: %w", err)
		}
	}
	return nil
}
