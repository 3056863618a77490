package sqlite

import (
	"database/sql"
	"fmt"
)

// InitProductSchema crea las tablas del agregado y de la vista si no existen.
// Las tablas event_log y outbox las crea infra/db/sqlite.InitSQLite.
func InitProductSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            sku_id TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT NOT NULL,
            version INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS product_views (
            id TEXT PRIMARY KEY,
            version INTEGER NOT NULL,
            sku_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT NOT NULL,
            catalogs TEXT NOT NULL,
            events TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_product_views_sku_id ON product_views (sku_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init product schema: %w", err)
		}
	}
	return nil
}
