package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Open abre una base SQLite con las pragmas que necesitan el event log y el outbox.
// Una sola conexión: SQLite serializa escritores y así no aparecen SQLITE_BUSY.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// InitSQLite crea las tablas event_log y outbox si no existen.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS event_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            aggregate_version INTEGER NOT NULL,
            event_type TEXT NOT NULL,
            event_version INTEGER NOT NULL,
            occurred_at INTEGER NOT NULL,
            payload TEXT NOT NULL,
            UNIQUE (aggregate_type, aggregate_id, aggregate_version)
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create event_log: %w", err)
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id INTEGER NOT NULL UNIQUE REFERENCES event_log(id),
            attempts INTEGER NOT NULL DEFAULT 0,
            next_attempt_at INTEGER NOT NULL,
            last_error TEXT,
            locked_until INTEGER
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_next_attempt_at ON outbox (next_attempt_at)`)
	return err
}

// IsUniqueViolation indica si err es una violación de UNIQUE o PRIMARY KEY.
func IsUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// ToMillis es la representación de instantes en SQLite: milisegundos UTC.
func ToMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
