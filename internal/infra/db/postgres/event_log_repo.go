package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

// EventLogRepoPostgres implementa sharedDomain.EventLog sobre Postgres.
type EventLogRepoPostgres struct {
	db *sql.DB
}

func NewEventLogRepoPostgres(db *sql.DB) *EventLogRepoPostgres {
	return &EventLogRepoPostgres{db: db}
}

func (r *EventLogRepoPostgres) Append(ctx context.Context, q persistence.DBTX, expectedVersion int64, entry sharedDomain.EventLogEntry) (sharedDomain.EventLogEntry, error) {
	if entry.AggregateVersion != expectedVersion+1 {
		return sharedDomain.EventLogEntry{}, fmt.Errorf("event version %d does not follow expected version %d", entry.AggregateVersion, expectedVersion)
	}

	var current int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM event_log WHERE aggregate_type = $1 AND aggregate_id = $2`,
		entry.AggregateType, entry.AggregateID,
	).Scan(&current); err != nil {
		return sharedDomain.EventLogEntry{}, fmt.Errorf("failed to read current version: %w", err)
	}
	if current != expectedVersion {
		return sharedDomain.EventLogEntry{}, fmt.Errorf("%w: %s %s is at version %d, expected %d",
			sharedDomain.ErrConcurrencyConflict, entry.AggregateType, entry.AggregateID, current, expectedVersion)
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO event_log (aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		entry.AggregateType, entry.AggregateID, entry.AggregateVersion, entry.EventType,
		entry.EventSchemaVersion, entry.OccurredAt, []byte(entry.Payload),
	).Scan(&entry.LogID)
	if err != nil {
		if _, ok := UniqueViolation(err); ok {
			return sharedDomain.EventLogEntry{}, fmt.Errorf("%w: %v", sharedDomain.ErrConcurrencyConflict, err)
		}
		return sharedDomain.EventLogEntry{}, fmt.Errorf("failed to append event: %w", err)
	}
	return entry, nil
}

func (r *EventLogRepoPostgres) LoadStream(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedDomain.EventLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, payload
		 FROM event_log
		 WHERE aggregate_type = $1 AND aggregate_id = $2
		 ORDER BY aggregate_version`,
		aggregateType, aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream: %w", err)
	}
	defer rows.Close()

	var entries []sharedDomain.EventLogEntry
	for rows.Next() {
		var entry sharedDomain.EventLogEntry
		var payload []byte
		if err := rows.Scan(&entry.LogID, &entry.AggregateType, &entry.AggregateID, &entry.AggregateVersion,
			&entry.EventType, &entry.EventSchemaVersion, &entry.OccurredAt, &payload); err != nil {
			return nil, err
		}
		entry.OccurredAt = entry.OccurredAt.UTC()
		entry.Payload = payload
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventLog = (*EventLogRepoPostgres)(nil)
