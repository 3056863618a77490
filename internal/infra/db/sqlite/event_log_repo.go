package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

// EventLogRepoSQLite implementa domain.EventLog sobre SQLite.
type EventLogRepoSQLite struct {
	db *sql.DB
}

func NewEventLogRepoSQLite(db *sql.DB) *EventLogRepoSQLite {
	return &EventLogRepoSQLite{db: db}
}

func (r *EventLogRepoSQLite) Append(ctx context.Context, q persistence.DBTX, expectedVersion int64, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	if entry.AggregateVersion != expectedVersion+1 {
		return domain.EventLogEntry{}, fmt.Errorf("event version %d does not follow expected version %d", entry.AggregateVersion, expectedVersion)
	}

	var current int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM event_log WHERE aggregate_type = ? AND aggregate_id = ?`,
		entry.AggregateType, entry.AggregateID.String(),
	).Scan(&current); err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("failed to read current version: %w", err)
	}
	if current != expectedVersion {
		return domain.EventLogEntry{}, fmt.Errorf("%w: %s %s is at version %d, expected %d",
			domain.ErrConcurrencyConflict, entry.AggregateType, entry.AggregateID, current, expectedVersion)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO event_log (aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AggregateType, entry.AggregateID.String(), entry.AggregateVersion, entry.EventType,
		entry.EventSchemaVersion, ToMillis(entry.OccurredAt), string(entry.Payload),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.EventLogEntry{}, fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
		return domain.EventLogEntry{}, fmt.Errorf("failed to append event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("failed to get event log id: %w", err)
	}
	entry.LogID = id
	return entry, nil
}

func (r *EventLogRepoSQLite) LoadStream(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]domain.EventLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, payload
		 FROM event_log
		 WHERE aggregate_type = ? AND aggregate_id = ?
		 ORDER BY aggregate_version`,
		aggregateType, aggregateID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream: %w", err)
	}
	defer rows.Close()

	var entries []domain.EventLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner, extra ...any) (domain.EventLogEntry, error) {
	var (
		entry       domain.EventLogEntry
		aggregateID string
		occurredAt  int64
		payload     string
	)
	dest := append(extra,
		&entry.LogID, &entry.AggregateType, &aggregateID, &entry.AggregateVersion,
		&entry.EventType, &entry.EventSchemaVersion, &occurredAt, &payload,
	)
	if err := s.Scan(dest...); err != nil {
		return domain.EventLogEntry{}, err
	}

	parsedID, err := uuid.Parse(aggregateID)
	if err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("invalid UUID in event_log row %d: %w", entry.LogID, err)
	}
	entry.AggregateID = parsedID
	entry.OccurredAt = FromMillis(occurredAt)
	entry.Payload = []byte(payload)
	return entry, nil
}

// Verificación en tiempo de compilación.
var _ domain.EventLog = (*EventLogRepoSQLite)(nil)
