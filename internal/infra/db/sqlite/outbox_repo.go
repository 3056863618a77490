package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

const selectMessageColumns = `o.id, o.attempts, o.next_attempt_at, COALESCE(o.last_error, ''),
       e.id, e.aggregate_type, e.aggregate_id, e.aggregate_version, e.event_type, e.event_version, e.occurred_at, e.payload`

// Un mensaje solo está listo si ningún mensaje anterior y vivo del mismo agregado
// está esperando backoff o reclamado por otro dispatcher.
const selectReadySQL = `
SELECT ` + selectMessageColumns + `
FROM outbox o
JOIN event_log e ON e.id = o.event_id
WHERE e.aggregate_type = ?
  AND o.attempts < ?
  AND o.next_attempt_at <= ?
  AND (o.locked_until IS NULL OR o.locked_until <= ?)
  AND NOT EXISTS (
      SELECT 1
      FROM outbox o2
      JOIN event_log e2 ON e2.id = o2.event_id
      WHERE e2.aggregate_type = e.aggregate_type
        AND e2.aggregate_id = e.aggregate_id
        AND e2.aggregate_version < e.aggregate_version
        AND o2.attempts < ?
        AND (o2.next_attempt_at > ? OR (o2.locked_until IS NOT NULL AND o2.locked_until > ?))
  )
ORDER BY e.aggregate_version, e.id
LIMIT ?`

// OutboxRepoSQLite implementa domain.Outbox, domain.OutboxRepository y domain.DeadLetterInspector.
// La reclamación es un lease (locked_until) tomado con UPDATE condicional.
type OutboxRepoSQLite struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

func NewOutboxRepoSQLite(db *sql.DB, lease time.Duration) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db, lease: lease, now: time.Now}
}

// Publish encola la entrega de entry; q debe ser la transacción del Append.
func (r *OutboxRepoSQLite) Publish(ctx context.Context, q persistence.DBTX, entry domain.EventLogEntry) error {
	if entry.LogID == 0 {
		return fmt.Errorf("cannot enqueue event without log id")
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO outbox (event_id, attempts, next_attempt_at) VALUES (?, 0, ?)`,
		entry.LogID, ToMillis(r.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (r *OutboxRepoSQLite) FetchReady(ctx context.Context, aggregateType string, limit, maxRetries int) ([]domain.OutboxMessage, error) {
	now := ToMillis(r.now())
	until := now + r.lease.Milliseconds()

	var claimed []domain.OutboxMessage
	err := persistence.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectReadySQL,
			aggregateType, maxRetries, now, now, maxRetries, now, now, limit)
		if err != nil {
			return fmt.Errorf("failed to select ready outbox messages: %w", err)
		}
		candidates, err := scanMessages(rows)
		if err != nil {
			return err
		}

		for _, msg := range candidates {
			res, err := tx.ExecContext(ctx,
				`UPDATE outbox SET locked_until = ? WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)`,
				until, msg.ID, now,
			)
			if err != nil {
				return fmt.Errorf("failed to claim outbox message %d: %w", msg.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				claimed = append(claimed, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *OutboxRepoSQLite) Delete(ctx context.Context, msg domain.OutboxMessage) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox message %d: %w", msg.ID, err)
	}
	return expectOneRow(res, msg.ID)
}

func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, msg domain.OutboxMessage, errDescription string, backoff time.Duration) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox
		 SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_until = NULL
		 WHERE id = ?`,
		errDescription, ToMillis(r.now().Add(backoff)), msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %d as failed: %w", msg.ID, err)
	}
	return expectOneRow(res, msg.ID)
}

func (r *OutboxRepoSQLite) Release(ctx context.Context, msgs ...domain.OutboxMessage) error {
	for _, msg := range msgs {
		if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET locked_until = NULL WHERE id = ?`, msg.ID); err != nil {
			return fmt.Errorf("failed to release outbox message %d: %w", msg.ID, err)
		}
	}
	return nil
}

func (r *OutboxRepoSQLite) ListDeadLettered(ctx context.Context, aggregateType string, maxRetries, limit int) ([]domain.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectMessageColumns+`
		 FROM outbox o
		 JOIN event_log e ON e.id = o.event_id
		 WHERE e.aggregate_type = ? AND o.attempts >= ?
		 ORDER BY e.id
		 LIMIT ?`,
		aggregateType, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *OutboxRepoSQLite) Requeue(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = 0, next_attempt_at = ?, locked_until = NULL, last_error = NULL WHERE id = ?`,
		ToMillis(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox message %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func scanMessages(rows *sql.Rows) ([]domain.OutboxMessage, error) {
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var (
			msg           domain.OutboxMessage
			nextAttemptAt int64
		)
		entry, err := scanEntry(rows, &msg.ID, &msg.Attempts, &nextAttemptAt, &msg.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		msg.NextAttemptAt = FromMillis(nextAttemptAt)
		msg.Entry = entry
		msg.EventLogID = entry.LogID
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func expectOneRow(res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", domain.ErrOutboxMessageNotFound, id)
	}
	return nil
}

// Verificación en tiempo de compilación.
var (
	_ domain.Outbox              = (*OutboxRepoSQLite)(nil)
	_ domain.OutboxRepository    = (*OutboxRepoSQLite)(nil)
	_ domain.DeadLetterInspector = (*OutboxRepoSQLite)(nil)
)
