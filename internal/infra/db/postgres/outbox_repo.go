package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

const messageColumns = `o.id, o.attempts, o.next_attempt_at, COALESCE(o.last_error, ''),
       e.id, e.aggregate_type, e.aggregate_id, e.aggregate_version, e.event_type, e.event_version, e.occurred_at, e.payload`

// claimLockSQL serializa las reclamaciones de un tipo de agregado entre
// dispatchers. Va en su propia sentencia: la SELECT siguiente toma su snapshot
// después y ve los leases que otro dispatcher ya confirmó.
const claimLockSQL = `SELECT pg_advisory_xact_lock(hashtext('outbox:' || $1::text))`

// SKIP LOCKED evita que dos dispatchers lean la misma fila; el lease cubre el
// tiempo de entrega, que ocurre fuera de esta transacción.
const selectReadySQL = `
SELECT ` + messageColumns + `
FROM outbox o
JOIN event_log e ON e.id = o.event_id
WHERE e.aggregate_type = $1
  AND o.attempts < $2
  AND o.next_attempt_at <= $3
  AND (o.locked_until IS NULL OR o.locked_until <= $3)
  AND NOT EXISTS (
      SELECT 1
      FROM outbox o2
      JOIN event_log e2 ON e2.id = o2.event_id
      WHERE e2.aggregate_type = e.aggregate_type
        AND e2.aggregate_id = e.aggregate_id
        AND e2.aggregate_version < e.aggregate_version
        AND o2.attempts < $2
        AND (o2.next_attempt_at > $3 OR o2.locked_until > $3)
  )
ORDER BY e.aggregate_version, e.id
LIMIT $4
FOR UPDATE OF o SKIP LOCKED`

// OutboxRepoPostgres implementa el outbox sobre Postgres.
type OutboxRepoPostgres struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
	// beforeClaim se ejecuta entre la selección y el lease; solo lo usan los tests.
	beforeClaim func()
}

func NewOutboxRepoPostgres(db *sql.DB, lease time.Duration) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db, lease: lease, now: time.Now}
}

func (r *OutboxRepoPostgres) Publish(ctx context.Context, q persistence.DBTX, entry sharedDomain.EventLogEntry) error {
	if entry.LogID == 0 {
		return fmt.Errorf("cannot enqueue event without log id")
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO outbox (event_id, attempts, next_attempt_at) VALUES ($1, 0, $2)`,
		entry.LogID, r.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (r *OutboxRepoPostgres) FetchReady(ctx context.Context, aggregateType string, limit, maxRetries int) ([]sharedDomain.OutboxMessage, error) {
	var claimed []sharedDomain.OutboxMessage
	err := persistence.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, claimLockSQL, aggregateType); err != nil {
			return fmt.Errorf("failed to take outbox claim lock: %w", err)
		}
		now := r.now().UTC()
		rows, err := tx.QueryContext(ctx, selectReadySQL, aggregateType, maxRetries, now, limit)
		if err != nil {
			return fmt.Errorf("failed to select ready outbox messages: %w", err)
		}
		msgs, err := scanMessages(rows)
		if err != nil {
			return err
		}
		if r.beforeClaim != nil {
			r.beforeClaim()
		}
		for _, msg := range msgs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET locked_until = $1 WHERE id = $2`, now.Add(r.lease), msg.ID,
			); err != nil {
				return fmt.Errorf("failed to claim outbox message %d: %w", msg.ID, err)
			}
		}
		claimed = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *OutboxRepoPostgres) Delete(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = $1`, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox message %d: %w", msg.ID, err)
	}
	return expectOneRow(res, msg.ID)
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, msg sharedDomain.OutboxMessage, errDescription string, backoff time.Duration) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox
		 SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2, locked_until = NULL
		 WHERE id = $3`,
		errDescription, r.now().UTC().Add(backoff), msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %d as failed: %w", msg.ID, err)
	}
	return expectOneRow(res, msg.ID)
}

func (r *OutboxRepoPostgres) Release(ctx context.Context, msgs ...sharedDomain.OutboxMessage) error {
	for _, msg := range msgs {
		if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET locked_until = NULL WHERE id = $1`, msg.ID); err != nil {
			return fmt.Errorf("failed to release outbox message %d: %w", msg.ID, err)
		}
	}
	return nil
}

func (r *OutboxRepoPostgres) ListDeadLettered(ctx context.Context, aggregateType string, maxRetries, limit int) ([]sharedDomain.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM outbox o
		 JOIN event_log e ON e.id = o.event_id
		 WHERE e.aggregate_type = $1 AND o.attempts >= $2
		 ORDER BY e.id
		 LIMIT $3`,
		aggregateType, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *OutboxRepoPostgres) Requeue(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = 0, next_attempt_at = $1, locked_until = NULL, last_error = NULL WHERE id = $2`,
		r.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox message %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func scanMessages(rows *sql.Rows) ([]sharedDomain.OutboxMessage, error) {
	defer rows.Close()

	var msgs []sharedDomain.OutboxMessage
	for rows.Next() {
		var msg sharedDomain.OutboxMessage
		var payload []byte
		e := &msg.Entry
		if err := rows.Scan(&msg.ID, &msg.Attempts, &msg.NextAttemptAt, &msg.LastError,
			&e.LogID, &e.AggregateType, &e.AggregateID, &e.AggregateVersion,
			&e.EventType, &e.EventSchemaVersion, &e.OccurredAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		e.Payload = payload
		e.OccurredAt = e.OccurredAt.UTC()
		msg.NextAttemptAt = msg.NextAttemptAt.UTC()
		msg.EventLogID = e.LogID
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
		return fmt.Errorf("%w: %d", sharedDomain.ErrOutboxMessageNotFound, id)
	}
	return nil
}

// Verificación en tiempo de compilación.
var (
	_ sharedDomain.Outbox              = (*OutboxRepoPostgres)(nil)
	_ sharedDomain.OutboxRepository    = (*OutboxRepoPostgres)(nil)
	_ sharedDomain.DeadLetterInspector = (*OutboxRepoPostgres)(nil)
)
