package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
)

// EventAnalyticsSink copia cada evento entregado a ClickHouse para analítica.
// La tabla es ReplacingMergeTree por (aggregate_id, sequence), así las reentregas no duplican.
type EventAnalyticsSink struct {
	db *sql.DB
}

func NewEventAnalyticsSink(addr string, dbName string) (*EventAnalyticsSink, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return &EventAnalyticsSink{db: conn}, nil
}

func (s *EventAnalyticsSink) Name() string { return "analytics" }

// Publish inserta el evento; recibe sharedDomain.EventLogEntry por valor o puntero.
func (s *EventAnalyticsSink) Publish(ctx context.Context, event interface{}) error {
	row, err := toAnalyticsRow(event)
	if err != nil {
		return err
	}

	// El driver agrupa en bloques dentro de una transacción aunque sea una sola fila.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO product_events_log (aggregate_id, sequence, event_type, occurred_at, payload, delivered_at)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx,
		row.AggregateID, row.Sequence, row.EventType, row.OccurredAt, row.Payload, time.Now().UTC(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to exec statement for event %s/%d: %w", row.AggregateID, row.Sequence, err)
	}
	return tx.Commit()
}

// DailyCounts cuenta eventos distintos por día y tipo. FINAL fusiona las reentregas.
func (s *EventAnalyticsSink) DailyCounts(ctx context.Context, start, end time.Time) ([]productDomain.DailyEventCount, error) {
	query := `
		SELECT
			toStartOfDay(occurred_at) AS day,
			event_type,
			count() AS total
		FROM product_events_log FINAL
		WHERE occurred_at BETWEEN ? AND ?
		GROUP BY day, event_type
		ORDER BY day, event_type
	`
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []productDomain.DailyEventCount
	for rows.Next() {
		var c productDomain.DailyEventCount
		if err := rows.Scan(&c.Day, &c.EventType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// InitSchema crea la tabla en ClickHouse si no existe.
func (s *EventAnalyticsSink) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS product_events_log (
			aggregate_id UUID,
			sequence     Int64,
			event_type   LowCardinality(String),
			occurred_at  DateTime64(3),
			payload      String,
			delivered_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(delivered_at)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (aggregate_id, sequence);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *EventAnalyticsSink) Close() error {
	return s.db.Close()
}

type analyticsRow struct {
	AggregateID string
	Sequence    int64
	EventType   string
	OccurredAt  time.Time
	Payload     string
}

func toAnalyticsRow(event interface{}) (analyticsRow, error) {
	var entry sharedDomain.EventLogEntry
	switch e := event.(type) {
	case sharedDomain.EventLogEntry:
		entry = e
	case *sharedDomain.EventLogEntry:
		if e == nil {
			return analyticsRow{}, fmt.Errorf("nil event log entry")
		}
		entry = *e
	default:
		return analyticsRow{}, fmt.Errorf("unsupported event %T", event)
	}
	return analyticsRow{
		AggregateID: entry.AggregateID.String(),
		Sequence:    entry.AggregateVersion,
		EventType:   entry.EventType,
		OccurredAt:  entry.OccurredAt.UTC(),
		Payload:     string(entry.Payload),
	}, nil
}

// Verificación estática de la interfaz.
var (
	_ productDomain.EventAnalyticsRepository = (*EventAnalyticsSink)(nil)
	_ sharedBus.EventBus                     = (*EventAnalyticsSink)(nil)
	_ sharedBus.Named                        = (*EventAnalyticsSink)(nil)
)
