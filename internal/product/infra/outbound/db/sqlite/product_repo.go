package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	infraSqlite "github.com/davicafu/productregistry/internal/infra/db/sqlite"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

// ProductRepoSQLite guarda el agregado, su evento y la intención de entrega
// en la misma transacción.
type ProductRepoSQLite struct {
	db     *sql.DB
	events sharedDomain.EventLog
	outbox sharedDomain.Outbox
}

func NewProductRepoSQLite(db *sql.DB, events sharedDomain.EventLog, outbox sharedDomain.Outbox) *ProductRepoSQLite {
	return &ProductRepoSQLite{db: db, events: events, outbox: outbox}
}

func (r *ProductRepoSQLite) Save(ctx context.Context, p *productDomain.Product, expectedVersion int64, evt productDomain.Envelope) error {
	if evt.Sequence != expectedVersion+1 || p.Version != evt.Sequence {
		return fmt.Errorf("event sequence %d does not match product version %d after %d", evt.Sequence, p.Version, expectedVersion)
	}
	entry, err := productDomain.ToLogEntry(evt)
	if err != nil {
		return err
	}

	return persistence.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if expectedVersion == 0 {
			if err := r.insert(ctx, tx, p); err != nil {
				return err
			}
		} else if err := r.update(ctx, tx, p, expectedVersion); err != nil {
			return err
		}

		stored, err := r.events.Append(ctx, tx, expectedVersion, entry)
		if err != nil {
			return err
		}
		return r.outbox.Publish(ctx, tx, stored)
	})
}

func (r *ProductRepoSQLite) insert(ctx context.Context, tx *sql.Tx, p *productDomain.Product) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO products (id, sku_id, name, description, status, version) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.SkuID.String(), p.Name, p.Description, string(p.Status), p.Version,
	)
	if err == nil {
		return nil
	}
	if infraSqlite.IsUniqueViolation(err) {
		if strings.Contains(err.Error(), "products.sku_id") {
			return fmt.Errorf("%w: %s", productDomain.ErrDuplicateSku, p.SkuID)
		}
		return fmt.Errorf("%w: product %s already exists", sharedDomain.ErrConcurrencyConflict, p.ID)
	}
	return fmt.Errorf("failed to insert product: %w", err)
}

// update es un compare-and-swap sobre la columna version.
func (r *ProductRepoSQLite) update(ctx context.Context, tx *sql.Tx, p *productDomain.Product, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET name = ?, description = ?, status = ?, version = ? WHERE id = ? AND version = ?`,
		p.Name, p.Description, string(p.Status), p.Version, p.ID.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: product %s is no longer at version %d", sharedDomain.ErrConcurrencyConflict, p.ID, expectedVersion)
	}
	return nil
}

func (r *ProductRepoSQLite) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT sku_id, name, description, status, version FROM products WHERE id = ?`, id.String())

	p := productDomain.Product{ID: id}
	var sku, status string
	if err := row.Scan(&sku, &p.Name, &p.Description, &status, &p.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, productDomain.ErrProductNotFound
		}
		return nil, fmt.Errorf("db scan error: %w", err)
	}

	skuID, err := productDomain.NewSkuID(sku)
	if err != nil {
		return nil, fmt.Errorf("invalid sku in DB: %w", err)
	}
	p.SkuID = skuID
	p.Status = productDomain.Status(status)
	return &p, nil
}

func (r *ProductRepoSQLite) ExistsBySku(ctx context.Context, sku productDomain.SkuID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE sku_id = ?)`, sku.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check sku: %w", err)
	}
	return exists, nil
}

var _ productDomain.ProductRepository = (*ProductRepoSQLite)(nil)
