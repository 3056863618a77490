package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	infraPostgres "github.com/davicafu/productregistry/internal/infra/db/postgres"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
)

const skuConstraint = "products_sku_id_key"

// ProductRepoPostgres implementa ProductRepository para PostgreSQL.
type ProductRepoPostgres struct {
	db     *sql.DB
	events sharedDomain.EventLog
	outbox sharedDomain.Outbox
}

func NewProductRepoPostgres(db *sql.DB, events sharedDomain.EventLog, outbox sharedDomain.Outbox) *ProductRepoPostgres {
	return &ProductRepoPostgres{db: db, events: events, outbox: outbox}
}

// Save actualiza el agregado con CAS de versión, añade el evento y lo encola, todo en una transacción.
func (r *ProductRepoPostgres) Save(ctx context.Context, p *productDomain.Product, expectedVersion int64, evt productDomain.Envelope) error {
	if evt.Sequence != expectedVersion+1 || p.Version != evt.Sequence {
		return fmt.Errorf("event sequence %d does not match product version %d after %d", evt.Sequence, p.Version, expectedVersion)
	}
	entry, err := productDomain.ToLogEntry(evt)
	if err != nil {
		return err
	}

	return persistence.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if expectedVersion == 0 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO products (id, sku_id, name, description, status, version) VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ID, p.SkuID.String(), p.Name, p.Description, string(p.Status), p.Version,
			)
			if err != nil {
				if constraint, ok := infraPostgres.UniqueViolation(err); ok {
					if constraint == skuConstraint {
						return fmt.Errorf("%w: %s", productDomain.ErrDuplicateSku, p.SkuID)
					}
					return fmt.Errorf("%w: product %s already exists", sharedDomain.ErrConcurrencyConflict, p.ID)
				}
				return fmt.Errorf("failed to insert product: %w", err)
			}
		} else {
			res, err := tx.ExecContext(ctx,
				`UPDATE products SET name = $1, description = $2, status = $3, version = $4 WHERE id = $5 AND version = $6`,
				p.Name, p.Description, string(p.Status), p.Version, p.ID, expectedVersion,
			)
			if err != nil {
				return fmt.Errorf("failed to update product: %w", err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return fmt.Errorf("%w: product %s is no longer at version %d", sharedDomain.ErrConcurrencyConflict, p.ID, expectedVersion)
			}
		}

		stored, err := r.events.Append(ctx, tx, expectedVersion, entry)
		if err != nil {
			return err
		}
		return r.outbox.Publish(ctx, tx, stored)
	})
}

func (r *ProductRepoPostgres) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT sku_id, name, description, status, version FROM products WHERE id = $1`, id)

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

func (r *ProductRepoPostgres) ExistsBySku(ctx context.Context, sku productDomain.SkuID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE sku_id = $1)`, sku.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check sku: %w", err)
	}
	return exists, nil
}

var _ productDomain.ProductRepository = (*ProductRepoPostgres)(nil)
