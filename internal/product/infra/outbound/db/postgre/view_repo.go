package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	infraPostgres "github.com/davicafu/productregistry/internal/infra/db/postgres"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

const viewColumns = `id, version, sku_id, name, description, status, catalogs, events, created_at, updated_at`

var viewFields = map[string]string{
	"sku_id":     "sku_id",
	"name":       "name",
	"status":     "status",
	"updated_at": "updated_at",
}

// ProductViewRepoPostgres implementa el View Store sobre PostgreSQL.
type ProductViewRepoPostgres struct {
	db *sql.DB
}

func NewProductViewRepoPostgres(db *sql.DB) *ProductViewRepoPostgres {
	return &ProductViewRepoPostgres{db: db}
}

func (r *ProductViewRepoPostgres) Save(ctx context.Context, v *productDomain.ProductView, expectedVersion int64) error {
	catalogs := v.Catalogs
	if catalogs == nil {
		catalogs = []productDomain.CatalogRef{}
	}
	catalogsJSON, err := json.Marshal(catalogs)
	if err != nil {
		return fmt.Errorf("failed to encode catalogs: %w", err)
	}
	eventsJSON, err := json.Marshal(v.Events)
	if err != nil {
		return fmt.Errorf("failed to encode event history: %w", err)
	}

	if expectedVersion == 0 {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO product_views (`+viewColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.ID, v.Version, v.SkuID, v.Name, v.Description, string(v.Status), catalogsJSON, eventsJSON, v.CreatedAt, v.UpdatedAt,
		)
		if err != nil {
			if _, ok := infraPostgres.UniqueViolation(err); ok {
				return fmt.Errorf("%w: view %s already exists", productDomain.ErrViewVersionMismatch, v.ID)
			}
			return fmt.Errorf("failed to insert view: %w", err)
		}
		return nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE product_views
		 SET version = $1, sku_id = $2, name = $3, description = $4, status = $5, catalogs = $6, events = $7, updated_at = $8
		 WHERE id = $9 AND version = $10`,
		v.Version, v.SkuID, v.Name, v.Description, string(v.Status), catalogsJSON, eventsJSON, v.UpdatedAt, v.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update view: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: view %s is not at version %d", productDomain.ErrViewVersionMismatch, v.ID, expectedVersion)
	}
	return nil
}

func (r *ProductViewRepoPostgres) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	return scanView(r.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM product_views WHERE id = $1`, id))
}

func (r *ProductViewRepoPostgres) FindBySku(ctx context.Context, sku string) (*productDomain.ProductView, error) {
	return scanView(r.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM product_views WHERE sku_id = $1`, sku))
}

// applyCriteria traduce criterios a SQL para Postgres ($1, $2...).
func applyCriteria(criteria sharedDomain.Criteria) (string, []interface{}, error) {
	if criteria == nil {
		return "", nil, nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []interface{}
	for i, c := range conds {
		col, ok := viewFields[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field %q", c.Field)
		}
		if c.Op == sharedDomain.OpLike || c.Op == sharedDomain.OpILike {
			clauses = append(clauses, fmt.Sprintf(`%s %s $%d ESCAPE '\'`, col, c.Op, i+1))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", col, c.Op, i+1))
		}
		args = append(args, c.Value)
	}
	return strings.Join(clauses, " "+string(sharedDomain.LogicalOf(criteria))+" "), args, nil
}

func (r *ProductViewRepoPostgres) Search(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]*productDomain.ProductView, int64, error) {
	whereSQL, args, err := applyCriteria(criteria)
	if err != nil {
		return nil, 0, err
	}
	where := ""
	if whereSQL != "" {
		where = " WHERE " + whereSQL
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM product_views`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count views: %w", err)
	}

	orderBy, ok := viewFields[sort.Field]
	if !ok {
		orderBy = "sku_id"
	}
	argOffset := len(args)
	query := fmt.Sprintf(`SELECT %s FROM product_views%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		viewColumns, where, orderBy, sharedUtils.Ternary(sort.Desc, "DESC", "ASC"), argOffset+1, argOffset+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search views: %w", err)
	}
	defer rows.Close()

	views := []*productDomain.ProductView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanView(s scanner) (*productDomain.ProductView, error) {
	var (
		v                productDomain.ProductView
		status           string
		catalogs, events []byte
	)
	if err := s.Scan(&v.ID, &v.Version, &v.SkuID, &v.Name, &v.Description, &status,
		&catalogs, &events, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, productDomain.ErrProductNotFound
		}
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	v.Status = productDomain.Status(status)
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()

	if err := json.Unmarshal(catalogs, &v.Catalogs); err != nil {
		return nil, fmt.Errorf("failed to decode catalogs: %w", err)
	}
	if err := json.Unmarshal(events, &v.Events); err != nil {
		return nil, fmt.Errorf("failed to decode event history: %w", err)
	}
	return &v, nil
}

var _ productDomain.ProductViewRepository = (*ProductViewRepoPostgres)(nil)
