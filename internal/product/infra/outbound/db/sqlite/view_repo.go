package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	infraSqlite "github.com/davicafu/productregistry/internal/infra/db/sqlite"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

const viewColumns = `id, version, sku_id, name, description, status, catalogs, events, created_at, updated_at`

// viewFields traduce los campos lógicos de los criterios a columnas.
var viewFields = map[string]string{
	"sku_id":     "sku_id",
	"name":       "name",
	"status":     "status",
	"updated_at": "updated_at",
}

// ProductViewRepoSQLite implementa el View Store sobre SQLite.
type ProductViewRepoSQLite struct {
	db *sql.DB
}

func NewProductViewRepoSQLite(db *sql.DB) *ProductViewRepoSQLite {
	return &ProductViewRepoSQLite{db: db}
}

func (r *ProductViewRepoSQLite) Save(ctx context.Context, v *productDomain.ProductView, expectedVersion int64) error {
	catalogs, events, err := marshalHistory(v)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO product_views (`+viewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID.String(), v.Version, v.SkuID, v.Name, v.Description, string(v.Status), catalogs, events,
			infraSqlite.ToMillis(v.CreatedAt), infraSqlite.ToMillis(v.UpdatedAt),
		)
		if err != nil {
			if infraSqlite.IsUniqueViolation(err) {
				return fmt.Errorf("%w: view %s already exists", productDomain.ErrViewVersionMismatch, v.ID)
			}
			return fmt.Errorf("failed to insert view: %w", err)
		}
		return nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE product_views
		 SET version = ?, sku_id = ?, name = ?, description = ?, status = ?, catalogs = ?, events = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		v.Version, v.SkuID, v.Name, v.Description, string(v.Status), catalogs, events,
		infraSqlite.ToMillis(v.UpdatedAt), v.ID.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update view: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: view %s is not at version %d", productDomain.ErrViewVersionMismatch, v.ID, expectedVersion)
	}
	return nil
}

func (r *ProductViewRepoSQLite) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM product_views WHERE id = ?`, id.String())
	return scanView(row)
}

func (r *ProductViewRepoSQLite) FindBySku(ctx context.Context, sku string) (*productDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM product_views WHERE sku_id = ?`, sku)
	return scanView(row)
}

// applyCriteria traduce criterios a SQL para SQLite (?). ILIKE se emula con UPPER.
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
	for _, c := range conds {
		col, ok := viewFields[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field %q", c.Field)
		}
		switch c.Op {
		case sharedDomain.OpILike:
			clauses = append(clauses, fmt.Sprintf(`UPPER(%s) LIKE UPPER(?) ESCAPE '\'`, col))
		case sharedDomain.OpLike:
			clauses = append(clauses, fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, col))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, c.Op))
		}
		args = append(args, c.Value)
	}
	return strings.Join(clauses, " "+string(sharedDomain.LogicalOf(criteria))+" "), args, nil
}

func (r *ProductViewRepoSQLite) Search(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]*productDomain.ProductView, int64, error) {
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
	query := fmt.Sprintf(`SELECT %s FROM product_views%s ORDER BY %s %s, id LIMIT ? OFFSET ?`,
		viewColumns, where, orderBy, sharedUtils.Ternary(sort.Desc, "DESC", "ASC"))

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
		v                    productDomain.ProductView
		id, status           string
		catalogs, events     string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&id, &v.Version, &v.SkuID, &v.Name, &v.Description, &status,
		&catalogs, &events, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, productDomain.ErrProductNotFound
		}
		return nil, fmt.Errorf("db scan error: %w", err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	v.ID = parsedID
	v.Status = productDomain.Status(status)
	v.CreatedAt = infraSqlite.FromMillis(createdAt)
	v.UpdatedAt = infraSqlite.FromMillis(updatedAt)

	if err := json.Unmarshal([]byte(catalogs), &v.Catalogs); err != nil {
		return nil, fmt.Errorf("failed to decode catalogs: %w", err)
	}
	if err := json.Unmarshal([]byte(events), &v.Events); err != nil {
		return nil, fmt.Errorf("failed to decode event history: %w", err)
	}
	return &v, nil
}

func marshalHistory(v *productDomain.ProductView) (string, string, error) {
	catalogs := v.Catalogs
	if catalogs == nil {
		catalogs = []productDomain.CatalogRef{}
	}
	c, err := json.Marshal(catalogs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode catalogs: %w", err)
	}
	e, err := json.Marshal(v.Events)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode event history: %w", err)
	}
	return string(c), string(e), nil
}

var _ productDomain.ProductViewRepository = (*ProductViewRepoSQLite)(nil)
