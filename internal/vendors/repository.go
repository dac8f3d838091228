package vendors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads vendors from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectVendor = `SELECT id, tenant_id, code, name, address, email, phone, currency, active, created_at, updated_at FROM vendors`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.TenantID, &v.Code, &v.Name, &v.Address, &v.Email, &v.Phone, &v.Currency, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// List returns a page of vendors and the total count.
func (r *Repository) List(ctx context.Context, tenantID string, filters ListFilters) ([]Vendor, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		argCount++
		where += ` AND active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Active)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM vendors`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("vendors: count: %w", err)
	}

	query := selectVendor + where + " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("vendors: list: %w", err)
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// Get returns the vendor with id or ErrNotFound.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Vendor, error) {
	v, err := scanVendor(r.db.QueryRow(ctx, selectVendor+` WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, ErrNotFound
	}
	if err != nil {
		return Vendor{}, fmt.Errorf("vendors: get: %w", err)
	}
	return v, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
