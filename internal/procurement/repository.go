package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// poIdempotencyConstraint is the UNIQUE (tenant_id, idempotency_key) index on purchase_orders.
const poIdempotencyConstraint = "purchase_orders_tenant_id_idempotency_key_key"

// insertPOError maps an INSERT failure on purchase_orders. Unique violations
// are permanent for the attempt and must not satisfy shared.IsRetryable.
func insertPOError(err error, number string) error {
	switch {
	case db.UniqueViolationOn(err, poIdempotencyConstraint):
		return ErrDuplicateGroup
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrNumberTaken, number)
	}
	return fmt.Errorf("procurement: insert po: %w", err)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx   pgx.Tx
	reqs requisition.TxRepository
}

// WithTx wraps callback in repeatable-read transaction. Requisition writes
// made through Requisitions() commit or roll back with the purchase order.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, reqs: requisition.BindTx(tx)})
	})
}

func (t *txRepo) Requisitions() requisition.TxRepository {
	return t.reqs
}

func (t *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_orders (id, tenant_id, number, status, vendor_id, vendor_name, currency,
	subtotal, tax_rate, tax_amount, total_amount, idempotency_key, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		po.ID, po.TenantID, po.Number, string(po.Status), po.VendorID, po.VendorName, po.Currency,
		po.Subtotal, po.TaxRate, po.TaxAmount, po.TotalAmount, po.IdempotencyKey, po.CreatedBy, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return insertPOError(err, po.Number)
	}
	batch := &pgx.Batch{}
	for _, l := range po.Lines {
		batch.Queue(`INSERT INTO purchase_order_lines (id, po_id, tenant_id, line_no, requisition_id, requisition_line_id,
	material_name, unit, quantity, unit_price, total_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.ID, po.ID, po.TenantID, l.LineNo, l.RequisitionID, l.RequisitionLineID, l.MaterialName, l.Unit,
			l.Quantity, l.UnitPrice, l.TotalPrice)
	}
	for _, id := range po.LinkedRequisitionIDs {
		batch.Queue(`INSERT INTO purchase_order_requisitions (po_id, requisition_id, tenant_id) VALUES ($1, $2, $3)`,
			po.ID, id, po.TenantID)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("procurement: insert po lines: %w", err)
	}
	return nil
}

func (t *txRepo) LockPO(ctx context.Context, tenantID string, id uuid.UUID) (PurchaseOrder, error) {
	return loadPO(ctx, t.tx, tenantID, id, true)
}

func (t *txRepo) DeletePO(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders p WHERE p.tenant_id = $1 AND p.id = $2 AND p.status = $3
	AND NOT EXISTS (SELECT 1 FROM purchase_order_requisitions r WHERE r.po_id = p.id)`, tenantID, id, string(POStatusDraft))
	if err != nil {
		return fmt.Errorf("procurement: delete po: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDeletable
	}
	return nil
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, tenantID string, id uuid.UUID) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, tenantID, id, false)
}

const selectPO = `SELECT p.id, p.tenant_id, p.number, p.status, p.vendor_id, p.vendor_name, p.currency,
	p.subtotal, p.tax_rate, p.tax_amount, p.total_amount, p.idempotency_key, p.created_by, p.created_at, p.updated_at
FROM purchase_orders p`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.TenantID, &po.Number, &status, &po.VendorID, &po.VendorName, &po.Currency,
		&po.Subtotal, &po.TaxRate, &po.TaxAmount, &po.TotalAmount, &po.IdempotencyKey, &po.CreatedBy,
		&po.CreatedAt, &po.UpdatedAt)
	po.Status = POStatus(status)
	po.LinkedRequisitionIDs = []uuid.UUID{}
	return po, err
}

func loadPO(ctx context.Context, q requisition.DBTX, tenantID string, id uuid.UUID, lock bool) (PurchaseOrder, error) {
	query := selectPO + ` WHERE p.tenant_id = $1 AND p.id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: get po: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT id, line_no, requisition_id, requisition_line_id, material_name, unit,
	quantity, unit_price, total_price
FROM purchase_order_lines WHERE po_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: po lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.LineNo, &l.RequisitionID, &l.RequisitionLineID, &l.MaterialName, &l.Unit,
			&l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return PurchaseOrder{}, fmt.Errorf("procurement: scan po line: %w", err)
		}
		po.Lines = append(po.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, err
	}
	rows.Close()

	linked, err := q.Query(ctx, `SELECT requisition_id FROM purchase_order_requisitions WHERE po_id = $1 ORDER BY requisition_id`, id)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: po requisitions: %w", err)
	}
	ids, err := pgx.CollectRows(linked, pgx.RowTo[uuid.UUID])
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: scan po requisitions: %w", err)
	}
	po.LinkedRequisitionIDs = append(po.LinkedRequisitionIDs, ids...)
	return po, nil
}

// ListPOs returns purchase orders without lines and the total count.
func (r *Repository) ListPOs(ctx context.Context, tenantID string, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE p.tenant_id = $1`
	args := []any{tenantID}
	argNum := 2

	if filters.Status != "" {
		where += ` AND p.status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.VendorID != "" {
		where += ` AND p.vendor_id = $` + itoa(argNum)
		args = append(args, filters.VendorID)
		argNum++
	}
	if filters.Search != "" {
		where += ` AND (p.number ILIKE $` + itoa(argNum) + ` OR p.vendor_name ILIKE $` + itoa(argNum) + `)`
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders p`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("procurement: count pos: %w", err)
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	dataSQL := selectPO + where + ` ORDER BY ` + sortOrderPO(filters.SortBy, filters.SortDir) +
		` LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, page.PerPage, page.Offset())

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("procurement: list pos: %w", err)
	}
	defer rows.Close()
	var items []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("procurement: scan po: %w", err)
		}
		items = append(items, po)
	}
	return items, total, rows.Err()
}

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}

// sortOrderPO returns a safe ORDER BY clause for PO queries.
func sortOrderPO(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "p.number " + dir
	case "vendor":
		return "p.vendor_name " + dir
	case "total":
		return "p.total_amount " + dir
	case "status":
		return "p.status " + dir
	default:
		return "p.created_at DESC"
	}
}
