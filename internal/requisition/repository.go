package requisition

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Repository provides PostgreSQL backed persistence for requisitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes operations valid inside a transaction.
type TxRepository interface {
	// Lock reads the requisition and holds a row lock until commit.
	Lock(ctx context.Context, tenantID string, id uuid.UUID) (Requisition, error)
	Insert(ctx context.Context, req Requisition) error
	// Update writes req if the stored version still equals req.Version and
	// returns the new version.
	Update(ctx context.Context, req Requisition) (int64, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID, version int64) error
}

// DBTX is satisfied by pgx.Tx and pgxpool.Pool.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type txRepo struct {
	db DBTX
}

// BindTx returns a TxRepository running on an externally owned transaction.
func BindTx(tx DBTX) TxRepository {
	return &txRepo{db: tx}
}

// WithTx runs fn in a repeatable read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

// Get loads a requisition with its lines and approval history.
func (r *Repository) Get(ctx context.Context, tenantID string, id uuid.UUID) (Requisition, error) {
	return loadRequisition(ctx, r.pool, tenantID, id, false)
}

// GetMany loads the requisitions with the given ids. Missing ids are skipped.
func (r *Repository) GetMany(ctx context.Context, tenantID string, ids []uuid.UUID) ([]Requisition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, selectHeader+` WHERE tenant_id = $1 AND id = ANY($2) ORDER BY number`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("requisition: get many: %w", err)
	}
	reqs, err := collectHeaders(rows)
	if err != nil {
		return nil, err
	}
	return reqs, attachChildren(ctx, r.pool, tenantID, reqs)
}

// List returns a page of requisitions and the total count.
func (r *Repository) List(ctx context.Context, tenantID string, filter ListFilter) ([]Requisition, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	argNum := 2
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		where += ` AND status = ANY($` + strconv.Itoa(argNum) + `)`
		args = append(args, statuses)
		argNum++
	}
	if filter.RequestedBy != "" {
		where += ` AND requested_by = $` + strconv.Itoa(argNum)
		args = append(args, filter.RequestedBy)
		argNum++
	}
	if filter.Search != "" {
		where += ` AND (number ILIKE $` + strconv.Itoa(argNum) + ` OR title ILIKE $` + strconv.Itoa(argNum) + `)`
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("requisition: count: %w", err)
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := selectHeader + where + ` ORDER BY created_at DESC, number DESC LIMIT $` + strconv.Itoa(argNum) + ` OFFSET $` + strconv.Itoa(argNum+1)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("requisition: list: %w", err)
	}
	reqs, err := collectHeaders(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := attachChildren(ctx, r.pool, tenantID, reqs); err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// ListInStatus returns every requisition of the tenant in status.
func (r *Repository) ListInStatus(ctx context.Context, tenantID string, status Status) ([]Requisition, error) {
	rows, err := r.pool.Query(ctx, selectHeader+` WHERE tenant_id = $1 AND status = $2 ORDER BY updated_at`, tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("requisition: list in status: %w", err)
	}
	reqs, err := collectHeaders(rows)
	if err != nil {
		return nil, err
	}
	return reqs, attachChildren(ctx, r.pool, tenantID, reqs)
}

// TenantsWithStatus lists tenants owning at least one requisition in status.
func (r *Repository) TenantsWithStatus(ctx context.Context, status Status) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM requisitions WHERE status = $1 ORDER BY tenant_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("requisition: tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const selectHeader = `SELECT id, tenant_id, number, title, description, status, priority, requested_by,
	requested_by_name, total_value, current_approval_step, version, created_at, updated_at,
	submitted_at, approved_at, rejected_at, converted_to_po_at
FROM requisitions`

func scanHeader(row pgx.Row) (Requisition, error) {
	var req Requisition
	var status, priority string
	err := row.Scan(&req.ID, &req.TenantID, &req.Number, &req.Title, &req.Description, &status, &priority,
		&req.RequestedBy, &req.RequestedByName, &req.TotalValue, &req.CurrentApprovalStep, &req.Version,
		&req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt, &req.ApprovedAt, &req.RejectedAt, &req.ConvertedToPOAt)
	if err != nil {
		return Requisition{}, err
	}
	req.Status = Status(status)
	req.Priority = Priority(priority)
	return req, nil
}

func collectHeaders(rows pgx.Rows) ([]Requisition, error) {
	defer rows.Close()
	var reqs []Requisition
	for rows.Next() {
		req, err := scanHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("requisition: scan: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func loadRequisition(ctx context.Context, q DBTX, tenantID string, id uuid.UUID, lock bool) (Requisition, error) {
	query := selectHeader + ` WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	req, err := scanHeader(q.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, ErrNotFound
		}
		return Requisition{}, fmt.Errorf("requisition: get: %w", err)
	}
	reqs := []Requisition{req}
	if err := attachChildren(ctx, q, tenantID, reqs); err != nil {
		return Requisition{}, err
	}
	return reqs[0], nil
}

// attachChildren loads lines and history for every requisition in one query each.
func attachChildren(ctx context.Context, q DBTX, tenantID string, reqs []Requisition) error {
	if len(reqs) == 0 {
		return nil
	}
	index := make(map[uuid.UUID]int, len(reqs))
	ids := make([]uuid.UUID, 0, len(reqs))
	for i, req := range reqs {
		index[req.ID] = i
		ids = append(ids, req.ID)
	}

	lineRows, err := q.Query(ctx, `SELECT requisition_id, id, line_no, material_name, unit, quantity, unit_price,
	COALESCE(vendor_id, ''), converted_quantity, remaining_quantity, is_fully_converted
FROM requisition_lines WHERE tenant_id = $1 AND requisition_id = ANY($2) ORDER BY requisition_id, line_no`, tenantID, ids)
	if err != nil {
		return fmt.Errorf("requisition: lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var reqID uuid.UUID
		var l Line
		if err := lineRows.Scan(&reqID, &l.ID, &l.LineNo, &l.MaterialName, &l.Unit, &l.Quantity, &l.UnitPrice,
			&l.VendorID, &l.ConvertedQuantity, &l.RemainingQuantity, &l.IsFullyConverted); err != nil {
			return fmt.Errorf("requisition: scan line: %w", err)
		}
		i := index[reqID]
		reqs[i].Lines = append(reqs[i].Lines, l)
	}
	if err := lineRows.Err(); err != nil {
		return err
	}
	lineRows.Close()

	histRows, err := q.Query(ctx, `SELECT requisition_id, approver_id, approver_name, approver_role, action,
	previous_status, new_status, approval_level, comments, at
FROM requisition_approvals WHERE tenant_id = $1 AND requisition_id = ANY($2) ORDER BY requisition_id, seq`, tenantID, ids)
	if err != nil {
		return fmt.Errorf("requisition: history: %w", err)
	}
	defer histRows.Close()
	for histRows.Next() {
		var reqID uuid.UUID
		var e ApprovalEntry
		var role, action, prev, next string
		if err := histRows.Scan(&reqID, &e.ApproverID, &e.ApproverName, &role, &action, &prev, &next,
			&e.ApprovalLevel, &e.Comments, &e.Timestamp); err != nil {
			return fmt.Errorf("requisition: scan history: %w", err)
		}
		e.ApproverRole = shared.Role(role)
		e.Action = ApprovalAction(action)
		e.PreviousStatus = Status(prev)
		e.NewStatus = Status(next)
		i := index[reqID]
		reqs[i].ApprovalHistory = append(reqs[i].ApprovalHistory, e)
	}
	return histRows.Err()
}

func (tx *txRepo) Lock(ctx context.Context, tenantID string, id uuid.UUID) (Requisition, error) {
	return loadRequisition(ctx, tx.db, tenantID, id, true)
}

func (tx *txRepo) Insert(ctx context.Context, req Requisition) error {
	_, err := tx.db.Exec(ctx, `INSERT INTO requisitions (id, tenant_id, number, title, description, status, priority,
	requested_by, requested_by_name, total_value, current_approval_step, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		req.ID, req.TenantID, req.Number, req.Title, req.Description, string(req.Status), string(req.Priority),
		req.RequestedBy, req.RequestedByName, req.TotalValue, req.CurrentApprovalStep, req.Version, req.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("requisition: number %s already used: %w", req.Number, shared.ErrConflict)
		}
		return fmt.Errorf("requisition: insert: %w", err)
	}
	if err := tx.upsertLines(ctx, req); err != nil {
		return err
	}
	return tx.appendHistory(ctx, req)
}

func (tx *txRepo) Update(ctx context.Context, req Requisition) (int64, error) {
	var next int64
	err := tx.db.QueryRow(ctx, `UPDATE requisitions SET title = $4, description = $5, status = $6, priority = $7,
	total_value = $8, current_approval_step = $9, updated_at = $10, submitted_at = $11, approved_at = $12,
	rejected_at = $13, converted_to_po_at = $14, version = version + 1
WHERE tenant_id = $1 AND id = $2 AND version = $3
RETURNING version`,
		req.TenantID, req.ID, req.Version, req.Title, req.Description, string(req.Status), string(req.Priority),
		req.TotalValue, req.CurrentApprovalStep, req.UpdatedAt, req.SubmittedAt, req.ApprovedAt,
		req.RejectedAt, req.ConvertedToPOAt).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("requisition: update: %w", err)
	}
	if err := tx.upsertLines(ctx, req); err != nil {
		return 0, err
	}
	if err := tx.appendHistory(ctx, req); err != nil {
		return 0, err
	}
	return next, nil
}

func (tx *txRepo) Delete(ctx context.Context, tenantID string, id uuid.UUID, version int64) error {
	tag, err := tx.db.Exec(ctx, `DELETE FROM requisitions WHERE tenant_id = $1 AND id = $2 AND version = $3 AND status = $4`,
		tenantID, id, version, string(StatusDraft))
	if err != nil {
		return fmt.Errorf("requisition: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// upsertLines writes every line and drops stored lines no longer present.
func (tx *txRepo) upsertLines(ctx context.Context, req Requisition) error {
	keep := make([]uuid.UUID, 0, len(req.Lines))
	for _, l := range req.Lines {
		var vendor any
		if strings.TrimSpace(l.VendorID) != "" {
			vendor = l.VendorID
		}
		_, err := tx.db.Exec(ctx, `INSERT INTO requisition_lines (id, requisition_id, tenant_id, line_no, material_name, unit,
	quantity, unit_price, vendor_id, converted_quantity, remaining_quantity, is_fully_converted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET line_no = EXCLUDED.line_no, material_name = EXCLUDED.material_name,
	unit = EXCLUDED.unit, quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price,
	vendor_id = EXCLUDED.vendor_id, converted_quantity = EXCLUDED.converted_quantity,
	remaining_quantity = EXCLUDED.remaining_quantity, is_fully_converted = EXCLUDED.is_fully_converted`,
			l.ID, req.ID, req.TenantID, l.LineNo, l.MaterialName, l.Unit, l.Quantity, l.UnitPrice, vendor,
			l.ConvertedQuantity, l.RemainingQuantity, l.IsFullyConverted)
		if err != nil {
			return fmt.Errorf("requisition: upsert line %s: %w", l.ID, err)
		}
		keep = append(keep, l.ID)
	}
	if _, err := tx.db.Exec(ctx, `DELETE FROM requisition_lines WHERE requisition_id = $1 AND NOT (id = ANY($2))`, req.ID, keep); err != nil {
		return fmt.Errorf("requisition: prune lines: %w", err)
	}
	return nil
}

// appendHistory inserts entries not yet stored. Stored entries are never rewritten.
func (tx *txRepo) appendHistory(ctx context.Context, req Requisition) error {
	for seq, e := range req.ApprovalHistory {
		at := e.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		_, err := tx.db.Exec(ctx, `INSERT INTO requisition_approvals (requisition_id, tenant_id, seq, approver_id, approver_name,
	approver_role, action, previous_status, new_status, approval_level, comments, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (requisition_id, seq) DO NOTHING`,
			req.ID, req.TenantID, seq+1, e.ApproverID, e.ApproverName, string(e.ApproverRole), string(e.Action),
			string(e.PreviousStatus), string(e.NewStatus), e.ApprovalLevel, e.Comments, at)
		if err != nil {
			return fmt.Errorf("requisition: append history: %w", err)
		}
	}
	return nil
}
