package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// idempotencyNamespace scopes conversion keys.
var idempotencyNamespace = uuid.MustParse("5b2f7c1e-8f0a-4f7e-9c55-2f3d1d6a9e41")

// TxRepository exposes the writes of one conversion transaction. The
// requisition repository shares the same transaction.
type TxRepository interface {
	Requisitions() requisition.TxRepository
	InsertPO(ctx context.Context, po PurchaseOrder) error
	LockPO(ctx context.Context, tenantID string, id uuid.UUID) (PurchaseOrder, error)
	DeletePO(ctx context.Context, tenantID string, id uuid.UUID) error
}

// RepositoryPort describes repository operations used by the engine and Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, tenantID string, id uuid.UUID) (PurchaseOrder, error)
	ListPOs(ctx context.Context, tenantID string, filters ListFilters) ([]PurchaseOrder, int, error)
}

// NumberIssuer hands out PO numbers.
type NumberIssuer interface {
	Next(ctx context.Context, tenantID string, kind sequence.Kind) (string, error)
}

// AuditPort receives one entry per mutation.
type AuditPort interface {
	Append(ctx context.Context, entry audit.Entry)
}

// ConversionObserver counts group outcomes.
type ConversionObserver interface {
	ObserveConversion(outcome string)
}

// EngineConfig carries the tenant-wide PO settings.
type EngineConfig struct {
	RequireApproval bool
	TaxRate         decimal.Decimal
	Currency        string
	Retry           db.RetryPolicy
	Now             func() time.Time
}

// Engine converts vendor groups into purchase orders.
type Engine struct {
	repo    RepositoryPort
	numbers NumberIssuer
	audit   AuditPort
	metrics ConversionObserver
	logger  *slog.Logger
	cfg     EngineConfig
}

// NewEngine wires the conversion engine. auditor and metrics may be nil.
func NewEngine(repo RepositoryPort, numbers NumberIssuer, auditor AuditPort, metrics ConversionObserver, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = db.DefaultRetryPolicy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	return &Engine{repo: repo, numbers: numbers, audit: auditor, metrics: metrics, logger: logger, cfg: cfg}
}

// GroupError reports why one group was not converted.
type GroupError struct {
	VendorID   string                    `json:"vendorId"`
	VendorName string                    `json:"vendorName"`
	Kind       string                    `json:"kind"`
	Message    string                    `json:"message"`
	Errors     []*shared.ValidationError `json:"errors,omitempty"`
	Err        error                     `json:"-"`
}

// ConversionResult aggregates the outcome of every group.
type ConversionResult struct {
	CreatedPOs                       []PurchaseOrder `json:"createdPOs"`
	Errors                           []GroupError    `json:"errors"`
	PartiallyConvertedRequisitionIDs []uuid.UUID     `json:"partiallyConvertedRequisitionIds"`
	FullyConvertedRequisitionIDs     []uuid.UUID     `json:"fullyConvertedRequisitionIds"`
}

// ConvertOptions tunes one Convert call.
type ConvertOptions struct {
	// ClientKey is folded into every group's idempotency key.
	ClientKey string
}

// Convert turns each group into one purchase order. Groups are processed in
// order and independently: a failing group is reported in the result and the
// remaining groups still run. Cancelling ctx stops groups not yet started.
func (e *Engine) Convert(ctx context.Context, actor shared.Actor, groups []VendorGroup, opts ConvertOptions) ConversionResult {
	result := ConversionResult{
		CreatedPOs:                       []PurchaseOrder{},
		Errors:                           []GroupError{},
		PartiallyConvertedRequisitionIDs: []uuid.UUID{},
		FullyConvertedRequisitionIDs:     []uuid.UUID{},
	}
	final := map[uuid.UUID]requisition.Status{}
	var order []uuid.UUID
	seenKeys := map[uuid.UUID]bool{}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, groupError(group, err))
			e.observe("cancelled")
			continue
		}
		key := IdempotencyKey(actor.TenantID, opts.ClientKey, group)
		if seenKeys[key] {
			result.Errors = append(result.Errors, groupError(group, ErrDuplicateGroup))
			e.observe("duplicate")
			continue
		}
		seenKeys[key] = true

		po, touched, err := e.convertGroup(ctx, actor, group, key)
		if err != nil {
			result.Errors = append(result.Errors, groupError(group, err))
			e.observe(outcomeOf(err))
			e.logger.Warn("vendor group not converted",
				slog.String("tenant_id", actor.TenantID),
				slog.String("vendor_id", group.VendorID),
				slog.Any("error", err))
			continue
		}
		e.observe("created")
		result.CreatedPOs = append(result.CreatedPOs, po)
		for _, req := range touched {
			if _, ok := final[req.ID]; !ok {
				order = append(order, req.ID)
			}
			final[req.ID] = req.Status
		}
	}

	for _, id := range order {
		switch final[id] {
		case requisition.StatusFullyConverted:
			result.FullyConvertedRequisitionIDs = append(result.FullyConvertedRequisitionIDs, id)
		case requisition.StatusPartiallyConverted:
			result.PartiallyConvertedRequisitionIDs = append(result.PartiallyConvertedRequisitionIDs, id)
		}
	}
	return result
}

// convertGroup creates one PO and books the converted quantities on every
// contributing requisition in a single transaction.
func (e *Engine) convertGroup(ctx context.Context, actor shared.Actor, group VendorGroup, key uuid.UUID) (PurchaseOrder, []requisition.Requisition, error) {
	if group.Unassigned() {
		return PurchaseOrder{}, nil, shared.NewValidationError("vendorId", "vendor_unassigned",
			fmt.Sprintf("%d line(s) have no vendor; assign a vendor before converting", len(group.Lines)))
	}
	if len(group.Lines) == 0 {
		return PurchaseOrder{}, nil, shared.NewValidationError("lines", "empty_group",
			fmt.Sprintf("vendor group %s has no lines to convert", group.VendorID))
	}
	if group.VendorMissing {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: vendor %s: %w", group.VendorID, shared.ErrNotFound)
	}

	number, err := e.numbers.Next(ctx, actor.TenantID, sequence.KindPurchaseOrder)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	byReq := map[uuid.UUID][]GroupLine{}
	reqIDs := group.RequisitionIDs()
	for _, l := range group.Lines {
		byReq[l.RequisitionID] = append(byReq[l.RequisitionID], l)
	}
	// Lock in a stable order so concurrent batches cannot deadlock.
	sort.Slice(reqIDs, func(i, j int) bool { return reqIDs[i].String() < reqIDs[j].String() })

	var po PurchaseOrder
	var before, after []requisition.Requisition
	err = db.Retry(ctx, e.cfg.Retry, func(attempt int) error {
		before, after = nil, nil
		now := e.cfg.Now().UTC()
		po = e.newPO(actor, group, number, key, now)
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			reqs := tx.Requisitions()
			for _, id := range reqIDs {
				req, err := reqs.Lock(ctx, actor.TenantID, id)
				if err != nil {
					return err
				}
				if !req.Status.Convertible() {
					return shared.NewValidationError("status", "not_convertible",
						fmt.Sprintf("requisition %s is %s; only APPROVED or PARTIALLY_CONVERTED requisitions convert", req.Number, req.Status))
				}
				snapshot := req.Clone()
				converted := false
				for _, gl := range byReq[id] {
					line := req.Line(gl.LineID)
					if line == nil {
						return fmt.Errorf("procurement: requisition %s line %s: %w", req.Number, gl.LineID, shared.ErrNotFound)
					}
					amount := line.RemainingQuantity
					if !amount.IsPositive() {
						continue
					}
					if err := line.ApplyConversion(amount); err != nil {
						return err
					}
					converted = true
					po.Lines = append(po.Lines, newPOLine(len(po.Lines)+1, req, *line, amount))
				}
				if !converted {
					continue
				}
				if err := req.CheckAccounting(); err != nil {
					return err
				}
				if _, err := req.ApplyConversionStatus(actor, now); err != nil {
					return err
				}
				req.UpdatedAt = now
				version, err := reqs.Update(ctx, req)
				if err != nil {
					return err
				}
				req.Version = version
				po.LinkedRequisitionIDs = append(po.LinkedRequisitionIDs, req.ID)
				before = append(before, snapshot)
				after = append(after, req)
			}
			if len(po.Lines) == 0 {
				return shared.NewValidationError("lines", "nothing_to_convert",
					fmt.Sprintf("every line for vendor %s is already converted", group.VendorID))
			}
			po.Price()
			return tx.InsertPO(ctx, po)
		})
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	e.logger.Info("purchase order created",
		slog.String("tenant_id", actor.TenantID),
		slog.String("po_number", po.Number),
		slog.String("vendor_id", po.VendorID),
		slog.Int("lines", len(po.Lines)),
		slog.String("total", po.TotalAmount.StringFixed(2)))
	e.recordAudit(ctx, actor, po, before, after)
	return po, after, nil
}

func (e *Engine) newPO(actor shared.Actor, group VendorGroup, number string, key uuid.UUID, now time.Time) PurchaseOrder {
	status := POStatusApproved
	if e.cfg.RequireApproval {
		status = POStatusPending
	}
	currency := e.cfg.Currency
	if group.Currency != "" {
		currency = group.Currency
	}
	return PurchaseOrder{
		ID:                   uuid.New(),
		TenantID:             actor.TenantID,
		Number:               number,
		Status:               status,
		VendorID:             group.VendorID,
		VendorName:           group.VendorName,
		Currency:             currency,
		TaxRate:              e.cfg.TaxRate,
		LinkedRequisitionIDs: []uuid.UUID{},
		IdempotencyKey:       key,
		CreatedBy:            actor.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// newPOLine copies the locked requisition line. quantity is the remaining
// quantity read under the lock.
func newPOLine(lineNo int, req requisition.Requisition, line requisition.Line, quantity decimal.Decimal) POLine {
	pl := POLine{
		ID:                uuid.New(),
		LineNo:            lineNo,
		RequisitionID:     req.ID,
		RequisitionLineID: line.ID,
		MaterialName:      line.MaterialName,
		Unit:              line.Unit,
		Quantity:          quantity,
		UnitPrice:         line.UnitPrice,
		TotalPrice:        decimal.Zero,
	}
	if line.UnitPrice.Valid {
		pl.TotalPrice = shared.RoundMoney(quantity.Mul(line.UnitPrice.Decimal))
	}
	return pl
}

// IdempotencyKey derives a stable key from the tenant, the optional client
// key, the vendor and the set of requisition lines in the group.
func IdempotencyKey(tenantID, clientKey string, group VendorGroup) uuid.UUID {
	ids := make([]string, 0, len(group.Lines))
	for _, l := range group.Lines {
		ids = append(ids, l.LineID.String())
	}
	sort.Strings(ids)
	material := strings.Join([]string{tenantID, clientKey, group.VendorID, strings.Join(ids, ",")}, "|")
	return uuid.NewSHA1(idempotencyNamespace, []byte(material))
}

func (e *Engine) recordAudit(ctx context.Context, actor shared.Actor, po PurchaseOrder, before, after []requisition.Requisition) {
	if e.audit == nil {
		return
	}
	e.audit.Append(ctx, audit.Entry{
		TenantID:   po.TenantID,
		EntityType: audit.EntityPurchaseOrder,
		EntityID:   po.ID.String(),
		Action:     audit.ActionCreate,
		NewValues: map[string]any{
			"poNumber":             po.Number,
			"vendorId":             po.VendorID,
			"status":               string(po.Status),
			"lines":                len(po.Lines),
			"totalAmount":          po.TotalAmount.StringFixed(2),
			"linkedRequisitionIds": po.LinkedRequisitionIDs,
		},
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		At:        po.CreatedAt,
	})
	for i := range after {
		e.audit.Append(ctx, audit.Entry{
			TenantID:   po.TenantID,
			EntityType: audit.EntityRequisition,
			EntityID:   after[i].ID.String(),
			Action:     audit.ActionConvert,
			OldValues:  conversionSnapshot(before[i]),
			NewValues:  conversionSnapshot(after[i]),
			ActorID:    actor.UserID,
			ActorRole:  string(actor.Role),
			At:         po.CreatedAt,
		})
	}
}

func conversionSnapshot(req requisition.Requisition) map[string]any {
	lines := make([]map[string]any, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, map[string]any{
			"id":                l.ID.String(),
			"convertedQuantity": l.ConvertedQuantity.String(),
			"remainingQuantity": l.RemainingQuantity.String(),
			"isFullyConverted":  l.IsFullyConverted,
		})
	}
	return map[string]any{"status": string(req.Status), "lines": lines}
}

func (e *Engine) observe(outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveConversion(outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "rejected"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func groupError(group VendorGroup, err error) GroupError {
	ge := GroupError{VendorID: group.VendorID, VendorName: group.VendorName, Err: err}
	switch {
	case errors.Is(err, shared.ErrValidation):
		ge.Kind = "validation"
		ge.Errors = shared.AsValidation(err)
		ge.Message = err.Error()
	case errors.Is(err, shared.ErrNotFound):
		ge.Kind = "not_found"
		ge.Message = err.Error()
	case errors.Is(err, shared.ErrConflict):
		ge.Kind = "conflict"
		ge.Message = err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ge.Kind = "cancelled"
		ge.Message = "conversion stopped before this group started"
	default:
		ge.Kind = "dependency"
		ge.Message = "temporary failure, retry later"
	}
	return ge
}
