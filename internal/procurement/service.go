package procurement

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RequisitionReader loads the requisitions selected by an operator.
type RequisitionReader interface {
	GetMany(ctx context.Context, tenantID string, ids []uuid.UUID) ([]requisition.Requisition, error)
}

// Service orchestrates grouping, conversion and purchase order queries.
type Service struct {
	repo    RepositoryPort
	reqs    RequisitionReader
	vendors VendorDirectory
	engine  *Engine
	audit   AuditPort
	logger  *slog.Logger
	retry   db.RetryPolicy
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, reqs RequisitionReader, vendors VendorDirectory, engine *Engine, auditor AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, reqs: reqs, vendors: vendors, engine: engine, audit: auditor, logger: logger, retry: db.DefaultRetryPolicy}
}

// converters may trigger conversions and delete purchase orders.
var converters = []shared.Role{shared.RoleProcurement, shared.RoleAdmin}

func canConvert(role shared.Role) bool {
	for _, r := range converters {
		if r == role {
			return true
		}
	}
	return false
}

// SkippedRequisition reports a selected requisition that was not grouped.
type SkippedRequisition struct {
	RequisitionID uuid.UUID              `json:"requisitionId"`
	Error         *shared.ValidationError `json:"error"`
}

// Grouping is the result of grouping a selection of requisitions.
type Grouping struct {
	Groups     []VendorGroup        `json:"groups"`
	Unassigned *VendorGroup         `json:"unassigned,omitempty"`
	Skipped    []SkippedRequisition `json:"skipped"`
}

// GroupInput selects requisitions for grouping or conversion.
type GroupInput struct {
	RequisitionIDs []uuid.UUID `json:"requisitionIds" validate:"required,min=1,max=200"`
	IdempotencyKey string      `json:"idempotencyKey" validate:"max=128"`
}

// GroupApproved groups the unconverted lines of the selected requisitions by
// vendor. Requisitions that are missing or not convertible are skipped.
func (s *Service) GroupApproved(ctx context.Context, actor shared.Actor, ids []uuid.UUID) (Grouping, error) {
	out := Grouping{Groups: []VendorGroup{}, Skipped: []SkippedRequisition{}}
	unique := dedupe(ids)
	reqs, err := s.reqs.GetMany(ctx, actor.TenantID, unique)
	if err != nil {
		return Grouping{}, err
	}
	found := make(map[uuid.UUID]bool, len(reqs))
	eligible := make([]requisition.Requisition, 0, len(reqs))
	for _, req := range reqs {
		found[req.ID] = true
		if !req.Status.Convertible() {
			out.Skipped = append(out.Skipped, SkippedRequisition{
				RequisitionID: req.ID,
				Error: shared.NewValidationError("status", "not_convertible",
					"requisition "+req.Number+" is "+string(req.Status)),
			})
			continue
		}
		eligible = append(eligible, req)
	}
	for _, id := range unique {
		if !found[id] {
			out.Skipped = append(out.Skipped, SkippedRequisition{
				RequisitionID: id,
				Error:         shared.NewValidationError("requisitionId", "not_found", "requisition "+id.String()+" does not exist"),
			})
		}
	}

	groups, err := GroupByVendor(ctx, actor.TenantID, eligible, s.vendors)
	if err != nil {
		return Grouping{}, err
	}
	assigned, unassigned := SplitUnassigned(groups)
	out.Groups = append(out.Groups, assigned...)
	out.Unassigned = unassigned
	return out, nil
}

// ConvertResult is the conversion result plus the grouping it ran on.
type ConvertResult struct {
	ConversionResult
	Unassigned *VendorGroup         `json:"unassigned,omitempty"`
	Skipped    []SkippedRequisition `json:"skipped"`
}

// Convert regroups the selection server side and converts every assigned
// group. The unassigned group is returned untouched for a human to resolve.
func (s *Service) Convert(ctx context.Context, actor shared.Actor, in GroupInput) (ConvertResult, error) {
	if !canConvert(actor.Role) {
		return ConvertResult{}, shared.ErrForbidden
	}
	grouping, err := s.GroupApproved(ctx, actor, in.RequisitionIDs)
	if err != nil {
		return ConvertResult{}, err
	}
	result := s.engine.Convert(ctx, actor, grouping.Groups, ConvertOptions{ClientKey: in.IdempotencyKey})
	s.logger.Info("conversion finished",
		slog.String("tenant_id", actor.TenantID),
		slog.Int("groups", len(grouping.Groups)),
		slog.Int("created", len(result.CreatedPOs)),
		slog.Int("failed", len(result.Errors)))
	return ConvertResult{ConversionResult: result, Unassigned: grouping.Unassigned, Skipped: grouping.Skipped}, nil
}

// GetPO returns one purchase order with its lines.
func (s *Service) GetPO(ctx context.Context, tenantID string, id uuid.UUID) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, tenantID, id)
}

// ListPOs returns a page of purchase orders.
func (s *Service) ListPOs(ctx context.Context, tenantID string, filters ListFilters) ([]PurchaseOrder, shared.Pagination, error) {
	if filters.Status != "" {
		if _, err := ParsePOStatus(filters.Status); err != nil {
			return nil, shared.Pagination{}, err
		}
	}
	items, total, err := s.repo.ListPOs(ctx, tenantID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// DeletePO removes a draft purchase order that no requisition contributed to.
func (s *Service) DeletePO(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if !canConvert(actor.Role) {
		return shared.ErrForbidden
	}
	var deleted PurchaseOrder
	err := db.Retry(ctx, s.retry, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, err := tx.LockPO(ctx, actor.TenantID, id)
			if err != nil {
				return err
			}
			if !po.Deletable() {
				return ErrNotDeletable
			}
			deleted = po
			return tx.DeletePO(ctx, actor.TenantID, id)
		})
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.Append(ctx, audit.Entry{
			TenantID:   actor.TenantID,
			EntityType: audit.EntityPurchaseOrder,
			EntityID:   id.String(),
			Action:     audit.ActionDelete,
			OldValues:  map[string]any{"poNumber": deleted.Number, "status": string(deleted.Status)},
			ActorID:    actor.UserID,
			ActorRole:  string(actor.Role),
		})
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
