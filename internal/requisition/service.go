package requisition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (Requisition, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Requisition, int, error)
}

// NumberIssuer issues document numbers.
type NumberIssuer interface {
	Next(ctx context.Context, tenantID string, kind sequence.Kind) (string, error)
}

// AuditPort receives one entry per mutation.
type AuditPort interface {
	Append(ctx context.Context, entry audit.Entry)
}

// Service manages the requisition aggregate outside the approval workflow.
type Service struct {
	repo    RepositoryPort
	numbers NumberIssuer
	audit   AuditPort
	logger  *slog.Logger
	retry   db.RetryPolicy
	now     func() time.Time
}

// NewService constructs the requisition service.
func NewService(repo RepositoryPort, numbers NumberIssuer, auditor AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, numbers: numbers, audit: auditor, logger: logger, retry: db.DefaultRetryPolicy, now: time.Now}
}

// WithRetry overrides the conflict retry policy.
func (s *Service) WithRetry(policy db.RetryPolicy) *Service {
	s.retry = policy
	return s
}

// LineInput describes one requested material.
type LineInput struct {
	MaterialName string              `json:"materialName" validate:"required,max=200"`
	Unit         string              `json:"unit" validate:"max=20"`
	Quantity     decimal.Decimal     `json:"quantity"`
	UnitPrice    decimal.NullDecimal `json:"unitPrice"`
	VendorID     string              `json:"vendorId" validate:"max=64"`
}

// CreateInput is the payload for Create and UpdateDraft.
type CreateInput struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description" validate:"max=2000"`
	Priority    string      `json:"priority" validate:"max=10"`
	Lines       []LineInput `json:"lines" validate:"required,min=1,dive"`
}

func (in CreateInput) validate() (Priority, error) {
	var errs shared.ValidationErrors
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, shared.NewValidationError("title", "required", "title is required"))
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		errs = append(errs, shared.AsValidation(err)...)
	}
	if len(in.Lines) == 0 {
		errs = append(errs, shared.NewValidationError("lines", "required", "at least one line is required"))
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(l.MaterialName) == "" {
			errs = append(errs, shared.NewValidationError(field+".materialName", "required", "material name is required"))
		}
		if !l.Quantity.IsPositive() {
			errs = append(errs, shared.NewValidationError(field+".quantity", "not_positive", "quantity must be greater than zero"))
		}
		if l.UnitPrice.Valid && l.UnitPrice.Decimal.IsNegative() {
			errs = append(errs, shared.NewValidationError(field+".unitPrice", "negative", "unit price must not be negative"))
		}
	}
	return priority, errs.Err()
}

func buildLines(inputs []LineInput) []Line {
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		l := Line{
			ID:           uuid.New(),
			LineNo:       i + 1,
			MaterialName: strings.TrimSpace(in.MaterialName),
			Unit:         strings.TrimSpace(in.Unit),
			Quantity:     in.Quantity,
			UnitPrice:    in.UnitPrice,
			VendorID:     strings.TrimSpace(in.VendorID),
		}
		l.Reconcile()
		lines = append(lines, l)
	}
	return lines
}

// Create persists a new DRAFT requisition owned by actor.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Requisition, error) {
	priority, err := input.validate()
	if err != nil {
		return Requisition{}, err
	}
	number, err := s.numbers.Next(ctx, actor.TenantID, sequence.KindRequisition)
	if err != nil {
		return Requisition{}, err
	}
	now := s.now().UTC()
	req := Requisition{
		ID:                  uuid.New(),
		TenantID:            actor.TenantID,
		Number:              number,
		Title:               strings.TrimSpace(input.Title),
		Description:         strings.TrimSpace(input.Description),
		Status:              StatusDraft,
		Priority:            priority,
		RequestedBy:         actor.UserID,
		RequestedByName:     actor.DisplayName,
		CurrentApprovalStep: 1,
		Lines:               buildLines(input.Lines),
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	req.RecomputeTotal()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, req)
	})
	if err != nil {
		return Requisition{}, err
	}
	s.logger.Info("requisition created", slog.String("requisition_id", req.ID.String()),
		slog.String("number", req.Number), slog.String("total", shared.FormatAmount(req.TotalValue)))
	s.recordAudit(ctx, actor, audit.ActionCreate, req.ID, nil, Snapshot(req))
	return req, nil
}

// Get returns one requisition.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (Requisition, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// ListByStatus returns a page of requisitions filtered by status.
func (s *Service) ListByStatus(ctx context.Context, tenantID string, filter ListFilter) ([]Requisition, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateDraft replaces title, priority and lines while the requisition is
// DRAFT or REJECTED. Only the requester may edit.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, id uuid.UUID, input CreateInput) (Requisition, error) {
	priority, err := input.validate()
	if err != nil {
		return Requisition{}, err
	}
	var before, after Requisition
	err = db.Retry(ctx, s.retry, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.Lock(ctx, actor.TenantID, id)
			if err != nil {
				return err
			}
			if current.RequestedBy != actor.UserID {
				return ErrNotOwner
			}
			if !current.Status.Editable() {
				return ErrNotEditable
			}
			next := current.Clone()
			next.Title = strings.TrimSpace(input.Title)
			next.Description = strings.TrimSpace(input.Description)
			next.Priority = priority
			next.Lines = buildLines(input.Lines)
			next.RecomputeTotal()
			next.UpdatedAt = s.now().UTC()
			version, err := tx.Update(ctx, next)
			if err != nil {
				return err
			}
			next.Version = version
			before, after = current, next
			return nil
		})
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor, audit.ActionUpdate, id, Snapshot(before), Snapshot(after))
	return after, nil
}

// DeleteDraft hard-deletes a DRAFT requisition. Only the requester may delete.
func (s *Service) DeleteDraft(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	var deleted Requisition
	err := db.Retry(ctx, s.retry, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.Lock(ctx, actor.TenantID, id)
			if err != nil {
				return err
			}
			if current.RequestedBy != actor.UserID {
				return ErrNotOwner
			}
			if current.Status != StatusDraft {
				return shared.NewValidationError("status", "not_draft", fmt.Sprintf("requisition is %s; only DRAFT can be deleted", current.Status))
			}
			deleted = current
			return tx.Delete(ctx, actor.TenantID, id, current.Version)
		})
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, audit.ActionDelete, id, Snapshot(deleted), nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, oldValues, newValues map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, audit.Entry{
		TenantID:   actor.TenantID,
		EntityType: audit.EntityRequisition,
		EntityID:   id.String(),
		Action:     action,
		OldValues:  oldValues,
		NewValues:  newValues,
		ActorID:    actor.UserID,
		ActorRole:  string(actor.Role),
		At:         s.now().UTC(),
	})
}

// Snapshot renders the audited fields of a requisition.
func Snapshot(req Requisition) map[string]any {
	lines := make([]map[string]any, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, map[string]any{
			"id":                l.ID.String(),
			"materialName":      l.MaterialName,
			"quantity":          l.Quantity.String(),
			"convertedQuantity": l.ConvertedQuantity.String(),
			"remainingQuantity": l.RemainingQuantity.String(),
			"vendorId":          l.VendorID,
		})
	}
	return map[string]any{
		"number":              req.Number,
		"title":               req.Title,
		"status":              string(req.Status),
		"priority":            string(req.Priority),
		"totalValue":          req.TotalValue.String(),
		"currentApprovalStep": req.CurrentApprovalStep,
		"version":             req.Version,
		"lines":               lines,
	}
}
