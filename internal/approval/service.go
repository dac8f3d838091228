package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RequisitionStore is the requisition persistence used by the state machine.
type RequisitionStore interface {
	WithTx(ctx context.Context, fn func(context.Context, requisition.TxRepository) error) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (requisition.Requisition, error)
	ListInStatus(ctx context.Context, tenantID string, status requisition.Status) ([]requisition.Requisition, error)
	TenantsWithStatus(ctx context.Context, status requisition.Status) ([]string, error)
}

// Policies resolves the tenant approval policy.
type Policies interface {
	Get(ctx context.Context, tenantID string) (Policy, error)
	Put(ctx context.Context, tenantID string, p Policy) (Policy, error)
}

// AuditPort receives one entry per mutation.
type AuditPort interface {
	Append(ctx context.Context, entry audit.Entry)
}

// Observer receives transition and escalation events for metrics.
type Observer interface {
	ObserveTransition(from, to, outcome string)
	ObserveEscalation(priority string)
}

// Config tunes the service.
type Config struct {
	Retry      db.RetryPolicy
	Thresholds Thresholds
	Now        func() time.Time
}

// Service executes requisition status transitions.
type Service struct {
	store      RequisitionStore
	policies   Policies
	audit      AuditPort
	metrics    Observer
	logger     *slog.Logger
	retry      db.RetryPolicy
	thresholds Thresholds
	now        func() time.Time
}

// NewService constructs the approval service. auditor and metrics may be nil.
func NewService(store RequisitionStore, policies Policies, auditor AuditPort, metrics Observer, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = db.DefaultRetryPolicy
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      store,
		policies:   policies,
		audit:      auditor,
		metrics:    metrics,
		logger:     logger,
		retry:      cfg.Retry,
		thresholds: cfg.Thresholds,
		now:        cfg.Now,
	}
}

// Result is returned by Transition. On a validation failure Status holds the
// unchanged current status and Errors lists the failed check.
type Result struct {
	Requisition                *requisition.Requisition  `json:"requisition,omitempty"`
	Status                     requisition.Status        `json:"status"`
	Errors                     []*shared.ValidationError `json:"errors"`
	NextApprovers              []shared.Role             `json:"nextApprovers,omitempty"`
	RequiresAdditionalApproval bool                      `json:"requiresAdditionalApproval"`
}

// Transition moves requisition id to target on behalf of actor. The read,
// decision and compare-and-set write run in one transaction and are retried
// on a version conflict.
func (s *Service) Transition(ctx context.Context, actor shared.Actor, id uuid.UUID, target requisition.Status, comments string) (Result, error) {
	policy, err := s.policies.Get(ctx, actor.TenantID)
	if err != nil {
		return Result{}, err
	}
	var outcome Outcome
	var current requisition.Requisition
	err = db.Retry(ctx, s.retry, func(attempt int) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx requisition.TxRepository) error {
			req, err := tx.Lock(ctx, actor.TenantID, id)
			if err != nil {
				return err
			}
			current = req
			decided, err := Decide(req, Request{Target: target, Actor: actor, Comments: comments}, policy, s.now().UTC())
			if err != nil {
				return err
			}
			version, err := tx.Update(ctx, decided.Requisition)
			if err != nil {
				return err
			}
			decided.Requisition.Version = version
			outcome = decided
			return nil
		})
	})
	if err != nil {
		s.observe(current.Status, target, err)
		if errs := shared.AsValidation(err); errs != nil && current.ID != uuid.Nil {
			return Result{Status: current.Status, Errors: errs, NextApprovers: NextApprovers(current, policy)}, err
		}
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("requisition transition", slog.String("requisition_id", id.String()),
				slog.String("target", string(target)), slog.Any("error", err))
		}
		return Result{}, err
	}

	updated := outcome.Requisition
	s.observe(outcome.Previous, updated.Status, nil)
	s.logger.Info("requisition transition",
		slog.String("requisition_id", id.String()),
		slog.String("from", string(outcome.Previous)),
		slog.String("to", string(updated.Status)),
		slog.Int("approval_step", updated.CurrentApprovalStep),
		slog.String("actor", actor.UserID))
	s.recordAudit(ctx, actor, outcome)
	return Result{
		Requisition:                &updated,
		Status:                     updated.Status,
		Errors:                     []*shared.ValidationError{},
		NextApprovers:              outcome.NextApprovers,
		RequiresAdditionalApproval: outcome.RequiresAdditionalApproval,
	}, nil
}

// GetPolicy returns the tenant's effective policy.
func (s *Service) GetPolicy(ctx context.Context, tenantID string) (Policy, error) {
	return s.policies.Get(ctx, tenantID)
}

// PutPolicy replaces the tenant's policy. Only admins may do so.
func (s *Service) PutPolicy(ctx context.Context, actor shared.Actor, p Policy) (Policy, error) {
	if actor.Role != shared.RoleAdmin {
		return Policy{}, shared.ErrForbidden
	}
	before, err := s.policies.Get(ctx, actor.TenantID)
	if err != nil {
		return Policy{}, err
	}
	p.UpdatedBy = actor.UserID
	p.UpdatedAt = s.now().UTC()
	stored, err := s.policies.Put(ctx, actor.TenantID, p)
	if err != nil {
		return Policy{}, err
	}
	if s.audit != nil {
		s.audit.Append(ctx, audit.Entry{
			TenantID:   actor.TenantID,
			EntityType: audit.EntityPolicy,
			EntityID:   actor.TenantID,
			Action:     audit.ActionUpdate,
			OldValues:  map[string]any{"levels": len(before.Levels)},
			NewValues:  map[string]any{"levels": len(stored.Levels)},
			ActorID:    actor.UserID,
			ActorRole:  string(actor.Role),
		})
	}
	return stored, nil
}

// ListEscalations returns the tenant's requisitions overdue for review. It
// performs no transition.
func (s *Service) ListEscalations(ctx context.Context, tenantID string) ([]Escalation, error) {
	reqs, err := s.store.ListInStatus(ctx, tenantID, requisition.StatusUnderReview)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return FindEscalations(reqs, s.now().UTC(), s.thresholds, policy), nil
}

// ScanResult summarises one escalation sweep.
type ScanResult struct {
	Tenants int
	Flagged int
}

// ScanEscalations sweeps every tenant with requisitions under review and
// records an advisory audit entry per overdue requisition. A failing tenant
// is logged and skipped.
func (s *Service) ScanEscalations(ctx context.Context) (ScanResult, error) {
	tenants, err := s.store.TenantsWithStatus(ctx, requisition.StatusUnderReview)
	if err != nil {
		return ScanResult{}, err
	}
	var result ScanResult
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		escalations, err := s.ListEscalations(ctx, tenantID)
		if err != nil {
			s.logger.Warn("escalation scan failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
			continue
		}
		result.Tenants++
		for _, esc := range escalations {
			result.Flagged++
			if s.metrics != nil {
				s.metrics.ObserveEscalation(string(esc.Priority))
			}
			if s.audit != nil {
				system := shared.SystemActor(tenantID)
				s.audit.Append(ctx, audit.Entry{
					TenantID:   tenantID,
					EntityType: audit.EntityRequisition,
					EntityID:   esc.RequisitionID.String(),
					Action:     audit.ActionEscalationFlagged,
					NewValues: map[string]any{
						"priority":     string(esc.Priority),
						"waitingHours": int(esc.Waiting.Hours()),
						"approvalStep": esc.CurrentApprovalStep,
					},
					ActorID:   system.UserID,
					ActorRole: string(system.Role),
				})
			}
		}
		if len(escalations) > 0 {
			s.logger.Info("requisitions need escalation", slog.String("tenant_id", tenantID), slog.Int("count", len(escalations)))
		}
	}
	return result, nil
}

func (s *Service) observe(from, to requisition.Status, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "applied"
	switch {
	case err == nil && from == to:
		outcome = "step_approved"
	case err == nil:
	case errors.Is(err, shared.ErrValidation):
		outcome = "rejected"
	case errors.Is(err, shared.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, shared.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	s.metrics.ObserveTransition(string(from), string(to), outcome)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, outcome Outcome) {
	if s.audit == nil {
		return
	}
	req := outcome.Requisition
	s.audit.Append(ctx, audit.Entry{
		TenantID:   req.TenantID,
		EntityType: audit.EntityRequisition,
		EntityID:   req.ID.String(),
		Action:     audit.ActionStatusChange,
		OldValues:  map[string]any{"status": string(outcome.Previous), "currentApprovalStep": outcome.Entry.ApprovalLevel},
		NewValues: map[string]any{
			"status":              string(req.Status),
			"currentApprovalStep": req.CurrentApprovalStep,
			"action":              string(outcome.Entry.Action),
			"comments":            outcome.Entry.Comments,
		},
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		At:        outcome.Entry.Timestamp,
	})
}
