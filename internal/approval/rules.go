package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type edge struct {
	from requisition.Status
	to   requisition.Status
}

var (
	requesters = []shared.Role{
		shared.RoleRequester, shared.RoleDepartmentHead, shared.RoleProcurement,
		shared.RoleFinanceManager, shared.RoleDirector, shared.RoleAdmin,
	}
	reviewers = []shared.Role{
		shared.RoleDepartmentHead, shared.RoleProcurement, shared.RoleFinanceManager,
		shared.RoleDirector, shared.RoleAdmin,
	}
	approvers = []shared.Role{
		shared.RoleDepartmentHead, shared.RoleFinanceManager, shared.RoleDirector, shared.RoleAdmin,
	}
	converters = []shared.Role{shared.RoleSystem}
)

// transitionRoles lists the roles allowed to drive each edge of the
// requisition transition table.
var transitionRoles = map[edge][]shared.Role{
	{requisition.StatusDraft, requisition.StatusSubmitted}:                   requesters,
	{requisition.StatusSubmitted, requisition.StatusUnderReview}:             reviewers,
	{requisition.StatusUnderReview, requisition.StatusApproved}:              approvers,
	{requisition.StatusUnderReview, requisition.StatusRejected}:              approvers,
	{requisition.StatusUnderReview, requisition.StatusDraft}:                 reviewers,
	{requisition.StatusRejected, requisition.StatusSubmitted}:                requesters,
	{requisition.StatusRejected, requisition.StatusDraft}:                    requesters,
	{requisition.StatusApproved, requisition.StatusPartiallyConverted}:       converters,
	{requisition.StatusApproved, requisition.StatusFullyConverted}:           converters,
	{requisition.StatusPartiallyConverted, requisition.StatusFullyConverted}: converters,
}

// ownerEdges may only be taken by the requester (or an admin).
var ownerEdges = map[edge]bool{
	{requisition.StatusDraft, requisition.StatusSubmitted}:    true,
	{requisition.StatusRejected, requisition.StatusSubmitted}: true,
	{requisition.StatusRejected, requisition.StatusDraft}:     true,
}

// AuthorizedRoles returns the roles allowed to move a requisition from one
// status to another.
func AuthorizedRoles(from, to requisition.Status) []shared.Role {
	return append([]shared.Role(nil), transitionRoles[edge{from, to}]...)
}

func hasRole(roles []shared.Role, role shared.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Request is one transition attempt.
type Request struct {
	Target   requisition.Status
	Actor    shared.Actor
	Comments string
}

// Outcome is the result of a successful decision.
type Outcome struct {
	Requisition                requisition.Requisition
	Previous                   requisition.Status
	Entry                      requisition.ApprovalEntry
	RequiresAdditionalApproval bool
	NextApprovers              []shared.Role
}

func reject(field, code, format string, args ...any) error {
	return shared.ValidationErrors{shared.NewValidationError(field, code, fmt.Sprintf(format, args...))}
}

// Decide validates in.Target for req and returns the mutated requisition. The
// checks run in a fixed order and the first failing check is reported:
// legal successor, role, approval limit, self-approval, required fields.
// The approval limit applies to the step that finalizes APPROVED.
func Decide(req requisition.Requisition, in Request, policy Policy, now time.Time) (Outcome, error) {
	from, to := req.Status, in.Target
	actor := in.Actor

	if !requisition.CanTransition(from, to) {
		return Outcome{}, reject("status", "illegal_transition",
			"cannot move requisition %s from %s to %s; allowed: %s", req.Number, from, to, joinStatuses(requisition.Successors(from)))
	}

	allowed := transitionRoles[edge{from, to}]
	if !hasRole(allowed, actor.Role) {
		return Outcome{}, reject("role", "role_not_authorized",
			"role %q may not move a requisition from %s to %s", actor.Role, from, to)
	}
	if ownerEdges[edge{from, to}] && actor.UserID != req.RequestedBy && actor.Role != shared.RoleAdmin {
		return Outcome{}, reject("actor", "not_owner", "only the requester may move %s from %s to %s", req.Number, from, to)
	}
	required := policy.RequiredLevels(req.TotalValue)
	if to == requisition.StatusApproved {
		level, ok := levelAt(required, req.CurrentApprovalStep)
		if ok && actor.Role != shared.RoleAdmin && !hasRole(level.ApproverRoles, actor.Role) {
			return Outcome{}, reject("role", "wrong_approval_level",
				"approval level %d (%s) requires one of %s", level.Level, level.Name, joinRoles(level.ApproverRoles))
		}
		// Intermediate levels only endorse; the value limit binds the final approver.
		limit := policy.LimitFor(actor.Role)
		if req.CurrentApprovalStep >= len(required) && limit.LessThan(req.TotalValue) {
			return Outcome{}, reject("totalValue", "limit_exceeded",
				"requisition value %s exceeds the %s approval limit of %s",
				shared.FormatAmount(req.TotalValue), actor.Role, shared.FormatAmount(limit))
		}
		if actor.UserID == req.RequestedBy {
			return Outcome{}, reject("actor", "self_approval", "requesters may not approve their own requisition")
		}
		if approvedThisCycle(req, actor.UserID) {
			return Outcome{}, reject("actor", "duplicate_approver", "%s already approved an earlier level of this requisition", actor.UserID)
		}
	}

	if err := requiredFields(req, in); err != nil {
		return Outcome{}, err
	}

	next := req.Clone()
	stamp := now
	out := Outcome{Previous: from}
	entry := requisition.ApprovalEntry{
		ApproverID:     actor.UserID,
		ApproverName:   actor.DisplayName,
		ApproverRole:   actor.Role,
		PreviousStatus: from,
		ApprovalLevel:  req.CurrentApprovalStep,
		Comments:       strings.TrimSpace(in.Comments),
		Timestamp:      now,
	}

	switch to {
	case requisition.StatusSubmitted:
		entry.Action = requisition.ActionSubmit
		next.Status = to
		next.CurrentApprovalStep = 1
		next.SubmittedAt = &stamp
		next.ApprovedAt = nil
		out.NextApprovers = rolesAt(required, 1)
	case requisition.StatusUnderReview:
		entry.Action = requisition.ActionStartReview
		next.Status = to
		out.NextApprovers = rolesAt(required, next.CurrentApprovalStep)
	case requisition.StatusApproved:
		if next.CurrentApprovalStep < len(required) {
			entry.Action = requisition.ActionApproveStep
			next.Status = requisition.StatusUnderReview
			next.CurrentApprovalStep++
			out.RequiresAdditionalApproval = true
			out.NextApprovers = rolesAt(required, next.CurrentApprovalStep)
		} else {
			entry.Action = requisition.ActionApprove
			next.Status = to
			next.ApprovedAt = &stamp
		}
	case requisition.StatusRejected:
		entry.Action = requisition.ActionReject
		next.Status = to
		next.RejectedAt = &stamp
	case requisition.StatusDraft:
		entry.Action = requisition.ActionReturn
		if from == requisition.StatusRejected {
			entry.Action = requisition.ActionReopen
		}
		next.Status = to
		next.CurrentApprovalStep = 1
	default:
		entry.Action = requisition.ActionConvert
		next.Status = to
		next.ConvertedToPOAt = &stamp
	}
	entry.NewStatus = next.Status
	next.ApprovalHistory = append(next.ApprovalHistory, entry)
	next.UpdatedAt = now

	out.Requisition = next
	out.Entry = entry
	return out, nil
}

func requiredFields(req requisition.Requisition, in Request) error {
	var errs shared.ValidationErrors
	switch in.Target {
	case requisition.StatusSubmitted, requisition.StatusUnderReview, requisition.StatusApproved:
		if strings.TrimSpace(req.Title) == "" {
			errs = append(errs, shared.NewValidationError("title", "required", "title is required"))
		}
		if len(req.Lines) == 0 {
			errs = append(errs, shared.NewValidationError("lines", "required", "at least one line is required"))
		}
		if !req.TotalValue.IsPositive() {
			errs = append(errs, shared.NewValidationError("totalValue", "not_positive", "total value must be positive; price at least one line"))
		}
	case requisition.StatusRejected:
		if strings.TrimSpace(in.Comments) == "" {
			errs = append(errs, shared.NewValidationError("comments", "required", "a rejection reason is required"))
		}
	case requisition.StatusDraft:
		if req.Status == requisition.StatusUnderReview && strings.TrimSpace(in.Comments) == "" {
			errs = append(errs, shared.NewValidationError("comments", "required", "say what needs revising"))
		}
	}
	return errs.Err()
}

// approvedThisCycle reports whether userID approved a level since the last submission.
func approvedThisCycle(req requisition.Requisition, userID string) bool {
	for i := len(req.ApprovalHistory) - 1; i >= 0; i-- {
		e := req.ApprovalHistory[i]
		if e.Action == requisition.ActionSubmit {
			return false
		}
		if e.Action == requisition.ActionApproveStep && e.ApproverID == userID {
			return true
		}
	}
	return false
}

func rolesAt(levels []Level, step int) []shared.Role {
	level, ok := levelAt(levels, step)
	if !ok {
		return nil
	}
	return append([]shared.Role(nil), level.ApproverRoles...)
}

// NextApprovers returns the roles eligible to act on req next.
func NextApprovers(req requisition.Requisition, policy Policy) []shared.Role {
	switch req.Status {
	case requisition.StatusSubmitted, requisition.StatusUnderReview:
		return rolesAt(policy.RequiredLevels(req.TotalValue), req.CurrentApprovalStep)
	}
	return nil
}

func joinStatuses(statuses []requisition.Status) string {
	if len(statuses) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ", ")
}

func joinRoles(roles []shared.Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
