package requisition

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Status is the requisition lifecycle state.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusSubmitted          Status = "SUBMITTED"
	StatusUnderReview        Status = "UNDER_REVIEW"
	StatusApproved           Status = "APPROVED"
	StatusRejected           Status = "REJECTED"
	StatusPartiallyConverted Status = "PARTIALLY_CONVERTED"
	StatusFullyConverted     Status = "FULLY_CONVERTED"
)

var allStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved,
	StatusRejected, StatusPartiallyConverted, StatusFullyConverted,
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range allStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", shared.NewValidationError("status", "unknown_status", fmt.Sprintf("unknown requisition status %q", raw))
}

// successors is the static transition table. FULLY_CONVERTED has no entry.
var successors = map[Status][]Status{
	StatusDraft:              {StatusSubmitted},
	StatusSubmitted:          {StatusUnderReview},
	StatusUnderReview:        {StatusApproved, StatusRejected, StatusDraft},
	StatusRejected:           {StatusSubmitted, StatusDraft},
	StatusApproved:           {StatusPartiallyConverted, StatusFullyConverted},
	StatusPartiallyConverted: {StatusFullyConverted},
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors lists the legal targets of from.
func Successors(from Status) []Status {
	return append([]Status(nil), successors[from]...)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(successors[s]) == 0
}

// Editable reports whether header and lines may still be changed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// Convertible reports whether lines of a requisition in s may be converted.
func (s Status) Convertible() bool {
	return s == StatusApproved || s == StatusPartiallyConverted
}

// Priority drives escalation thresholds.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority defaults an empty value to NORMAL.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(raw))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", shared.NewValidationError("priority", "unknown_priority", fmt.Sprintf("unknown priority %q", raw))
}

// Line is one requested material. Quantities are exact decimals.
type Line struct {
	ID                uuid.UUID           `json:"id"`
	LineNo            int                 `json:"lineNo"`
	MaterialName      string              `json:"materialName"`
	Unit              string              `json:"unit,omitempty"`
	Quantity          decimal.Decimal     `json:"quantity"`
	UnitPrice         decimal.NullDecimal `json:"unitPrice"`
	VendorID          string              `json:"vendorId,omitempty"`
	ConvertedQuantity decimal.Decimal     `json:"convertedQuantity"`
	RemainingQuantity decimal.Decimal     `json:"remainingQuantity"`
	IsFullyConverted  bool                `json:"isFullyConverted"`
}

// EstimatedTotal is quantity times unit price, zero without a price.
func (l Line) EstimatedTotal() decimal.Decimal {
	if !l.UnitPrice.Valid {
		return decimal.Zero
	}
	return shared.RoundMoney(l.Quantity.Mul(l.UnitPrice.Decimal))
}

// Reconcile derives remaining quantity and the fully converted flag from
// quantity and converted quantity.
func (l *Line) Reconcile() {
	l.RemainingQuantity = l.Quantity.Sub(l.ConvertedQuantity)
	l.IsFullyConverted = l.ConvertedQuantity.Equal(l.Quantity)
}

// ApplyConversion books amount as converted. The amount must be positive and
// not exceed the remaining quantity.
func (l *Line) ApplyConversion(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.NewValidationError("quantity", "not_positive", "converted amount must be positive")
	}
	if amount.GreaterThan(l.RemainingQuantity) {
		return fmt.Errorf("%w: line %s remaining %s, requested %s", ErrOverConversion, l.ID, l.RemainingQuantity, amount)
	}
	l.ConvertedQuantity = l.ConvertedQuantity.Add(amount)
	l.Reconcile()
	return nil
}

// CheckAccounting verifies 0 <= converted <= quantity and
// remaining = quantity - converted.
func (l Line) CheckAccounting() error {
	if l.ConvertedQuantity.IsNegative() || l.ConvertedQuantity.GreaterThan(l.Quantity) {
		return fmt.Errorf("%w: line %s converted %s of %s", ErrAccounting, l.ID, l.ConvertedQuantity, l.Quantity)
	}
	if !l.RemainingQuantity.Equal(l.Quantity.Sub(l.ConvertedQuantity)) {
		return fmt.Errorf("%w: line %s remaining %s", ErrAccounting, l.ID, l.RemainingQuantity)
	}
	if l.IsFullyConverted != l.ConvertedQuantity.Equal(l.Quantity) {
		return fmt.Errorf("%w: line %s fully converted flag", ErrAccounting, l.ID)
	}
	return nil
}

// ApprovalAction names what an actor did in a history entry.
type ApprovalAction string

const (
	ActionSubmit       ApprovalAction = "SUBMIT"
	ActionStartReview  ApprovalAction = "START_REVIEW"
	ActionApproveStep  ApprovalAction = "APPROVE_STEP"
	ActionApprove      ApprovalAction = "APPROVE"
	ActionReject       ApprovalAction = "REJECT"
	ActionReturn       ApprovalAction = "RETURN_FOR_REVISION"
	ActionReopen       ApprovalAction = "REOPEN"
	ActionConvert      ApprovalAction = "CONVERT"
	ActionConvertFinal ApprovalAction = "CONVERT_COMPLETE"
)

// ApprovalEntry is an immutable history record appended per transition.
type ApprovalEntry struct {
	ApproverID     string         `json:"approverId"`
	ApproverName   string         `json:"approverName,omitempty"`
	ApproverRole   shared.Role    `json:"approverRole"`
	Action         ApprovalAction `json:"action"`
	PreviousStatus Status         `json:"previousStatus"`
	NewStatus      Status         `json:"newStatus"`
	ApprovalLevel  int            `json:"approvalLevel"`
	Comments       string         `json:"comments,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Requisition is the aggregate root. Version increments on every write.
type Requisition struct {
	ID                  uuid.UUID       `json:"id"`
	TenantID            string          `json:"tenantId"`
	Number              string          `json:"requisitionNumber"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Status              Status          `json:"status"`
	Priority            Priority        `json:"priority"`
	RequestedBy         string          `json:"requestedBy"`
	RequestedByName     string          `json:"requestedByName,omitempty"`
	TotalValue          decimal.Decimal `json:"totalValue"`
	CurrentApprovalStep int             `json:"currentApprovalStep"`
	ApprovalHistory     []ApprovalEntry `json:"approvalHistory"`
	Lines               []Line          `json:"lines"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	SubmittedAt         *time.Time      `json:"submittedAt,omitempty"`
	ApprovedAt          *time.Time      `json:"approvedAt,omitempty"`
	RejectedAt          *time.Time      `json:"rejectedAt,omitempty"`
	ConvertedToPOAt     *time.Time      `json:"convertedToPOAt,omitempty"`
}

// RecomputeTotal sums the estimated totals of every line.
func (r *Requisition) RecomputeTotal() {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.EstimatedTotal())
	}
	r.TotalValue = shared.RoundMoney(total)
}

// Line returns a pointer to the line with id, or nil.
func (r *Requisition) Line(id uuid.UUID) *Line {
	for i := range r.Lines {
		if r.Lines[i].ID == id {
			return &r.Lines[i]
		}
	}
	return nil
}

// ConversionStatus derives the aggregate status from line accounting:
// FULLY_CONVERTED when every line is exhausted, PARTIALLY_CONVERTED when any
// line has converted quantity, otherwise the current status.
func (r *Requisition) ConversionStatus() Status {
	if len(r.Lines) == 0 {
		return r.Status
	}
	exhausted, touched := true, false
	for _, l := range r.Lines {
		if !l.IsFullyConverted {
			exhausted = false
		}
		if l.ConvertedQuantity.IsPositive() {
			touched = true
		}
	}
	switch {
	case exhausted:
		return StatusFullyConverted
	case touched:
		return StatusPartiallyConverted
	}
	return r.Status
}

// ApplyConversionStatus moves the aggregate status after line accounting
// changed. It returns true when the status changed.
func (r *Requisition) ApplyConversionStatus(actor shared.Actor, at time.Time) (bool, error) {
	next := r.ConversionStatus()
	if next == r.Status {
		return false, nil
	}
	if !CanTransition(r.Status, next) {
		return false, fmt.Errorf("%w: %s to %s", ErrIllegalStatus, r.Status, next)
	}
	action := ActionConvert
	if next == StatusFullyConverted {
		action = ActionConvertFinal
	}
	r.ApprovalHistory = append(r.ApprovalHistory, ApprovalEntry{
		ApproverID:     actor.UserID,
		ApproverName:   actor.DisplayName,
		ApproverRole:   actor.Role,
		Action:         action,
		PreviousStatus: r.Status,
		NewStatus:      next,
		ApprovalLevel:  r.CurrentApprovalStep,
		Timestamp:      at,
	})
	r.Status = next
	stamp := at
	r.ConvertedToPOAt = &stamp
	return true, nil
}

// CheckAccounting verifies every line's accounting invariants.
func (r *Requisition) CheckAccounting() error {
	for _, l := range r.Lines {
		if err := l.CheckAccounting(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy so callers can diff before and after a mutation.
func (r Requisition) Clone() Requisition {
	out := r
	out.Lines = append([]Line(nil), r.Lines...)
	out.ApprovalHistory = append([]ApprovalEntry(nil), r.ApprovalHistory...)
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	out.ConvertedToPOAt = cloneTime(r.ConvertedToPOAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListFilter narrows ListByStatus.
type ListFilter struct {
	Statuses    []Status
	RequestedBy string
	Search      string
	Page        int
	PerPage     int
}
