package procurement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPending   POStatus = "PENDING"
	POStatusApproved  POStatus = "APPROVED"
	POStatusSent      POStatus = "SENT"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// ParsePOStatus validates a status filter value.
func ParsePOStatus(raw string) (POStatus, error) {
	switch s := POStatus(raw); s {
	case POStatusDraft, POStatusPending, POStatusApproved, POStatusSent,
		POStatusReceived, POStatusClosed, POStatusCancelled:
		return s, nil
	}
	return "", shared.NewValidationError("status", "unknown_status", fmt.Sprintf("unknown purchase order status %q", raw))
}

// POLine is one ordered material, traced back to its requisition line.
type POLine struct {
	ID                uuid.UUID           `json:"id"`
	LineNo            int                 `json:"lineNo"`
	RequisitionID     uuid.UUID           `json:"requisitionId"`
	RequisitionLineID uuid.UUID           `json:"requisitionLineId"`
	MaterialName      string              `json:"materialName"`
	Unit              string              `json:"unit,omitempty"`
	Quantity          decimal.Decimal     `json:"quantity"`
	UnitPrice         decimal.NullDecimal `json:"unitPrice"`
	TotalPrice        decimal.Decimal     `json:"totalPrice"`
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                   uuid.UUID       `json:"id"`
	TenantID             string          `json:"tenantId"`
	Number               string          `json:"poNumber"`
	Status               POStatus        `json:"status"`
	VendorID             string          `json:"vendorId"`
	VendorName           string          `json:"vendorName"`
	Currency             string          `json:"currency"`
	Lines                []POLine        `json:"lines,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxRate              decimal.Decimal `json:"taxRate"`
	TaxAmount            decimal.Decimal `json:"taxAmount"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	LinkedRequisitionIDs []uuid.UUID     `json:"linkedRequisitionIds"`
	IdempotencyKey       uuid.UUID       `json:"idempotencyKey"`
	CreatedBy            string          `json:"createdBy"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Price fills subtotal, tax and total from the lines.
func (po *PurchaseOrder) Price() {
	subtotal := decimal.Zero
	for _, l := range po.Lines {
		subtotal = subtotal.Add(l.TotalPrice)
	}
	po.Subtotal = shared.RoundMoney(subtotal)
	po.TaxAmount = shared.RoundMoney(po.Subtotal.Mul(po.TaxRate))
	po.TotalAmount = po.Subtotal.Add(po.TaxAmount)
}

// Deletable reports whether the PO may be removed. Only drafts that no
// requisition contributed to qualify, so requisition accounting never needs
// reversing.
func (po PurchaseOrder) Deletable() bool {
	return po.Status == POStatusDraft && len(po.LinkedRequisitionIDs) == 0
}

// ListFilters narrows a purchase order listing.
type ListFilters struct {
	Status   string
	VendorID string
	Search   string
	SortBy   string
	SortDir  string
	Page     int
	PerPage  int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: purchase order %w", shared.ErrNotFound)
	// ErrNotDeletable rejects deleting a PO that carries requisition accounting.
	ErrNotDeletable = shared.NewValidationError("status", "not_deletable", "only draft purchase orders without linked requisitions can be deleted")
	// ErrDuplicateGroup rejects a group whose idempotency key was already used.
	ErrDuplicateGroup = shared.NewValidationError("idempotencyKey", "duplicate_group",
		"a purchase order was already created for this vendor group")
	// ErrNumberTaken reports a sequence collision; the next request draws a fresh number.
	ErrNumberTaken = fmt.Errorf("procurement: po number already used: %w", shared.ErrDependency)
)
