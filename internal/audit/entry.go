package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entity types written to the audit log.
const (
	EntityRequisition   = "requisition"
	EntityPurchaseOrder = "purchase_order"
	EntitySequence      = "sequence"
	EntityPolicy        = "approval_policy"
)

// Actions recorded by the engine.
const (
	ActionCreate            = "CREATE"
	ActionUpdate            = "UPDATE"
	ActionDelete            = "DELETE"
	ActionStatusChange      = "STATUS_CHANGE"
	ActionConvert           = "CONVERT"
	ActionEscalationFlagged = "ESCALATION_FLAGGED"
)

// Entry adalah satu catatan audit yang tidak pernah diubah.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenantId"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	ActorID    string         `json:"actorId"`
	ActorRole  string         `json:"actorRole"`
	At         time.Time      `json:"at"`
}
