package approval

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Thresholds maps a priority to how long a requisition may wait in review.
type Thresholds map[requisition.Priority]time.Duration

// DefaultThresholds returns the stock escalation windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		requisition.PriorityUrgent: 4 * time.Hour,
		requisition.PriorityHigh:   24 * time.Hour,
		requisition.PriorityNormal: 72 * time.Hour,
		requisition.PriorityLow:    168 * time.Hour,
	}
}

func (t Thresholds) forPriority(p requisition.Priority) time.Duration {
	if d, ok := t[p]; ok && d > 0 {
		return d
	}
	return t[requisition.PriorityNormal]
}

// Escalation describes a requisition waiting too long for review.
type Escalation struct {
	RequisitionID       uuid.UUID            `json:"requisitionId"`
	Number              string               `json:"requisitionNumber"`
	Title               string               `json:"title"`
	Priority            requisition.Priority `json:"priority"`
	CurrentApprovalStep int                  `json:"currentApprovalStep"`
	WaitingSince        time.Time            `json:"waitingSince"`
	Waiting             time.Duration        `json:"waitingNanos"`
	Threshold           time.Duration        `json:"thresholdNanos"`
	NextApprovers       []shared.Role        `json:"nextApprovers"`
}

// waitingSince is the time the requisition last entered or advanced within
// UNDER_REVIEW.
func waitingSince(req requisition.Requisition) time.Time {
	for i := len(req.ApprovalHistory) - 1; i >= 0; i-- {
		if req.ApprovalHistory[i].NewStatus == requisition.StatusUnderReview {
			return req.ApprovalHistory[i].Timestamp
		}
	}
	return req.UpdatedAt
}

// NeedsEscalation reports whether req has been under review longer than its
// priority allows. It never changes req.
func NeedsEscalation(req requisition.Requisition, now time.Time, thresholds Thresholds) (Escalation, bool) {
	if req.Status != requisition.StatusUnderReview {
		return Escalation{}, false
	}
	since := waitingSince(req)
	threshold := thresholds.forPriority(req.Priority)
	waiting := now.Sub(since)
	if threshold <= 0 || waiting <= threshold {
		return Escalation{}, false
	}
	return Escalation{
		RequisitionID:       req.ID,
		Number:              req.Number,
		Title:               req.Title,
		Priority:            req.Priority,
		CurrentApprovalStep: req.CurrentApprovalStep,
		WaitingSince:        since,
		Waiting:             waiting,
		Threshold:           threshold,
	}, true
}

// FindEscalations filters reqs down to those needing escalation, most overdue
// first.
func FindEscalations(reqs []requisition.Requisition, now time.Time, thresholds Thresholds, policy Policy) []Escalation {
	out := []Escalation{}
	for _, req := range reqs {
		esc, ok := NeedsEscalation(req, now, thresholds)
		if !ok {
			continue
		}
		esc.NextApprovers = NextApprovers(req, policy)
		out = append(out, esc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Waiting-out[i].Threshold > out[j].Waiting-out[j].Threshold
	})
	return out
}
