package procurement

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
	"github.com/odyssey-erp/odyssey-procure/internal/vendors"
)

// UnassignedVendor is the bucket key for lines without a vendor.
const UnassignedVendor = "unassigned"

// vendorLookupLimit bounds concurrent directory calls during grouping.
const vendorLookupLimit = 8

// VendorDirectory resolves vendor metadata. A missing vendor is (nil, nil).
type VendorDirectory interface {
	GetVendorByID(ctx context.Context, tenantID, id string) (*vendors.Vendor, error)
}

// GroupLine is a requisition line selected for conversion.
type GroupLine struct {
	RequisitionID     uuid.UUID           `json:"requisitionId"`
	RequisitionNumber string              `json:"requisitionNumber"`
	LineID            uuid.UUID           `json:"lineId"`
	LineNo            int                 `json:"lineNo"`
	MaterialName      string              `json:"materialName"`
	Unit              string              `json:"unit,omitempty"`
	RemainingQuantity decimal.Decimal     `json:"remainingQuantity"`
	UnitPrice         decimal.NullDecimal `json:"unitPrice"`
	EstimatedTotal    decimal.Decimal     `json:"estimatedTotal"`
}

// VendorGroup holds the lines destined for one vendor.
type VendorGroup struct {
	VendorID       string          `json:"vendorId"`
	VendorName     string          `json:"vendorName"`
	Currency       string          `json:"currency,omitempty"`
	VendorMissing  bool            `json:"vendorMissing,omitempty"`
	Lines          []GroupLine     `json:"lines"`
	EstimatedTotal decimal.Decimal `json:"estimatedTotal"`
}

// Unassigned reports whether the group collects lines without a vendor.
func (g VendorGroup) Unassigned() bool {
	return g.VendorID == UnassignedVendor
}

// RequisitionIDs returns the distinct requisitions contributing to the group
// in first-seen order.
func (g VendorGroup) RequisitionIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(g.Lines))
	var out []uuid.UUID
	for _, l := range g.Lines {
		if !seen[l.RequisitionID] {
			seen[l.RequisitionID] = true
			out = append(out, l.RequisitionID)
		}
	}
	return out
}

// GroupByVendor buckets every line with remaining quantity by vendor. Vendor
// metadata is resolved for each assigned bucket. Assigned buckets are sorted
// by vendor name and the unassigned bucket, when present, is always last.
func GroupByVendor(ctx context.Context, tenantID string, reqs []requisition.Requisition, dir VendorDirectory) ([]VendorGroup, error) {
	index := map[string]int{}
	var groups []VendorGroup
	for _, req := range reqs {
		for _, line := range req.Lines {
			if !line.RemainingQuantity.IsPositive() {
				continue
			}
			key := strings.TrimSpace(line.VendorID)
			if key == "" {
				key = UnassignedVendor
			}
			i, ok := index[key]
			if !ok {
				i = len(groups)
				index[key] = i
				groups = append(groups, VendorGroup{VendorID: key, VendorName: key, EstimatedTotal: decimal.Zero})
			}
			gl := GroupLine{
				RequisitionID:     req.ID,
				RequisitionNumber: req.Number,
				LineID:            line.ID,
				LineNo:            line.LineNo,
				MaterialName:      line.MaterialName,
				Unit:              line.Unit,
				RemainingQuantity: line.RemainingQuantity,
				UnitPrice:         line.UnitPrice,
				EstimatedTotal:    decimal.Zero,
			}
			if line.UnitPrice.Valid {
				gl.EstimatedTotal = shared.RoundMoney(line.RemainingQuantity.Mul(line.UnitPrice.Decimal))
			}
			groups[i].Lines = append(groups[i].Lines, gl)
			groups[i].EstimatedTotal = groups[i].EstimatedTotal.Add(gl.EstimatedTotal)
		}
	}

	if dir != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(vendorLookupLimit)
		for i := range groups {
			if groups[i].Unassigned() {
				continue
			}
			group := &groups[i]
			g.Go(func() error {
				v, err := dir.GetVendorByID(gctx, tenantID, group.VendorID)
				if err != nil {
					return err
				}
				if v == nil {
					group.VendorMissing = true
					return nil
				}
				group.VendorName = v.Name
				group.Currency = v.Currency
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Unassigned() != b.Unassigned() {
			return b.Unassigned()
		}
		if a.VendorName != b.VendorName {
			return a.VendorName < b.VendorName
		}
		return a.VendorID < b.VendorID
	})
	return groups, nil
}

// SplitUnassigned separates the unassigned bucket from the convertible ones.
func SplitUnassigned(groups []VendorGroup) ([]VendorGroup, *VendorGroup) {
	if n := len(groups); n > 0 && groups[n-1].Unassigned() {
		last := groups[n-1]
		return groups[:n-1], &last
	}
	return groups, nil
}
