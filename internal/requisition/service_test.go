package requisition_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition/requisitiontest"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type stubNumbers struct {
	mu   sync.Mutex
	next int
}

func (s *stubNumbers) Next(ctx context.Context, tenantID string, kind sequence.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("REQ-202406-%04d", s.next), nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryAudit) Append(ctx context.Context, entry audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

var (
	requester = shared.Actor{TenantID: "t1", UserID: "alice", Role: shared.RoleRequester, DisplayName: "Alice"}
	colleague = shared.Actor{TenantID: "t1", UserID: "bob", Role: shared.RoleRequester}
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func sampleInput() requisition.CreateInput {
	return requisition.CreateInput{
		Title: "Site safety gear",
		Lines: []requisition.LineInput{
			{MaterialName: "Helmet", Quantity: dec("10"), UnitPrice: decimal.NewNullDecimal(dec("300")), VendorID: "vendor-a"},
			{MaterialName: "Gloves", Quantity: dec("5"), UnitPrice: decimal.NewNullDecimal(dec("400")), VendorID: "vendor-b"},
		},
	}
}

func newService(t *testing.T) (*requisition.Service, *requisitiontest.Store, *memoryAudit) {
	t.Helper()
	store := requisitiontest.NewStore()
	auditor := &memoryAudit{}
	svc := requisition.NewService(store, &stubNumbers{}, auditor, nil).WithRetry(db.RetryPolicy{MaxAttempts: 3})
	return svc, store, auditor
}

func TestCreateRequisition(t *testing.T) {
	svc, store, auditor := newService(t)
	req, err := svc.Create(context.Background(), requester, sampleInput())
	require.NoError(t, err)

	require.Equal(t, "REQ-202406-0001", req.Number)
	require.Equal(t, requisition.StatusDraft, req.Status)
	require.Equal(t, requisition.PriorityNormal, req.Priority)
	require.Equal(t, 1, req.CurrentApprovalStep)
	require.Equal(t, "alice", req.RequestedBy)
	require.True(t, req.TotalValue.Equal(dec("5000")))
	require.Len(t, req.Lines, 2)
	for _, l := range req.Lines {
		require.True(t, l.RemainingQuantity.Equal(l.Quantity))
		require.True(t, l.ConvertedQuantity.IsZero())
	}

	stored, err := store.Get(context.Background(), "t1", req.ID)
	require.NoError(t, err)
	require.Equal(t, req.Number, stored.Number)

	require.Len(t, auditor.entries, 1)
	require.Equal(t, audit.ActionCreate, auditor.entries[0].Action)
	require.Nil(t, auditor.entries[0].OldValues)
}

func TestCreateRequisitionValidation(t *testing.T) {
	svc, _, auditor := newService(t)
	_, err := svc.Create(context.Background(), requester, requisition.CreateInput{
		Title: " ",
		Lines: []requisition.LineInput{{MaterialName: "Cable", Quantity: dec("0")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	fields := map[string]bool{}
	for _, ve := range shared.AsValidation(err) {
		fields[ve.Field] = true
	}
	require.True(t, fields["title"])
	require.True(t, fields["lines[0].quantity"])
	require.Empty(t, auditor.entries)
}

func TestUpdateDraftOwnerOnly(t *testing.T) {
	svc, _, auditor := newService(t)
	ctx := context.Background()
	req, err := svc.Create(ctx, requester, sampleInput())
	require.NoError(t, err)

	input := sampleInput()
	input.Title = "Updated"
	input.Priority = "urgent"
	input.Lines = input.Lines[:1]

	_, err = svc.UpdateDraft(ctx, colleague, req.ID, input)
	require.ErrorIs(t, err, shared.ErrForbidden)

	updated, err := svc.UpdateDraft(ctx, requester, req.ID, input)
	require.NoError(t, err)
	require.Equal(t, "Updated", updated.Title)
	require.Equal(t, requisition.PriorityUrgent, updated.Priority)
	require.Len(t, updated.Lines, 1)
	require.True(t, updated.TotalValue.Equal(dec("3000")))
	require.Equal(t, req.Version+1, updated.Version)

	last := auditor.entries[len(auditor.entries)-1]
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.Equal(t, "Site safety gear", last.OldValues["title"])
	require.Equal(t, "Updated", last.NewValues["title"])
}

func TestUpdateDraftRetriesVersionConflict(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	req, err := svc.Create(ctx, requester, sampleInput())
	require.NoError(t, err)

	store.UpdateConflicts = 2
	_, err = svc.UpdateDraft(ctx, requester, req.ID, sampleInput())
	require.NoError(t, err)

	store.UpdateConflicts = 3
	_, err = svc.UpdateDraft(ctx, requester, req.ID, sampleInput())
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateRejectedOutsideDraft(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	req, err := svc.Create(ctx, requester, sampleInput())
	require.NoError(t, err)

	req.Status = requisition.StatusApproved
	store.Put(req)
	_, err = svc.UpdateDraft(ctx, requester, req.ID, sampleInput())
	require.ErrorIs(t, err, requisition.ErrNotEditable)

	req.Status = requisition.StatusRejected
	store.Put(req)
	_, err = svc.UpdateDraft(ctx, requester, req.ID, sampleInput())
	require.NoError(t, err)
}

func TestDeleteDraft(t *testing.T) {
	svc, store, auditor := newService(t)
	ctx := context.Background()
	req, err := svc.Create(ctx, requester, sampleInput())
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteDraft(ctx, colleague, req.ID), shared.ErrForbidden)
	require.NoError(t, svc.DeleteDraft(ctx, requester, req.ID))
	_, err = store.Get(ctx, "t1", req.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, audit.ActionDelete, auditor.entries[len(auditor.entries)-1].Action)

	require.ErrorIs(t, svc.DeleteDraft(ctx, requester, req.ID), shared.ErrNotFound)
}

func TestDeleteSubmittedIsRejected(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	req, err := svc.Create(ctx, requester, sampleInput())
	require.NoError(t, err)
	req.Status = requisition.StatusSubmitted
	store.Put(req)

	err = svc.DeleteDraft(ctx, requester, req.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = store.Get(ctx, "t1", req.ID)
	require.NoError(t, err)
}

func TestListByStatus(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, requester, sampleInput())
		require.NoError(t, err)
	}
	approved, err := svc.Create(ctx, colleague, sampleInput())
	require.NoError(t, err)
	approved.Status = requisition.StatusApproved
	store.Put(approved)

	items, page, err := svc.ListByStatus(ctx, "t1", requisition.ListFilter{Statuses: []requisition.Status{requisition.StatusDraft}, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)

	items, _, err = svc.ListByStatus(ctx, "t1", requisition.ListFilter{Statuses: []requisition.Status{requisition.StatusApproved}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, approved.ID, items[0].ID)

	items, _, err = svc.ListByStatus(ctx, "other", requisition.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, items)
}
