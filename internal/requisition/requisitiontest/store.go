// Package requisitiontest provides an in-memory requisition store for tests
// of packages built on top of the requisition aggregate.
package requisitiontest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type key struct {
	tenant string
	id     uuid.UUID
}

// Store keeps requisitions in memory. Transactions are serialised by a
// mutex and rolled back on error; Update enforces the version check.
type Store struct {
	mu   sync.Mutex
	reqs map[key]requisition.Requisition
	// UpdateConflicts makes the next n Update calls fail with a version conflict.
	UpdateConflicts int
	// Updates counts successful Update calls.
	Updates int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{reqs: make(map[key]requisition.Requisition)}
}

// Put stores req as is, bypassing version checks.
func (s *Store) Put(req requisition.Requisition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[key{req.TenantID, req.ID}] = req.Clone()
}

// WithTx runs fn as one serialised transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, requisition.TxRepository) error) error {
	return s.RunLocked(func(tx requisition.TxRepository) error {
		return fn(ctx, tx)
	})
}

// RunLocked exposes the transaction body so other in-memory repositories can
// join the same transaction.
func (s *Store) RunLocked(fn func(requisition.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := make(map[key]requisition.Requisition, len(s.reqs))
	for k, v := range s.reqs {
		backup[k] = v
	}
	updates := s.Updates
	if err := fn(&tx{store: s}); err != nil {
		s.reqs = backup
		s.Updates = updates
		return err
	}
	return nil
}

// Get returns a copy of the stored requisition.
func (s *Store) Get(ctx context.Context, tenantID string, id uuid.UUID) (requisition.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[key{tenantID, id}]
	if !ok {
		return requisition.Requisition{}, requisition.ErrNotFound
	}
	return req.Clone(), nil
}

// GetMany returns copies of the requisitions found, ordered by number.
func (s *Store) GetMany(ctx context.Context, tenantID string, ids []uuid.UUID) ([]requisition.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []requisition.Requisition
	for _, id := range ids {
		if req, ok := s.reqs[key{tenantID, id}]; ok {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// List filters by status, requester and search text.
func (s *Store) List(ctx context.Context, tenantID string, filter requisition.ListFilter) ([]requisition.Requisition, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []requisition.Requisition
	for k, req := range s.reqs {
		if k.tenant != tenantID || !matches(req, filter) {
			continue
		}
		matched = append(matched, req.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Number > matched[j].Number })
	page := shared.NewPagination(filter.Page, filter.PerPage, len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

// ListInStatus returns every requisition of tenant in status.
func (s *Store) ListInStatus(ctx context.Context, tenantID string, status requisition.Status) ([]requisition.Requisition, error) {
	items, _, err := s.List(ctx, tenantID, requisition.ListFilter{Statuses: []requisition.Status{status}, PerPage: 1 << 20})
	return items, err
}

// TenantsWithStatus lists tenants with at least one requisition in status.
func (s *Store) TenantsWithStatus(ctx context.Context, status requisition.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var tenants []string
	for k, req := range s.reqs {
		if req.Status == status && !seen[k.tenant] {
			seen[k.tenant] = true
			tenants = append(tenants, k.tenant)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func matches(req requisition.Requisition, filter requisition.ListFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if req.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.RequestedBy != "" && req.RequestedBy != filter.RequestedBy {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(req.Number), needle) && !strings.Contains(strings.ToLower(req.Title), needle) {
			return false
		}
	}
	return true
}

type tx struct {
	store *Store
}

func (t *tx) Lock(ctx context.Context, tenantID string, id uuid.UUID) (requisition.Requisition, error) {
	req, ok := t.store.reqs[key{tenantID, id}]
	if !ok {
		return requisition.Requisition{}, requisition.ErrNotFound
	}
	return req.Clone(), nil
}

func (t *tx) Insert(ctx context.Context, req requisition.Requisition) error {
	k := key{req.TenantID, req.ID}
	if _, ok := t.store.reqs[k]; ok {
		return shared.ErrConflict
	}
	t.store.reqs[k] = req.Clone()
	return nil
}

func (t *tx) Update(ctx context.Context, req requisition.Requisition) (int64, error) {
	k := key{req.TenantID, req.ID}
	stored, ok := t.store.reqs[k]
	if !ok {
		return 0, requisition.ErrNotFound
	}
	if t.store.UpdateConflicts > 0 {
		t.store.UpdateConflicts--
		return 0, requisition.ErrVersionConflict
	}
	if stored.Version != req.Version {
		return 0, requisition.ErrVersionConflict
	}
	next := req.Clone()
	next.Version = req.Version + 1
	t.store.reqs[k] = next
	t.store.Updates++
	return next.Version, nil
}

func (t *tx) Delete(ctx context.Context, tenantID string, id uuid.UUID, version int64) error {
	k := key{tenantID, id}
	stored, ok := t.store.reqs[k]
	if !ok || stored.Version != version || stored.Status != requisition.StatusDraft {
		return requisition.ErrVersionConflict
	}
	delete(t.store.reqs, k)
	return nil
}
