package vendors

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Store is the persistence used by Service.
type Store interface {
	List(ctx context.Context, tenantID string, filters ListFilters) ([]Vendor, int, error)
	Get(ctx context.Context, tenantID, id string) (Vendor, error)
}

// Service is the vendor directory.
type Service struct {
	repo Store
}

// NewService builds the directory.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// List returns a page of vendors.
func (s *Service) List(ctx context.Context, tenantID string, filters ListFilters) ([]Vendor, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	return s.repo.List(ctx, tenantID, filters)
}

// Get returns one vendor.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Vendor, error) {
	if strings.TrimSpace(id) == "" {
		return Vendor{}, shared.NewValidationError("id", "required", "vendor id is required")
	}
	return s.repo.Get(ctx, tenantID, id)
}

// GetVendorByID resolves a vendor, returning nil without error when it does
// not exist.
func (s *Service) GetVendorByID(ctx context.Context, tenantID, id string) (*Vendor, error) {
	v, err := s.repo.Get(ctx, tenantID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
