// Package vendors is the read-only vendor directory consulted during
// grouping and conversion.
package vendors

import (
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Vendor represents a vendor entity.
type Vendor struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFilters narrows a vendor listing.
type ListFilters struct {
	Search  string
	Active  *bool
	Page    int
	Limit   int
	SortBy  string
	SortDir string
}

// ErrNotFound is returned when a vendor does not exist.
var ErrNotFound = shared.ErrNotFound
