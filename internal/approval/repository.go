package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PolicyRepository persists approval policies as one JSON document per tenant.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// Get returns the stored policy and whether one exists.
func (r *PolicyRepository) Get(ctx context.Context, tenantID string) (Policy, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM approval_policies WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, false, nil
		}
		return Policy{}, false, fmt.Errorf("approval: get policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, false, fmt.Errorf("approval: decode policy: %w", err)
	}
	return p, true, nil
}

// Put replaces the tenant's policy.
func (r *PolicyRepository) Put(ctx context.Context, tenantID string, p Policy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("approval: encode policy: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO approval_policies (tenant_id, document, updated_by, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id) DO UPDATE SET document = EXCLUDED.document, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		tenantID, raw, p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("approval: put policy: %w", err)
	}
	return nil
}
