package approval

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/cache"
)

// PolicySource is the durable policy storage.
type PolicySource interface {
	Get(ctx context.Context, tenantID string) (Policy, bool, error)
	Put(ctx context.Context, tenantID string, p Policy) error
}

// PolicyStore serves policies through a versioned redis cache. A cache outage
// degrades to reading the source directly.
type PolicyStore struct {
	source PolicySource
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewPolicyStore wires the store. cache may be nil.
func NewPolicyStore(source PolicySource, c *cache.Versioned, logger *slog.Logger) *PolicyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyStore{source: source, cache: c, logger: logger}
}

// Get returns the tenant policy or the default one.
func (s *PolicyStore) Get(ctx context.Context, tenantID string) (Policy, error) {
	load := func(ctx context.Context) (any, error) {
		p, ok, err := s.source.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return DefaultPolicy(), nil
		}
		return p.Normalize(), nil
	}
	key, err := s.cache.BuildKey(ctx, tenantID, "approval-policy")
	if err == nil {
		var p Policy
		if err = s.cache.FetchJSON(ctx, key, &p, load); err == nil {
			return p, nil
		}
	}
	s.logger.Warn("approval policy cache unavailable", slog.String("tenant_id", tenantID), slog.Any("error", err))
	value, err := load(ctx)
	if err != nil {
		return Policy{}, err
	}
	return value.(Policy), nil
}

// Put validates and stores p, then invalidates the tenant's cached copy.
func (s *PolicyStore) Put(ctx context.Context, tenantID string, p Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	p = p.Normalize()
	if err := s.source.Put(ctx, tenantID, p); err != nil {
		return Policy{}, err
	}
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.Warn("approval policy cache bump failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
	}
	return p, nil
}
