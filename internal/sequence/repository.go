package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
)

// Repository provides PostgreSQL backed counter persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes counter operations valid inside a transaction.
type TxRepository interface {
	LatestConfig(ctx context.Context, tenantID string, kind Kind) (Config, bool, error)
	LockCounter(ctx context.Context, tenantID string, kind Kind, period string) (Counter, error)
	InsertCounter(ctx context.Context, counter Counter) (bool, error)
	SetCounter(ctx context.Context, counter Counter, next int64) error
	SaveConfig(ctx context.Context, tenantID string, kind Kind, cfg Config) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type txRepo struct {
	db dbtx
}

// WithTx runs fn in a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

// GetCounter reads a counter without locking it.
func (r *Repository) GetCounter(ctx context.Context, tenantID string, kind Kind, period string) (Counter, error) {
	return scanCounter(r.pool.QueryRow(ctx, selectCounter, tenantID, string(kind), period))
}

// LatestConfig reads the most recently used configuration for tenant and kind.
func (r *Repository) LatestConfig(ctx context.Context, tenantID string, kind Kind) (Config, bool, error) {
	return (&txRepo{db: r.pool}).LatestConfig(ctx, tenantID, kind)
}

const counterColumns = `tenant_id, kind, period, prefix, number_length, include_year, include_month,
	compact_date, separator, suffix, reset_monthly, current_counter, updated_at`

const selectCounter = `SELECT ` + counterColumns + `
FROM sequence_counters WHERE tenant_id = $1 AND kind = $2 AND period = $3`

func scanCounter(row pgx.Row) (Counter, error) {
	var c Counter
	var kind string
	err := row.Scan(&c.TenantID, &kind, &c.Period, &c.Config.Prefix, &c.Config.NumberLength,
		&c.Config.IncludeYear, &c.Config.IncludeMonth, &c.Config.CompactDate, &c.Config.Separator,
		&c.Config.Suffix, &c.Config.ResetMonthly, &c.CurrentCounter, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counter{}, ErrNotFound
		}
		return Counter{}, fmt.Errorf("sequence: scan counter: %w", err)
	}
	c.Kind = Kind(kind)
	return c, nil
}

func (tx *txRepo) LatestConfig(ctx context.Context, tenantID string, kind Kind) (Config, bool, error) {
	var cfg Config
	err := tx.db.QueryRow(ctx, `SELECT prefix, number_length, include_year, include_month, compact_date,
	separator, suffix, reset_monthly
FROM sequence_counters WHERE tenant_id = $1 AND kind = $2
ORDER BY updated_at DESC LIMIT 1`, tenantID, string(kind)).Scan(&cfg.Prefix, &cfg.NumberLength,
		&cfg.IncludeYear, &cfg.IncludeMonth, &cfg.CompactDate, &cfg.Separator, &cfg.Suffix, &cfg.ResetMonthly)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("sequence: latest config: %w", err)
	}
	return cfg, true, nil
}

func (tx *txRepo) LockCounter(ctx context.Context, tenantID string, kind Kind, period string) (Counter, error) {
	return scanCounter(tx.db.QueryRow(ctx, selectCounter+` FOR UPDATE`, tenantID, string(kind), period))
}

func (tx *txRepo) InsertCounter(ctx context.Context, c Counter) (bool, error) {
	tag, err := tx.db.Exec(ctx, `INSERT INTO sequence_counters (`+counterColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
ON CONFLICT (tenant_id, kind, period) DO NOTHING`,
		c.TenantID, string(c.Kind), c.Period, c.Config.Prefix, c.Config.NumberLength, c.Config.IncludeYear,
		c.Config.IncludeMonth, c.Config.CompactDate, c.Config.Separator, c.Config.Suffix, c.Config.ResetMonthly,
		c.CurrentCounter)
	if err != nil {
		return false, fmt.Errorf("sequence: insert counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetCounter writes next only if the stored value still equals the value the
// caller read.
func (tx *txRepo) SetCounter(ctx context.Context, c Counter, next int64) error {
	tag, err := tx.db.Exec(ctx, `UPDATE sequence_counters SET current_counter = $4, updated_at = NOW()
WHERE tenant_id = $1 AND kind = $2 AND period = $3 AND current_counter = $5`,
		c.TenantID, string(c.Kind), c.Period, next, c.CurrentCounter)
	if err != nil {
		return fmt.Errorf("sequence: set counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSequenceContended
	}
	return nil
}

func (tx *txRepo) SaveConfig(ctx context.Context, tenantID string, kind Kind, cfg Config) (int64, error) {
	tag, err := tx.db.Exec(ctx, `UPDATE sequence_counters SET prefix = $3, number_length = $4, include_year = $5,
	include_month = $6, compact_date = $7, separator = $8, suffix = $9, reset_monthly = $10, updated_at = NOW()
WHERE tenant_id = $1 AND kind = $2`, tenantID, string(kind), cfg.Prefix, cfg.NumberLength, cfg.IncludeYear,
		cfg.IncludeMonth, cfg.CompactDate, cfg.Separator, cfg.Suffix, cfg.ResetMonthly)
	if err != nil {
		return 0, fmt.Errorf("sequence: save config: %w", err)
	}
	return tag.RowsAffected(), nil
}
