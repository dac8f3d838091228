package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCounter(ctx context.Context, tenantID string, kind Kind, period string) (Counter, error)
	LatestConfig(ctx context.Context, tenantID string, kind Kind) (Config, bool, error)
}

// AttemptObserver receives one event per transaction attempt.
type AttemptObserver interface {
	ObserveSequenceAttempt(kind string, outcome string)
}

// ServiceConfig tunes the generator.
type ServiceConfig struct {
	Retry   db.RetryPolicy
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics AttemptObserver
}

// Service issues formatted document numbers.
type Service struct {
	repo    RepositoryPort
	retry   db.RetryPolicy
	now     func() time.Time
	logger  *slog.Logger
	metrics AttemptObserver
}

// NewService constructs the sequence generator.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = db.DefaultRetryPolicy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{repo: repo, retry: cfg.Retry, now: cfg.Now, logger: cfg.Logger, metrics: cfg.Metrics}
}

// Next issues the next number for tenant and kind. The returned string is
// rendered from the pre-increment value read inside the transaction.
func (s *Service) Next(ctx context.Context, tenantID string, kind Kind) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", shared.NewValidationError("tenantId", "required", "tenant is required")
	}
	var number string
	err := db.Retry(ctx, s.retry, func(attempt int) error {
		at := s.now()
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			cfg, ok, err := tx.LatestConfig(ctx, tenantID, kind)
			if err != nil {
				return err
			}
			if !ok {
				cfg = DefaultConfig(kind)
			}
			period := PeriodKey(cfg, at)
			counter, err := tx.LockCounter(ctx, tenantID, kind, period)
			if errors.Is(err, ErrNotFound) {
				counter = Counter{TenantID: tenantID, Kind: kind, Period: period, Config: cfg, CurrentCounter: 1}
				inserted, insErr := tx.InsertCounter(ctx, counter)
				if insErr != nil {
					return insErr
				}
				if !inserted {
					counter, err = tx.LockCounter(ctx, tenantID, kind, period)
				} else {
					err = nil
				}
			}
			if err != nil {
				return err
			}
			if err := tx.SetCounter(ctx, counter, counter.CurrentCounter+1); err != nil {
				return err
			}
			number = Format(counter.Config, counter.CurrentCounter, at)
			return nil
		})
		s.observe(kind, err)
		if err != nil && shared.IsRetryable(err) {
			s.logger.Warn("sequence conflict", slog.String("tenant_id", tenantID),
				slog.String("kind", string(kind)), slog.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		if shared.IsRetryable(err) {
			return "", fmt.Errorf("%w: tenant %s kind %s", ErrSequenceContended, tenantID, kind)
		}
		return "", err
	}
	return number, nil
}

// Preview renders the number the next call to Next would issue, without
// reserving it.
func (s *Service) Preview(ctx context.Context, tenantID string, kind Kind) (string, error) {
	at := s.now()
	cfg, ok, err := s.repo.LatestConfig(ctx, tenantID, kind)
	if err != nil {
		return "", err
	}
	if !ok {
		cfg = DefaultConfig(kind)
	}
	counter, err := s.repo.GetCounter(ctx, tenantID, kind, PeriodKey(cfg, at))
	if errors.Is(err, ErrNotFound) {
		return Format(cfg, 1, at), nil
	}
	if err != nil {
		return "", err
	}
	return Format(counter.Config, counter.CurrentCounter, at), nil
}

// UpdateConfig changes the rendering of future numbers. The counter value is
// left untouched; a tenant without any counter gets one seeded at 1.
func (s *Service) UpdateConfig(ctx context.Context, tenantID string, kind Kind, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	err := db.Retry(ctx, s.retry, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			updated, err := tx.SaveConfig(ctx, tenantID, kind, cfg)
			if err != nil {
				return err
			}
			if updated > 0 {
				return nil
			}
			_, err = tx.InsertCounter(ctx, Counter{
				TenantID:       tenantID,
				Kind:           kind,
				Period:         PeriodKey(cfg, s.now()),
				Config:         cfg,
				CurrentCounter: 1,
			})
			return err
		})
	})
	if err != nil {
		return Config{}, err
	}
	s.logger.Info("sequence config updated", slog.String("tenant_id", tenantID), slog.String("kind", string(kind)))
	return cfg, nil
}

func (s *Service) observe(kind Kind, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case shared.IsRetryable(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	s.metrics.ObserveSequenceAttempt(string(kind), outcome)
}
