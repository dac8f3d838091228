package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/internal/approval"
	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
)

// EscalationScanner sweeps every tenant for overdue requisitions.
type EscalationScanner interface {
	ScanEscalations(ctx context.Context) (approval.ScanResult, error)
}

// EscalationScanJob runs the periodic escalation sweep. Flags are advisory:
// the scan audits and counts overdue requisitions but never moves them.
type EscalationScanJob struct {
	Scanner EscalationScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewEscalationScanJob initialises the escalation scan handler.
func NewEscalationScanJob(scanner EscalationScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *EscalationScanJob {
	return &EscalationScanJob{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the escalation scan.
func (j *EscalationScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Scanner == nil {
		return errors.New("escalation scan: handler not configured")
	}
	var payload EscalationScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskEscalationScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	logger.Info("starting escalation scan")

	result, err := j.Scanner.ScanEscalations(ctx)
	if err != nil {
		logger.Error("escalation scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddFlagged(TaskEscalationScan, result.Flagged)

	logger.Info("completed escalation scan",
		slog.Int("tenants", result.Tenants),
		slog.Int("flagged", result.Flagged),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return nil
}

func (j *EscalationScanJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
