package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Recorder is the fire-and-forget audit sink used by the engine. A failed
// write is logged and never reaches the caller of the primary operation.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewRecorder membuat recorder audit.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now, timeout: 2 * time.Second}
}

// Append records entry. It never returns an error and never panics on a nil
// receiver so callers can leave auditing unwired.
func (r *Recorder) Append(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.At.IsZero() {
		entry.At = r.now().UTC()
	}
	// The primary operation has committed; its cancellation must not drop the entry.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Append(writeCtx, entry); err != nil {
		r.logger.Warn("audit append failed",
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_id", entry.EntityID),
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
}
