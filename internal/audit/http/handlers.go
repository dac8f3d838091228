package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	ExportCSV(ctx context.Context, filters audit.TimelineFilters) ([]byte, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

var auditViewers = map[shared.Role]bool{
	shared.RoleAdmin:          true,
	shared.RoleDirector:       true,
	shared.RoleFinanceManager: true,
	shared.RoleProcurement:    true,
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r)
	if !ok {
		return
	}
	filters, err := parseFilters(r, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r)
	if !ok {
		return
	}
	filters, err := parseFilters(r, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	csvBytes, err := h.service.ExportCSV(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-"+filters.EntityType+"-"+filters.EntityID+".csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return shared.Actor{}, false
	}
	if !auditViewers[actor.Role] {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "role may not read the audit log")
		return shared.Actor{}, false
	}
	return actor, true
}

func parseFilters(r *http.Request, actor shared.Actor) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		TenantID:   actor.TenantID,
		EntityType: strings.TrimSpace(chi.URLParam(r, "entityType")),
		EntityID:   strings.TrimSpace(chi.URLParam(r, "entityID")),
		Action:     strings.TrimSpace(q.Get("action")),
		Actor:      strings.TrimSpace(q.Get("actor")),
		Page:       1,
		PageSize:   defaultPageSize,
	}
	var errs shared.ValidationErrors
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			errs = append(errs, shared.NewValidationError("from", "invalid_date", "expected YYYY-MM-DD"))
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			errs = append(errs, shared.NewValidationError("to", "invalid_date", "expected YYYY-MM-DD"))
		}
		filters.To = to.AddDate(0, 0, 1)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && !filters.From.Before(filters.To) {
		errs = append(errs, shared.NewValidationError("range", "invalid_range", "from must not be after to"))
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			errs = append(errs, shared.NewValidationError("page", "invalid", "page must be a positive integer"))
		}
		filters.Page = parsed
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			errs = append(errs, shared.NewValidationError("page_size", "invalid", "page_size must be a positive integer"))
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		filters.PageSize = parsed
	}
	if err := errs.Err(); err != nil {
		return audit.TimelineFilters{}, err
	}
	return filters, nil
}
