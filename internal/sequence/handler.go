package sequence

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Handler exposes sequence endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{kind}/preview", h.preview)
	r.Put("/{kind}", h.updateConfig)
}

type configRequest struct {
	Prefix       string `json:"prefix" validate:"max=16"`
	NumberLength int    `json:"numberLength" validate:"gte=1,lte=12"`
	IncludeYear  bool   `json:"includeYear"`
	IncludeMonth bool   `json:"includeMonth"`
	CompactDate  bool   `json:"compactDate"`
	Separator    string `json:"separator" validate:"max=3"`
	Suffix       string `json:"suffix" validate:"max=16"`
	ResetMonthly bool   `json:"resetMonthly"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	number, err := h.service.Preview(r.Context(), actor.TenantID, kind)
	if err != nil {
		h.logger.Error("preview sequence", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"kind": string(kind), "next": number})
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != shared.RoleAdmin {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req configRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cfg, err := h.service.UpdateConfig(r.Context(), actor.TenantID, kind, Config(req))
	if err != nil {
		h.logger.Error("update sequence config", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}
