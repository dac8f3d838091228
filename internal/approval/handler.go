package approval

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Engine is the approval behaviour the HTTP layer depends on.
type Engine interface {
	Transition(ctx context.Context, actor shared.Actor, id uuid.UUID, target requisition.Status, comments string) (Result, error)
	ListEscalations(ctx context.Context, tenantID string) ([]Escalation, error)
	GetPolicy(ctx context.Context, tenantID string) (Policy, error)
	PutPolicy(ctx context.Context, actor shared.Actor, p Policy) (Policy, error)
}

// Handler exposes the approval state machine over HTTP.
type Handler struct {
	logger *slog.Logger
	engine Engine
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers transition routes under the requisitions prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/escalations", h.escalations)
	r.Post("/{id}/transitions", h.transition)
}

// MountPolicyRoutes registers the approval policy routes.
func (h *Handler) MountPolicyRoutes(r chi.Router) {
	r.Get("/", h.getPolicy)
	r.Put("/", h.putPolicy)
}

type transitionRequest struct {
	Target   string `json:"target" validate:"required"`
	Comments string `json:"comments" validate:"max=2000"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := requisition.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body transitionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	target, err := requisition.ParseStatus(body.Target)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.Transition(r.Context(), actor, id, target, body.Comments)
	if err != nil {
		if len(result.Errors) > 0 {
			httpx.JSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) escalations(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	items, err := h.engine.ListEscalations(r.Context(), actor.TenantID)
	if err != nil {
		h.logger.Error("list escalations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Escalation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	policy, err := h.engine.GetPolicy(r.Context(), actor.TenantID)
	if err != nil {
		h.logger.Error("get approval policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var policy Policy
	if err := httpx.DecodeJSON(r, &policy); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stored, err := h.engine.PutPolicy(r.Context(), actor, policy)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stored)
}
