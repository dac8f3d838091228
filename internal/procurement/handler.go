package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Handler manages procurement endpoints.
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

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/groups", h.group)
	r.Post("/conversions", h.convert)
	r.Get("/pos", h.handleListPOs)
	r.Get("/pos/{id}", h.getPO)
	r.Delete("/pos/{id}", h.deletePO)
}

// POListResponse is the JSON body of a PO listing.
type POListResponse struct {
	Items      []PurchaseOrder   `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) decodeSelection(w http.ResponseWriter, r *http.Request) (GroupInput, bool) {
	var input GroupInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return GroupInput{}, false
	}
	if err := httpx.Validate(input); err != nil {
		httpx.RespondError(w, err)
		return GroupInput{}, false
	}
	return input, true
}

func (h *Handler) group(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeSelection(w, r)
	if !ok {
		return
	}
	grouping, err := h.service.GroupApproved(r.Context(), actor, input.RequisitionIDs)
	if err != nil {
		h.logger.Error("group requisitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grouping)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeSelection(w, r)
	if !ok {
		return
	}
	result, err := h.service.Convert(r.Context(), actor, input)
	if err != nil {
		h.logger.Error("convert requisitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if len(result.CreatedPOs) > 0 {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage > 100 {
		perPage = 100
	}
	filters := ListFilters{
		Status:   q.Get("status"),
		VendorID: q.Get("vendor_id"),
		Search:   q.Get("search"),
		SortBy:   q.Get("sort"),
		SortDir:  q.Get("dir"),
		Page:     page,
		PerPage:  perPage,
	}
	items, pagination, err := h.service.ListPOs(r.Context(), actor.TenantID, filters)
	if err != nil {
		h.logger.Error("list POs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, POListResponse{Items: items, Pagination: pagination})
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePOID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.GetPO(r.Context(), actor.TenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deletePO(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePOID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePO(r.Context(), actor, id); err != nil {
		h.logger.Warn("delete PO", slog.String("po_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePOID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.NewValidationError("id", "uuid", "id must be a UUID")
	}
	return id, nil
}
