package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-procure/internal/approval"
	audithttp "github.com/odyssey-erp/odyssey-procure/internal/audit/http"
	"github.com/odyssey-erp/odyssey-procure/internal/observability"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/procurement"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/vendors"
	"github.com/odyssey-erp/odyssey-procure/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RequisitionHandler *requisition.Handler
	ApprovalHandler    *approval.Handler
	ProcurementHandler *procurement.Handler
	VendorHandler      *vendors.Handler
	SequenceHandler    *sequence.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/requisitions", func(r chi.Router) {
		if params.RequisitionHandler != nil {
			params.RequisitionHandler.MountRoutes(r)
		}
		if params.ApprovalHandler != nil {
			params.ApprovalHandler.MountRoutes(r)
		}
	})
	if params.ApprovalHandler != nil {
		r.Route("/approval-policy", params.ApprovalHandler.MountPolicyRoutes)
	}
	if params.ProcurementHandler != nil {
		r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	}
	if params.VendorHandler != nil {
		r.Route("/vendors", params.VendorHandler.MountRoutes)
	}
	if params.SequenceHandler != nil {
		r.Route("/sequences", params.SequenceHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}
