package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	csv         []byte
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) ExportCSV(ctx context.Context, filters audit.TimelineFilters) ([]byte, error) {
	s.lastFilters = filters
	return s.csv, nil
}

func newRouter(service *stubTimelineService) http.Handler {
	r := chi.NewRouter()
	r.Route("/audit", NewHandler(nil, service).MountRoutes)
	return r
}

func withActor(req *http.Request, role shared.Role) *http.Request {
	actor := shared.Actor{TenantID: "t1", UserID: "u1", Role: role}
	return req.WithContext(shared.ContextWithActor(req.Context(), actor))
}

func TestTimelineRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit/requisition/abc", nil)
	rr := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestTimelineForbidsRequester(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/requisition/abc", nil), shared.RoleRequester)
	rr := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.Entry{{EntityType: "requisition", EntityID: "abc", Action: audit.ActionCreate, ActorID: "u1", At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 2, PageSize: 5}}}
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/requisition/abc?page=2&page_size=5&from=2024-03-01&to=2024-03-31", nil), shared.RoleFinanceManager)
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastFilters.TenantID != "t1" || service.lastFilters.EntityID != "abc" || service.lastFilters.EntityType != "requisition" {
		t.Fatalf("unexpected filters %+v", service.lastFilters)
	}
	if service.lastFilters.Page != 2 || service.lastFilters.PageSize != 5 {
		t.Fatalf("unexpected paging %+v", service.lastFilters)
	}
	if !service.lastFilters.To.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected inclusive to date, got %s", service.lastFilters.To)
	}
	var body audit.Result
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Action != audit.ActionCreate {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestTimelineRejectsBadPage(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/requisition/abc?page=zero", nil), shared.RoleAdmin)
	rr := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "page") {
		t.Fatalf("expected page field in problem body: %s", rr.Body.String())
	}
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{csv: []byte("at,actor\n")}
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/purchase_order/po-1/export.csv", nil), shared.RoleDirector)
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Body.String() != "at,actor\n" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}
