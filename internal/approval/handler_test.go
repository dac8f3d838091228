package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/requisitions", h.MountRoutes)
	r.Route("/approval-policy", h.MountPolicyRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, actor shared.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(shared.ContextWithActor(context.Background(), actor))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestTransitionEndpoint(t *testing.T) {
	f := newFixture(t)
	req := draftWorth("5000")
	f.store.Put(req)
	router := newTestRouter(f.svc)

	rr := doJSON(t, router, alice, http.MethodPost, "/requisitions/"+req.ID.String()+"/transitions",
		map[string]string{"target": "SUBMITTED"})
	require.Equal(t, http.StatusOK, rr.Code)
	var ok Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	require.Equal(t, requisition.StatusSubmitted, ok.Status)
	require.Empty(t, ok.Errors)

	rr = doJSON(t, router, alice, http.MethodPost, "/requisitions/"+req.ID.String()+"/transitions",
		map[string]string{"target": "APPROVED"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var failed Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &failed))
	require.Equal(t, requisition.StatusSubmitted, failed.Status)
	require.Equal(t, "illegal_transition", failed.Errors[0].Code)
}

func TestTransitionEndpointRejectsUnknownTarget(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f.svc)
	rr := doJSON(t, router, alice, http.MethodPost, "/requisitions/"+draftWorth("1").ID.String()+"/transitions",
		map[string]string{"target": "SHIPPED"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPolicyEndpoints(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f.svc)

	rr := doJSON(t, router, dave, http.MethodGet, "/approval-policy/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var p Policy
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	require.Len(t, p.Levels, 3)

	rr = doJSON(t, router, dave, http.MethodPut, "/approval-policy/", p)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, router, root, http.MethodPut, "/approval-policy/", p)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestEscalationsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.store.Put(underReviewSince(requisition.PriorityUrgent, "t1", fixedNow.Add(-8*time.Hour)))
	router := newTestRouter(f.svc)

	rr := doJSON(t, router, dave, http.MethodGet, "/requisitions/escalations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Items []Escalation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
}
