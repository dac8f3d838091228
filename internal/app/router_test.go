package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/approval"
	"github.com/odyssey-erp/odyssey-procure/internal/identity"
	"github.com/odyssey-erp/odyssey-procure/internal/observability"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition/requisitiontest"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/jobs"
)

type stubNumbers struct {
	mu   sync.Mutex
	next int
}

func (s *stubNumbers) Next(ctx context.Context, tenantID string, kind sequence.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("REQ-202406-%04d", s.next), nil
}

type memoryPolicies struct {
	mu       sync.Mutex
	policies map[string]approval.Policy
}

func (m *memoryPolicies) Get(ctx context.Context, tenantID string) (approval.Policy, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID]
	return p, ok, nil
}

func (m *memoryPolicies) Put(ctx context.Context, tenantID string, p approval.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policies == nil {
		m.policies = map[string]approval.Policy{}
	}
	m.policies[tenantID] = p
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *observability.Metrics) {
	t.Helper()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	store := requisitiontest.NewStore()
	policies := approval.NewPolicyStore(&memoryPolicies{}, nil, nil)
	approvals := approval.NewService(store, policies, nil, metrics, nil, approval.Config{Thresholds: cfg.EscalationThresholds()})
	router := NewRouter(RouterParams{
		Config:             cfg,
		RequisitionHandler: requisition.NewHandler(nil, requisition.NewService(store, &stubNumbers{}, nil, nil)),
		ApprovalHandler:    approval.NewHandler(nil, approvals),
		JobHandler:         jobs.NewHandler(nil, nil),
		Metrics:            metrics,
	})
	return router, metrics
}

func call(t *testing.T, router http.Handler, user, role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(identity.HeaderTenantID, "t1")
		req.Header.Set(identity.HeaderUserID, user)
		req.Header.Set(identity.HeaderRole, role)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterApprovalFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := call(t, router, "alice", "requester", http.MethodPost, "/requisitions", map[string]any{
		"title": "Scaffolding clamps",
		"lines": []map[string]any{{"materialName": "Clamp", "quantity": "5", "unitPrice": "100", "vendorId": "vendor-a"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created requisition.Requisition
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "REQ-202406-0001", created.Number)

	transitions := "/requisitions/" + created.ID.String() + "/transitions"
	steps := []struct {
		user, role, target string
		want               requisition.Status
	}{
		{"alice", "requester", "SUBMITTED", requisition.StatusSubmitted},
		{"dave", "department_head", "UNDER_REVIEW", requisition.StatusUnderReview},
		{"dave", "department_head", "APPROVED", requisition.StatusApproved},
	}
	for _, s := range steps {
		rr = call(t, router, s.user, s.role, http.MethodPost, transitions, map[string]string{"target": s.target})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var res approval.Result
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
		require.Equal(t, s.want, res.Status)
	}

	rr = call(t, router, "alice", "requester", http.MethodGet, "/requisitions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stored requisition.Requisition
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stored))
	require.Equal(t, requisition.StatusApproved, stored.Status)
	require.Len(t, stored.ApprovalHistory, 3)
}

func TestRouterRejectsMissingIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := call(t, router, "", "", http.MethodGet, "/requisitions", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, router, "mallory", "system", http.MethodGet, "/requisitions", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterPlatformEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := call(t, router, "", "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = call(t, router, "", "", http.MethodGet, "/jobs/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = call(t, router, "", "", http.MethodGet, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "no route for /nowhere")

	rr = call(t, router, "", "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`), rr.Body.String())
}
