package procurement

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/procurement", NewHandler(nil, svc).MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, actor *shared.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(context.Background(), *actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestConversionEndpoints(t *testing.T) {
	f := newFixture(t)
	req := twoVendorRequisition()
	f.store.Put(req)
	router := newTestRouter(f.svc)
	selection := map[string]any{"requisitionIds": []uuid.UUID{req.ID}}

	rr := doJSON(t, router, &officer, http.MethodPost, "/procurement/groups", selection)
	require.Equal(t, http.StatusOK, rr.Code)
	var grouping Grouping
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &grouping))
	require.Len(t, grouping.Groups, 2)

	rr = doJSON(t, router, &requester, http.MethodPost, "/procurement/conversions", selection)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, router, &officer, http.MethodPost, "/procurement/conversions", selection)
	require.Equal(t, http.StatusCreated, rr.Code)
	var converted ConvertResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &converted))
	require.Len(t, converted.CreatedPOs, 2)
	require.Equal(t, []uuid.UUID{req.ID}, converted.FullyConvertedRequisitionIDs)

	rr = doJSON(t, router, &officer, http.MethodPost, "/procurement/conversions", selection)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, &officer, http.MethodGet, "/procurement/pos?status=PENDING", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list POListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)

	poID := converted.CreatedPOs[0].ID.String()
	rr = doJSON(t, router, &officer, http.MethodGet, "/procurement/pos/"+poID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var po PurchaseOrder
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &po))
	require.Equal(t, "PO-2024-0001", po.Number)
	require.True(t, po.TotalAmount.Equal(dec("3330")))

	rr = doJSON(t, router, &officer, http.MethodDelete, "/procurement/pos/"+poID, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestConversionEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f.svc)

	rr := doJSON(t, router, &officer, http.MethodPost, "/procurement/conversions", map[string]any{"requisitionIds": []uuid.UUID{}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(t, router, &officer, http.MethodPost, "/procurement/conversions", map[string]any{"unknown": true})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(t, router, nil, http.MethodGet, "/procurement/pos", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doJSON(t, router, &officer, http.MethodGet, "/procurement/pos/not-a-uuid", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(t, router, &officer, http.MethodGet, "/procurement/pos/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
