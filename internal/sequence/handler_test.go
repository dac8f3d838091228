package sequence

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

func serveSequence(h *Handler, method, target, body string, actor shared.Actor) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.MountRoutes(r)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPreviewAndUpdateConfig(t *testing.T) {
	now := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	h := NewHandler(nil, newTestService(newMemorySeqRepo(), now))
	admin := shared.Actor{TenantID: "acme", UserID: "root", Role: shared.RoleAdmin}
	requester := shared.Actor{TenantID: "acme", UserID: "alice", Role: shared.RoleRequester}

	rec := serveSequence(h, http.MethodGet, "/po/preview", "", requester)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Equal(t, "PURCHASE_ORDER", preview["kind"])
	require.Equal(t, "PO-2024-0001", preview["next"])

	body := `{"prefix":"PUR","numberLength":5,"includeYear":true,"separator":"/"}`
	rec = serveSequence(h, http.MethodPut, "/po", body, requester)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveSequence(h, http.MethodPut, "/po", body, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serveSequence(h, http.MethodGet, "/po/preview", "", requester)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Equal(t, "PUR/2024/00001", preview["next"])
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := NewHandler(nil, newTestService(newMemorySeqRepo(), time.Now()))
	admin := shared.Actor{TenantID: "acme", UserID: "root", Role: shared.RoleAdmin}

	rec := serveSequence(h, http.MethodGet, "/invoice/preview", "", admin)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serveSequence(h, http.MethodPut, "/po", `{"numberLength":0}`, admin)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serveSequence(h, http.MethodPut, "/po", `{"numberLength":4,"color":"red"}`, admin)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
