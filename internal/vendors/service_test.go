package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type memoryStore struct {
	vendors  map[string]Vendor
	lastList ListFilters
}

func (m *memoryStore) List(ctx context.Context, tenantID string, filters ListFilters) ([]Vendor, int, error) {
	m.lastList = filters
	var out []Vendor
	for _, v := range m.vendors {
		if v.TenantID != tenantID {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(v.Name), strings.ToLower(filters.Search)) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *memoryStore) Get(ctx context.Context, tenantID, id string) (Vendor, error) {
	v, ok := m.vendors[id]
	if !ok || v.TenantID != tenantID {
		return Vendor{}, ErrNotFound
	}
	return v, nil
}

func newStore() *memoryStore {
	return &memoryStore{vendors: map[string]Vendor{
		"v-1": {ID: "v-1", TenantID: "acme", Code: "SUP-001", Name: "Acme Supplies", Active: true},
		"v-2": {ID: "v-2", TenantID: "acme", Code: "SUP-002", Name: "Borneo Timber", Active: true},
		"v-9": {ID: "v-9", TenantID: "other", Code: "SUP-009", Name: "Other Tenant Co", Active: true},
	}}
}

func TestGetVendorByIDReturnsNilWhenMissing(t *testing.T) {
	svc := NewService(newStore())

	v, err := svc.GetVendorByID(context.Background(), "acme", "v-1")
	require.NoError(t, err)
	require.Equal(t, "Acme Supplies", v.Name)

	v, err = svc.GetVendorByID(context.Background(), "acme", "v-9")
	require.NoError(t, err)
	require.Nil(t, v)
}

type failingStore struct{ memoryStore }

func (failingStore) Get(ctx context.Context, tenantID, id string) (Vendor, error) {
	return Vendor{}, errors.Join(shared.ErrDependency, errors.New("connection reset"))
}

func TestGetVendorByIDPropagatesStoreErrors(t *testing.T) {
	svc := NewService(&failingStore{})
	_, err := svc.GetVendorByID(context.Background(), "acme", "v-1")
	require.ErrorIs(t, err, shared.ErrDependency)
}

func TestGetRequiresID(t *testing.T) {
	_, err := NewService(newStore()).Get(context.Background(), "acme", " ")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListClampsPaging(t *testing.T) {
	store := newStore()
	svc := NewService(store)

	items, total, err := svc.List(context.Background(), "acme", ListFilters{Limit: 500})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)
	require.Equal(t, 100, store.lastList.Limit)
	require.Equal(t, 1, store.lastList.Page)

	_, _, err = svc.List(context.Background(), "acme", ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 20, store.lastList.Limit)
}

func serve(t *testing.T, h *Handler, target string, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.MountRoutes(r)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerListAndShow(t *testing.T) {
	h := NewHandler(nil, NewService(newStore()))
	actor := &shared.Actor{TenantID: "acme", UserID: "officer", Role: shared.RoleProcurement}

	rec := serve(t, h, "/?search=borneo", actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []Vendor `json:"items"`
		Total int      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	require.Equal(t, "v-2", list.Items[0].ID)

	rec = serve(t, h, "/v-1", actor)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, "/v-9", actor)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, "/?active=maybe", actor)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, h, "/", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
