package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopsmind/backend/internal/model"
	"github.com/finopsmind/backend/internal/repository"
)

type fakeEndpointRepo struct {
	created *model.EndpointSpec
	byID    map[uuid.UUID]*model.EndpointSpec
	listOut []*model.EndpointSpec
	getErr  error
}

func newFakeEndpointRepo() *fakeEndpointRepo {
	return &fakeEndpointRepo{byID: make(map[uuid.UUID]*model.EndpointSpec)}
}

func (f *fakeEndpointRepo) Create(ctx context.Context, ep *model.EndpointSpec) error {
	f.created = ep
	f.byID[ep.ID] = ep
	return nil
}
func (f *fakeEndpointRepo) Get(ctx context.Context, id, tenantID uuid.UUID) (*model.EndpointSpec, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ep, ok := f.byID[id]
	if !ok || ep.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return ep, nil
}
func (f *fakeEndpointRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*model.EndpointSpec, error) {
	return f.listOut, nil
}
func (f *fakeEndpointRepo) ListAll(ctx context.Context) ([]*model.EndpointSpec, error) {
	return f.listOut, nil
}
func (f *fakeEndpointRepo) Update(ctx context.Context, ep *model.EndpointSpec) error {
	if _, ok := f.byID[ep.ID]; !ok {
		return repository.ErrNotFound
	}
	f.byID[ep.ID] = ep
	return nil
}
func (f *fakeEndpointRepo) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreate_MissingTenantHeaderIsBadRequest(t *testing.T) {
	h := NewEndpointHandler(newFakeEndpointRepo())
	req := httptest.NewRequest(http.MethodPost, "/endpoints", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_ValidRequestReturns201(t *testing.T) {
	repo := newFakeEndpointRepo()
	h := NewEndpointHandler(repo)

	body, _ := json.Marshal(map[string]any{
		"name":            "checkout",
		"url":             "https://example.com/health",
		"method":          "GET",
		"expected_status": 200,
	})
	req := httptest.NewRequest(http.MethodPost, "/endpoints", bytes.NewReader(body))
	req.Header.Set(TenantHeader, uuid.New().String())
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, "checkout", repo.created.Name)
}

func TestGet_UnknownIDMapsToNotFound(t *testing.T) {
	repo := newFakeEndpointRepo()
	h := NewEndpointHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/endpoints/x", nil)
	req.Header.Set(TenantHeader, uuid.New().String())
	req = withChiParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_CrossTenantReadIsNotFound(t *testing.T) {
	repo := newFakeEndpointRepo()
	ownerTenant := uuid.New()
	ep := &model.EndpointSpec{ID: uuid.New(), TenantID: ownerTenant, Name: "checkout"}
	repo.byID[ep.ID] = ep
	h := NewEndpointHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/endpoints/x", nil)
	req.Header.Set(TenantHeader, uuid.New().String())
	req = withChiParam(req, "id", ep.ID.String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_SameTenantSucceeds(t *testing.T) {
	repo := newFakeEndpointRepo()
	tenantID := uuid.New()
	ep := &model.EndpointSpec{ID: uuid.New(), TenantID: tenantID, Name: "checkout"}
	repo.byID[ep.ID] = ep
	h := NewEndpointHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/endpoints/x", nil)
	req.Header.Set(TenantHeader, tenantID.String())
	req = withChiParam(req, "id", ep.ID.String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDelete_UnknownIDMapsToNotFound(t *testing.T) {
	repo := newFakeEndpointRepo()
	h := NewEndpointHandler(repo)

	req := httptest.NewRequest(http.MethodDelete, "/endpoints/x", nil)
	req.Header.Set(TenantHeader, uuid.New().String())
	req = withChiParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
