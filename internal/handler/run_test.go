package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopsmind/backend/internal/classifier"
	"github.com/finopsmind/backend/internal/executor"
	"github.com/finopsmind/backend/internal/model"
	"github.com/finopsmind/backend/internal/pipeline"
	"github.com/finopsmind/backend/internal/repository"
)

type fakeRunTx struct{}

func (fakeRunTx) InsertRun(ctx context.Context, run *model.Run) error               { return nil }
func (fakeRunTx) InsertAnomaly(ctx context.Context, anomaly *model.Anomaly) error   { return nil }
func (fakeRunTx) InsertRiskScore(ctx context.Context, score *model.RiskScore) error { return nil }

type fakeRunRepo struct {
	listOut   []*model.Run
	lastLimit int
}

func (f *fakeRunRepo) WithTx(ctx context.Context, fn func(tx repository.RunTx) error) error {
	return fn(fakeRunTx{})
}
func (f *fakeRunRepo) RecentResponseTimes(ctx context.Context, endpointID, excludeRunID uuid.UUID, limit int) ([]float64, error) {
	return nil, nil
}
func (f *fakeRunRepo) FailureRate(ctx context.Context, endpointID uuid.UUID) (float64, error) {
	return 0, nil
}
func (f *fakeRunRepo) ListRuns(ctx context.Context, endpointID uuid.UUID, limit int) ([]*model.Run, error) {
	f.lastLimit = limit
	return f.listOut, nil
}

func newTestOrchestrator(t *testing.T, endpoints repository.EndpointRepository, runs repository.RunRepository) *pipeline.Orchestrator {
	t.Helper()
	exec := executor.New(executor.DefaultConfig())
	exec.Start()
	t.Cleanup(exec.Stop)
	return pipeline.New(endpoints, runs, exec, classifier.New(nil), nil)
}

func TestTriggerNow_UnknownEndpointMapsToNotFound(t *testing.T) {
	endpoints := newFakeEndpointRepo()
	h := NewRunHandler(newTestOrchestrator(t, endpoints, &fakeRunRepo{}), &fakeRunRepo{})

	req := httptest.NewRequest(http.MethodPost, "/endpoints/x/run", nil)
	req.Header.Set(TenantHeader, uuid.New().String())
	req = withChiParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.TriggerNow(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerNow_InvalidIDIsBadRequest(t *testing.T) {
	endpoints := newFakeEndpointRepo()
	h := NewRunHandler(newTestOrchestrator(t, endpoints, &fakeRunRepo{}), &fakeRunRepo{})

	req := httptest.NewRequest(http.MethodPost, "/endpoints/x/run", nil)
	req.Header.Set(TenantHeader, uuid.New().String())
	req = withChiParam(req, "id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.TriggerNow(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerNow_MissingTenantHeaderIsBadRequest(t *testing.T) {
	endpoints := newFakeEndpointRepo()
	h := NewRunHandler(newTestOrchestrator(t, endpoints, &fakeRunRepo{}), &fakeRunRepo{})

	req := httptest.NewRequest(http.MethodPost, "/endpoints/x/run", nil)
	req = withChiParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.TriggerNow(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_DefaultsLimitTo20AndCapsAt100(t *testing.T) {
	repo := &fakeRunRepo{listOut: []*model.Run{{}}}
	h := NewRunHandler(newTestOrchestrator(t, newFakeEndpointRepo(), repo), repo)

	req := httptest.NewRequest(http.MethodGet, "/endpoints/x/runs?"+url.Values{"limit": {"500"}}.Encode(), nil)
	req = withChiParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, repo.lastLimit)

	req = httptest.NewRequest(http.MethodGet, "/endpoints/x/runs", nil)
	req = withChiParam(req, "id", uuid.New().String())
	rec = httptest.NewRecorder()

	h.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, repo.lastLimit)
}
