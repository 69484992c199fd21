package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopsmind/backend/internal/classifier"
	"github.com/finopsmind/backend/internal/executor"
	"github.com/finopsmind/backend/internal/model"
	"github.com/finopsmind/backend/internal/repository"
)

type fakeEndpoints struct {
	spec *model.EndpointSpec
	err  error
}

func (f *fakeEndpoints) Create(ctx context.Context, ep *model.EndpointSpec) error { return nil }
func (f *fakeEndpoints) Get(ctx context.Context, id, tenantID uuid.UUID) (*model.EndpointSpec, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.spec, nil
}
func (f *fakeEndpoints) List(ctx context.Context, tenantID uuid.UUID) ([]*model.EndpointSpec, error) {
	return nil, nil
}
func (f *fakeEndpoints) ListAll(ctx context.Context) ([]*model.EndpointSpec, error) { return nil, nil }
func (f *fakeEndpoints) Update(ctx context.Context, ep *model.EndpointSpec) error   { return nil }
func (f *fakeEndpoints) Delete(ctx context.Context, id, tenantID uuid.UUID) error   { return nil }

type fakeRunTx struct {
	runs      []*model.Run
	anomalies []*model.Anomaly
	scores    []*model.RiskScore
}

func (f *fakeRunTx) InsertRun(ctx context.Context, run *model.Run) error {
	f.runs = append(f.runs, run)
	return nil
}
func (f *fakeRunTx) InsertAnomaly(ctx context.Context, a *model.Anomaly) error {
	f.anomalies = append(f.anomalies, a)
	return nil
}
func (f *fakeRunTx) InsertRiskScore(ctx context.Context, s *model.RiskScore) error {
	f.scores = append(f.scores, s)
	return nil
}

type fakeRuns struct {
	history     []float64
	failureRate float64
	tx          *fakeRunTx
	txErr       error
}

func (f *fakeRuns) WithTx(ctx context.Context, fn func(tx repository.RunTx) error) error {
	f.tx = &fakeRunTx{}
	if err := fn(f.tx); err != nil {
		return err
	}
	return f.txErr
}
func (f *fakeRuns) RecentResponseTimes(ctx context.Context, endpointID, excludeRunID uuid.UUID, limit int) ([]float64, error) {
	return f.history, nil
}
func (f *fakeRuns) FailureRate(ctx context.Context, endpointID uuid.UUID) (float64, error) {
	return f.failureRate, nil
}
func (f *fakeRuns) ListRuns(ctx context.Context, endpointID uuid.UUID, limit int) ([]*model.Run, error) {
	return nil, nil
}

func newTestExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	e := executor.New(executor.DefaultConfig())
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestRun_EndpointNotFoundIsTerminal(t *testing.T) {
	endpoints := &fakeEndpoints{err: repository.ErrNotFound}
	runs := &fakeRuns{}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	_, err := orch.Run(context.Background(), uuid.New(), uuid.New())

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRun_HealthyEndpointCommitsRunAndLowRisk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Name:           "checkout",
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	}
	endpoints := &fakeEndpoints{spec: spec}
	runs := &fakeRuns{}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	result, err := orch.Run(context.Background(), spec.ID, spec.TenantID)

	require.NoError(t, err)
	assert.True(t, result.Run.IsSuccess)
	assert.Equal(t, model.RiskLow, result.Risk.RiskLevel)
	require.Len(t, runs.tx.runs, 1)
	assert.Empty(t, runs.tx.anomalies)
	require.Len(t, runs.tx.scores, 1)
}

func TestRun_FailingEndpointPersistsAnomaly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	spec := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Name:           "checkout",
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	}
	endpoints := &fakeEndpoints{spec: spec}
	runs := &fakeRuns{}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	result, err := orch.Run(context.Background(), spec.ID, spec.TenantID)

	require.NoError(t, err)
	assert.False(t, result.Run.IsSuccess)
	require.NotNil(t, result.Anomaly)
	assert.True(t, result.Anomaly.AnomalyDetected)
	require.Len(t, runs.tx.anomalies, 1)
	assert.Equal(t, result.Run.ID, runs.tx.anomalies[0].RunID)
}

func TestRun_TxFailureAbortsWithoutResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	}
	endpoints := &fakeEndpoints{spec: spec}
	runs := &fakeRuns{txErr: assertError{}}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	result, err := orch.Run(context.Background(), spec.ID, spec.TenantID)

	assert.Error(t, err)
	assert.Equal(t, model.PipelineResult{}, result)
}

type assertError struct{}

func (assertError) Error() string { return "commit failed" }

func TestRun_SchemaDriftDetectedWhenBodyDiffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	spec := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
		ExpectedSchema: map[string]any{"id": float64(0), "name": "x"},
	}
	endpoints := &fakeEndpoints{spec: spec}
	runs := &fakeRuns{}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	result, err := orch.Run(context.Background(), spec.ID, spec.TenantID)

	require.NoError(t, err)
	require.NotNil(t, result.SchemaDrift)
	assert.True(t, result.SchemaDrift.HasDrift())
}

func TestRun_RespectsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	}
	endpoints := &fakeEndpoints{spec: spec}
	runs := &fakeRuns{}
	orch := New(endpoints, runs, newTestExecutor(t), classifier.New(nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := orch.Run(ctx, spec.ID, spec.TenantID)

	require.NoError(t, err)
	assert.False(t, result.Run.IsSuccess)
}
