// Package pipeline wires the schema diff, performance, executor, classifier,
// risk scorer, and webhook components into one atomic run of a monitored
// endpoint.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/backend/internal/classifier"
	"github.com/finopsmind/backend/internal/executor"
	"github.com/finopsmind/backend/internal/model"
	"github.com/finopsmind/backend/internal/performance"
	"github.com/finopsmind/backend/internal/repository"
	"github.com/finopsmind/backend/internal/riskscore"
	"github.com/finopsmind/backend/internal/schemadiff"
	"github.com/finopsmind/backend/internal/webhook"
)

const recentRunWindow = 20

// Orchestrator runs the full pipeline for one endpoint.
type Orchestrator struct {
	endpoints  repository.EndpointRepository
	runs       repository.RunRepository
	executor   *executor.Executor
	classifier *classifier.Classifier
	dispatcher *webhook.Dispatcher
}

// New constructs an Orchestrator from its already-started collaborators.
func New(endpoints repository.EndpointRepository, runs repository.RunRepository, exec *executor.Executor, clf *classifier.Classifier, dispatcher *webhook.Dispatcher) *Orchestrator {
	return &Orchestrator{
		endpoints:  endpoints,
		runs:       runs,
		executor:   exec,
		classifier: clf,
		dispatcher: dispatcher,
	}
}

// Run executes the full pipeline for the given endpoint, scoped to tenantID.
// Loading the endpoint and persisting the run's rows are the steps that
// may fail: either returns the error and a zero-value result. Every other
// downstream step degrades rather than aborting.
func (o *Orchestrator) Run(ctx context.Context, endpointID, tenantID uuid.UUID) (model.PipelineResult, error) {
	spec, err := o.endpoints.Get(ctx, endpointID, tenantID)
	if err != nil {
		return model.PipelineResult{}, err
	}

	req := buildRequest(spec)
	run := o.executor.Execute(ctx, req)
	run.ID = uuid.New()
	run.EndpointID = spec.ID
	run.TenantID = spec.TenantID
	run.StartedAt = time.Now().UTC()

	history, err := o.runs.RecentResponseTimes(ctx, spec.ID, run.ID, recentRunWindow)
	if err != nil {
		history = nil
	}
	var perf *model.PerformanceSnapshot
	if run.ResponseTimeMs != nil {
		snapshot := performance.Analyze(*run.ResponseTimeMs, history)
		perf = &snapshot
	}

	var drift *model.SchemaDriftResult
	if spec.ExpectedSchema != nil && run.ResponseBodyJSON != nil {
		d := schemadiff.Compute(spec.ExpectedSchema, run.ResponseBodyJSON)
		drift = &d
	}

	failureRate, err := o.runs.FailureRate(ctx, spec.ID)
	if err != nil {
		failureRate = 0
	}

	anomaly := o.classifier.Classify(ctx, classifier.Signals{
		EndpointName:       spec.Name,
		Method:             spec.Method,
		URL:                spec.URL,
		ExpectedStatus:     spec.ExpectedStatus,
		Run:                run,
		Performance:        perf,
		SchemaDrift:        drift,
		FailureRatePercent: failureRate,
	})

	risk := riskscore.Compute(riskscore.Inputs{
		Run:                run,
		Performance:        perf,
		SchemaDrift:        drift,
		Anomaly:            anomaly,
		FailureRatePercent: failureRate,
	})
	risk.ID = uuid.New()
	risk.RunID = run.ID

	var persistedAnomaly *model.Anomaly
	if anomaly.AnomalyDetected {
		persistedAnomaly = &model.Anomaly{
			ID:             uuid.New(),
			RunID:          run.ID,
			EndpointID:     spec.ID,
			TenantID:       spec.TenantID,
			SeverityScore:  anomaly.SeverityScore,
			Confidence:     anomaly.Confidence,
			Reasoning:      anomaly.Reasoning,
			ProbableCause:  anomaly.ProbableCause,
			Recommendation: anomaly.Recommendation,
			AICalled:       anomaly.AICalled,
			UsedFallback:   anomaly.UsedFallback,
			DetectedAt:     time.Now().UTC(),
		}
	}

	err = o.runs.WithTx(ctx, func(tx repository.RunTx) error {
		if err := tx.InsertRun(ctx, &run); err != nil {
			return err
		}
		if persistedAnomaly != nil {
			if err := tx.InsertAnomaly(ctx, persistedAnomaly); err != nil {
				return err
			}
		}
		return tx.InsertRiskScore(ctx, &risk)
	})
	if err != nil {
		return model.PipelineResult{}, err
	}

	result := model.PipelineResult{
		Run:            run,
		Performance:    perf,
		SchemaDrift:    drift,
		Anomaly:        &anomaly,
		Risk:           risk,
		EndpointName:   spec.Name,
		EndpointURL:    spec.URL,
		EndpointMethod: spec.Method,
	}

	if o.dispatcher != nil {
		o.dispatcher.Dispatch(ctx, webhook.Endpoint{
			ID:     spec.ID.String(),
			Name:   spec.Name,
			URL:    spec.URL,
			Method: spec.Method,
		}, result)
	}

	return result, nil
}

func buildRequest(spec *model.EndpointSpec) executor.Request {
	return executor.Request{
		URL:            spec.URL,
		Method:         spec.Method,
		ExpectedStatus: spec.ExpectedStatus,
		QueryParams:    spec.QueryParams,
		Headers:        spec.Headers,
		Cookies:        spec.Cookies,
		Auth:           spec.Auth,
		Body:           spec.Body,
	}
}
