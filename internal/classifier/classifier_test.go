package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopsmind/backend/internal/model"
)

type stubGateway struct {
	obj map[string]any
	ok  bool
}

func (s stubGateway) Analyse(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, bool) {
	return s.obj, s.ok
}

func TestClassify_NoSignalSkipsGate(t *testing.T) {
	c := New(nil)
	result := c.Classify(context.Background(), Signals{
		Run: model.Run{IsSuccess: true},
	})

	assert.False(t, result.AnomalyDetected)
	assert.False(t, result.AICalled)
	assert.False(t, result.UsedFallback)
}

func TestClassify_GatedWithNilGatewayUsesFallback(t *testing.T) {
	c := New(nil)
	status := 503
	result := c.Classify(context.Background(), Signals{
		Run: model.Run{IsSuccess: false, StatusCode: &status},
	})

	assert.True(t, result.UsedFallback)
	assert.False(t, result.AICalled)
	assert.True(t, result.AnomalyDetected)
}

func TestClassify_GatewayUnavailableFallsBack(t *testing.T) {
	c := New(stubGateway{ok: false})
	status := 500
	result := c.Classify(context.Background(), Signals{
		Run: model.Run{IsSuccess: false, StatusCode: &status},
	})

	assert.True(t, result.UsedFallback)
	assert.False(t, result.AICalled)
}

func TestClassify_GatewaySuccessUsesAIPath(t *testing.T) {
	c := New(stubGateway{ok: true, obj: map[string]any{
		"anomaly_detected": true,
		"severity_score":   float64(80),
		"confidence":       float64(0.9),
		"reasoning":        "degraded",
	}})
	status := 500
	result := c.Classify(context.Background(), Signals{
		Run: model.Run{IsSuccess: false, StatusCode: &status},
	})

	require.True(t, result.AnomalyDetected)
	assert.True(t, result.AICalled)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, 80.0, result.SeverityScore)
}

func TestFallback_TransportFailure(t *testing.T) {
	result := fallback(Signals{Run: model.Run{IsSuccess: false}})

	assert.True(t, result.AnomalyDetected)
	assert.Equal(t, 60.0, result.SeverityScore)
	assert.Equal(t, "check availability/DNS", result.Recommendation)
	assert.Equal(t, fallbackConfidenceDetected, result.Confidence)
}

func TestFallback_ClearRunHasHighConfidenceNoAnomaly(t *testing.T) {
	result := fallback(Signals{Run: model.Run{IsSuccess: true}, FailureRatePercent: 5})

	assert.False(t, result.AnomalyDetected)
	assert.Equal(t, fallbackConfidenceClear, result.Confidence)
	assert.Equal(t, 0.0, result.SeverityScore)
}

func TestFallback_SeverityClampedAtOneHundred(t *testing.T) {
	status := 500
	errMsg := "connection timeout"
	result := fallback(Signals{
		Run:                model.Run{IsSuccess: false, StatusCode: &status, ErrorMessage: &errMsg},
		Performance:         &model.PerformanceSnapshot{IsCriticalSpike: true},
		SchemaDrift:         &model.SchemaDriftResult{Missing: make([]model.SchemaDifference, 5)},
		FailureRatePercent: 50,
	})

	assert.Equal(t, 100.0, result.SeverityScore)
	assert.True(t, result.AnomalyDetected)
}

func TestFallback_AlwaysNonAICalled(t *testing.T) {
	result := fallback(Signals{Run: model.Run{IsSuccess: true}})

	assert.False(t, result.AICalled)
	assert.True(t, result.UsedFallback)
}

func TestDriftSummary_CapsListAtFive(t *testing.T) {
	diffs := make([]model.SchemaDifference, 8)
	for i := range diffs {
		diffs[i] = model.SchemaDifference{Kind: model.DiffMissingField, Path: "field"}
	}
	summary := driftSummary(&model.SchemaDriftResult{Missing: diffs})

	assert.Contains(t, summary, "8 difference(s)")
	assert.Contains(t, summary, "missing: [field, field, field, field, field];")
}
