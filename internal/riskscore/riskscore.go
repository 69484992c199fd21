// Package riskscore computes a weighted composite risk score from the
// outputs of the other pipeline components. Pure and deterministic.
package riskscore

import (
	"math"

	"github.com/finopsmind/backend/internal/model"
)

const (
	statusWeight      = 35.0
	performanceWeight = 25.0
	driftWeight       = 20.0
	aiWeight          = 15.0
	historyWeight     = 5.0
)

// Inputs bundles everything the score needs.
type Inputs struct {
	Run                model.Run
	Performance        *model.PerformanceSnapshot
	SchemaDrift        *model.SchemaDriftResult
	Anomaly            model.AnomalyResult
	FailureRatePercent float64
}

// Compute returns the weighted composite score and its bucketed level. It
// never panics.
func Compute(in Inputs) model.RiskScore {
	status := statusScore(in.Run)
	performance := performanceScore(in.Performance)
	drift := driftScore(in.SchemaDrift)
	ai := aiScore(in.Anomaly)
	history := historyScore(in.FailureRatePercent)

	total := clamp(status+performance+drift+ai+history, 0, 100)
	total = roundToTenth(total)

	return model.RiskScore{
		CalculatedScore:  total,
		RiskLevel:        bucket(total),
		StatusScore:      status,
		PerformanceScore: performance,
		DriftScore:       drift,
		AIScore:          ai,
		HistoryScore:     history,
	}
}

func statusScore(run model.Run) float64 {
	if run.IsSuccess {
		return 0
	}
	return statusWeight
}

func performanceScore(p *model.PerformanceSnapshot) float64 {
	if p == nil || p.DeviationPercent <= 0 {
		return 0
	}
	if p.IsCriticalSpike {
		return performanceWeight
	}
	ratio := math.Min(math.Abs(p.DeviationPercent)/300.0, 1.0)
	return ratio * performanceWeight
}

func driftScore(d *model.SchemaDriftResult) float64 {
	if d == nil || !d.HasDrift() {
		return 0
	}
	ratio := math.Min(float64(d.TotalDifferences())/10.0, 1.0)
	return ratio * driftWeight
}

func aiScore(a model.AnomalyResult) float64 {
	if !a.AnomalyDetected || !(a.AICalled || a.UsedFallback) {
		return 0
	}
	return (a.SeverityScore / 100.0) * aiWeight
}

func historyScore(failureRatePercent float64) float64 {
	if failureRatePercent <= 0 {
		return 0
	}
	ratio := math.Min(failureRatePercent/50.0, 1.0)
	return ratio * historyWeight
}

func bucket(score float64) model.RiskLevel {
	switch {
	case score < 25:
		return model.RiskLow
	case score < 50:
		return model.RiskMedium
	case score < 75:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func roundToTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
