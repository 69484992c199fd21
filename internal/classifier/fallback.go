package classifier

import (
	"strings"

	"github.com/finopsmind/backend/internal/model"
)

const (
	fallbackConfidenceDetected = 0.6
	fallbackConfidenceClear    = 0.8
	anomalyThreshold           = 20.0
)

// fallback computes a deterministic, additive severity score from s when
// the LLM gateway is unavailable or returns nothing usable.
func fallback(s Signals) model.AnomalyResult {
	var severity float64
	var reasons []string
	var recommendation string

	errMsg := ""
	if s.Run.ErrorMessage != nil {
		errMsg = *s.Run.ErrorMessage
	}
	lowerErr := strings.ToLower(errMsg)

	if s.Run.StatusCode == nil {
		if !s.Run.IsSuccess {
			severity += 60
			reasons = append(reasons, "request failed without response")
			recommendation = "check availability/DNS"
		}
	} else if *s.Run.StatusCode >= 500 {
		severity += 50
		reasons = append(reasons, "server returned an error status")
		recommendation = "server logs"
	} else if *s.Run.StatusCode >= 400 && !s.Run.IsSuccess {
		severity += 25
		reasons = append(reasons, "client/config error status")
		recommendation = "verify config/creds"
	}

	if strings.Contains(lowerErr, "timeout") {
		severity += 20
		reasons = append(reasons, "error mentions timeout")
	}
	if strings.Contains(lowerErr, "connection") {
		severity += 30
		reasons = append(reasons, "error mentions connection failure")
	}

	if s.Performance != nil {
		if s.Performance.IsCriticalSpike {
			severity += 35
			reasons = append(reasons, "critical response-time spike")
			recommendation = "profile/resources"
		} else if s.Performance.IsSpike {
			severity += 20
			reasons = append(reasons, "response-time spike")
		}
	}

	if s.SchemaDrift != nil {
		n := s.SchemaDrift.TotalDifferences()
		if n >= 5 {
			severity += 25
			reasons = append(reasons, "significant schema drift")
			recommendation = "review API changelog"
		} else if n >= 1 {
			severity += 10
			reasons = append(reasons, "minor schema drift")
		}
	}

	if s.FailureRatePercent >= 30 {
		severity += 15
		reasons = append(reasons, "elevated rolling failure rate")
		recommendation = "investigate recurring failures"
	}

	severity = clamp(severity, 0, 100)
	detected := severity >= anomalyThreshold

	confidence := fallbackConfidenceClear
	if detected {
		confidence = fallbackConfidenceDetected
	}

	return model.AnomalyResult{
		AnomalyDetected: detected,
		SeverityScore:   severity,
		Confidence:      confidence,
		Reasoning:       strings.Join(reasons, "; "),
		Recommendation:  recommendation,
		AICalled:        false,
		UsedFallback:    true,
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
