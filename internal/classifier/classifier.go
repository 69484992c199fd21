// Package classifier decides whether a run is anomalous, calling an LLM
// gateway when warranted and falling back to a deterministic rule-based
// score when the gateway is unavailable or fails.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/finopsmind/backend/internal/model"
)

// Gateway is the capability this classifier needs from the LLM gateway.
type Gateway interface {
	Analyse(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, bool)
}

// Signals is everything the classifier needs to judge one run.
type Signals struct {
	EndpointName       string
	Method             model.HTTPMethod
	URL                string
	ExpectedStatus     int
	Run                model.Run
	Performance        *model.PerformanceSnapshot
	SchemaDrift        *model.SchemaDriftResult
	FailureRatePercent float64
}

const systemPrompt = `You are an API health analyst. Given run telemetry, respond with a JSON object only: {"anomaly_detected": bool, "severity_score": number 0-100, "reasoning": string, "probable_cause": string, "confidence": number 0.0-1.0, "recommendation": string}.`

// Classifier is stateless; it is safe for concurrent use.
type Classifier struct {
	gateway Gateway
}

// New constructs a Classifier. gateway may be nil, in which case every
// gated run uses the fallback path.
func New(gateway Gateway) *Classifier {
	return &Classifier{gateway: gateway}
}

// Classify decides whether s describes an anomaly. It never panics.
func (c *Classifier) Classify(ctx context.Context, s Signals) model.AnomalyResult {
	if !hasSignal(s) {
		return model.AnomalyResult{
			AnomalyDetected: false,
			Confidence:      1.0,
			AICalled:        false,
			UsedFallback:    false,
		}
	}

	if c.gateway != nil {
		if result, ok := c.callGateway(ctx, s); ok {
			return result
		}
	}

	return fallback(s)
}

func hasSignal(s Signals) bool {
	if !s.Run.IsSuccess {
		return true
	}
	if s.Run.ErrorMessage != nil && *s.Run.ErrorMessage != "" {
		return true
	}
	if s.Performance != nil && s.Performance.IsSpike {
		return true
	}
	if s.SchemaDrift != nil && s.SchemaDrift.HasDrift() {
		return true
	}
	return false
}

func (c *Classifier) callGateway(ctx context.Context, s Signals) (model.AnomalyResult, bool) {
	prompt := buildUserPrompt(s)
	obj, ok := c.gateway.Analyse(ctx, systemPrompt, prompt)
	if !ok {
		return model.AnomalyResult{}, false
	}

	return model.AnomalyResult{
		AnomalyDetected: asBool(obj["anomaly_detected"]),
		SeverityScore:   clampedFloat(obj["severity_score"], 0, 100, 50.0),
		Confidence:      clampedFloat(obj["confidence"], 0, 1, 0.5),
		Reasoning:       asString(obj["reasoning"]),
		ProbableCause:   asString(obj["probable_cause"]),
		Recommendation:  asString(obj["recommendation"]),
		AICalled:        true,
		UsedFallback:    false,
	}, true
}

func buildUserPrompt(s Signals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Endpoint: %s\n", s.EndpointName)
	fmt.Fprintf(&b, "Method/URL: %s %s\n", s.Method, s.URL)
	fmt.Fprintf(&b, "Expected status: %d\n", s.ExpectedStatus)
	if s.Run.StatusCode != nil {
		fmt.Fprintf(&b, "Actual status: %d\n", *s.Run.StatusCode)
	} else {
		b.WriteString("Actual status: none (transport failure)\n")
	}
	if s.Performance != nil {
		fmt.Fprintf(&b, "Current response time: %.2fms, rolling average: %.2fms, deviation: %.1f%%\n",
			s.Performance.CurrentMs, s.Performance.RollingAvgMs, s.Performance.DeviationPercent)
	}
	fmt.Fprintf(&b, "Failure rate: %.2f%%\n", s.FailureRatePercent)
	b.WriteString("Schema drift: ")
	b.WriteString(driftSummary(s.SchemaDrift))
	b.WriteString("\n")
	return b.String()
}

// driftSummary renders a compact "N difference(s); missing: [...]; new:
// [...]; type changes: [...]" line, capping each list at 5 paths.
func driftSummary(drift *model.SchemaDriftResult) string {
	if drift == nil || !drift.HasDrift() {
		return "none"
	}

	missing := pathList(drift.Missing)
	added := pathList(drift.Added)
	changed := typeChangeList(drift.TypeChanges)

	return fmt.Sprintf("%d difference(s); missing: %s; new: %s; type changes: %s",
		drift.TotalDifferences(), bracket(missing), bracket(added), bracket(changed))
}

func pathList(diffs []model.SchemaDifference) []string {
	paths := make([]string, 0, len(diffs))
	for _, d := range diffs {
		paths = append(paths, d.Path)
	}
	sort.Strings(paths)
	if len(paths) > 5 {
		paths = paths[:5]
	}
	return paths
}

func typeChangeList(diffs []model.SchemaDifference) []string {
	out := make([]string, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, fmt.Sprintf("%s (%s→%s)", d.Path, d.ExpectedType, d.ActualType))
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func bracket(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func clampedFloat(v any, min, max, fallback float64) float64 {
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
