// Package webhook dispatches a single POST carrying the pipeline result for
// any run whose risk level meets a configured minimum.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/finopsmind/backend/internal/model"
)

// Config tunes the dispatcher's pooled transport and target.
type Config struct {
	URL            string
	MinRiskLevel   model.RiskLevel
	MaxConnections int
	MaxKeepAlive   int
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the reference dispatcher's dedicated pool sizing.
func DefaultConfig() Config {
	return Config{
		MinRiskLevel:   model.RiskMedium,
		MaxConnections: 10,
		MaxKeepAlive:   5,
		IdleTimeout:    30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Dispatcher is a process-wide singleton; Start before scheduling any job,
// Stop after the scheduler has drained.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New constructs a Dispatcher without starting its transport.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, logger: logger}
}

// Start initializes the pooled transport. Idempotent.
func (d *Dispatcher) Start() {
	if d.client != nil {
		return
	}
	d.client = &http.Client{
		Timeout: d.cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        d.cfg.MaxConnections,
			MaxIdleConnsPerHost: d.cfg.MaxKeepAlive,
			IdleConnTimeout:     d.cfg.IdleTimeout,
		},
	}
}

// Stop releases idle connections.
func (d *Dispatcher) Stop() {
	if d.client == nil {
		return
	}
	d.client.CloseIdleConnections()
	d.client = nil
}

// Endpoint is the identity subset the payload needs.
type Endpoint struct {
	ID     string
	Name   string
	URL    string
	Method model.HTTPMethod
}

// Dispatch evaluates the threshold gate and, if met, sends one POST. It
// never returns an error the caller must act on; failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, ep Endpoint, result model.PipelineResult) {
	if d.cfg.URL == "" {
		return
	}
	if result.Risk.RiskLevel.Rank() < d.cfg.MinRiskLevel.Rank() {
		d.logger.Debug("webhook skipped: below risk threshold",
			"endpoint_id", ep.ID, "risk_level", result.Risk.RiskLevel, "min_risk_level", d.cfg.MinRiskLevel)
		return
	}

	payload := buildPayload(ep, result)
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("webhook payload marshal failed", "endpoint_id", ep.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("webhook request build failed", "endpoint_id", ep.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("webhook delivery failed", "endpoint_id", ep.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Error("webhook delivery rejected", "endpoint_id", ep.ID, "status", resp.StatusCode)
		return
	}

	d.logger.Info("webhook delivered", "endpoint_id", ep.ID, "risk_level", result.Risk.RiskLevel)
}

func buildPayload(ep Endpoint, result model.PipelineResult) map[string]any {
	run := result.Run

	payload := map[string]any{
		"event":     "sentinel_alert",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"endpoint": map[string]any{
			"id":     ep.ID,
			"name":   ep.Name,
			"url":    ep.URL,
			"method": ep.Method,
		},
		"run": map[string]any{
			"id":               run.ID,
			"started_at":       run.StartedAt.UTC().Format(time.RFC3339),
			"status_code":      run.StatusCode,
			"response_time_ms": run.ResponseTimeMs,
			"is_success":       run.IsSuccess,
			"error_message":    run.ErrorMessage,
		},
		"risk": map[string]any{
			"score": result.Risk.CalculatedScore,
			"level": result.Risk.RiskLevel,
			"breakdown": map[string]any{
				"status":      result.Risk.StatusScore,
				"performance": result.Risk.PerformanceScore,
				"drift":       result.Risk.DriftScore,
				"ai":          result.Risk.AIScore,
				"history":     result.Risk.HistoryScore,
			},
		},
	}

	if result.Anomaly != nil && result.Anomaly.AnomalyDetected && (result.Anomaly.AICalled || result.Anomaly.UsedFallback) {
		payload["anomaly"] = map[string]any{
			"severity_score": result.Anomaly.SeverityScore,
			"reasoning":      result.Anomaly.Reasoning,
			"probable_cause": result.Anomaly.ProbableCause,
		}
	}

	if result.Performance != nil && result.Performance.IsSpike {
		payload["performance"] = map[string]any{
			"current_ms":        result.Performance.CurrentMs,
			"rolling_avg_ms":    result.Performance.RollingAvgMs,
			"deviation_percent": result.Performance.DeviationPercent,
			"is_critical_spike": result.Performance.IsCriticalSpike,
		}
	}

	if result.SchemaDrift != nil && result.SchemaDrift.HasDrift() {
		payload["schema_drift"] = map[string]any{
			"total_differences": result.SchemaDrift.TotalDifferences(),
		}
	}

	return payload
}
