// Package model contains the core domain entities for the monitoring pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// HTTPMethod enumerates the methods an EndpointSpec may probe with.
type HTTPMethod string

const (
	MethodGET     HTTPMethod = "GET"
	MethodPOST    HTTPMethod = "POST"
	MethodPUT     HTTPMethod = "PUT"
	MethodPATCH   HTTPMethod = "PATCH"
	MethodDELETE  HTTPMethod = "DELETE"
	MethodHEAD    HTTPMethod = "HEAD"
	MethodOPTIONS HTTPMethod = "OPTIONS"
)

// AuthType enumerates the supported authentication strategies for a request.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api-key"
)

// BodyType enumerates the supported request body encodings.
type BodyType string

const (
	BodyNone       BodyType = "none"
	BodyJSON       BodyType = "json"
	BodyURLEncoded BodyType = "urlencoded"
	BodyFormData   BodyType = "form-data"
)

// RiskLevel buckets a composite risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of a RiskLevel for threshold comparisons.
func (l RiskLevel) Rank() int {
	return riskRank[l]
}

// ParseRiskLevel validates a configured risk level string.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	l := RiskLevel(s)
	_, ok := riskRank[l]
	return l, ok
}

// KeyValue is an ordered, individually toggleable header/param/cookie entry.
type KeyValue struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// AuthConfig describes how the executor should authenticate a request.
type AuthConfig struct {
	Type     AuthType `json:"type"`
	Token    string   `json:"token,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Header   string   `json:"header,omitempty"`
	Key      string   `json:"key,omitempty"`
}

// BodyConfig describes the request body to synthesize.
type BodyConfig struct {
	Type   BodyType       `json:"type"`
	JSON   map[string]any `json:"json,omitempty"`
	Fields []KeyValue     `json:"fields,omitempty"`
}

// EndpointSpec is the monitored contract for one remote HTTP target.
type EndpointSpec struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	TenantID       uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	Name           string         `json:"name" db:"name"`
	URL            string         `json:"url" db:"url"`
	Method         HTTPMethod     `json:"method" db:"method"`
	ExpectedStatus int            `json:"expected_status" db:"expected_status"`
	ExpectedSchema map[string]any `json:"expected_schema,omitempty" db:"expected_schema"`
	QueryParams    []KeyValue     `json:"query_params,omitempty" db:"query_params"`
	Headers        []KeyValue     `json:"headers,omitempty" db:"headers"`
	Cookies        []KeyValue     `json:"cookies,omitempty" db:"cookies"`
	Auth           AuthConfig     `json:"auth" db:"auth"`
	Body           BodyConfig     `json:"body" db:"body"`
	IntervalSecs   int            `json:"interval_seconds" db:"interval_seconds"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Run is the immutable record of one endpoint execution.
type Run struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	EndpointID       uuid.UUID      `json:"endpoint_id" db:"endpoint_id"`
	TenantID         uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	StatusCode       *int           `json:"status_code" db:"status_code"`
	ResponseTimeMs   *float64       `json:"response_time_ms" db:"response_time_ms"`
	ResponseBodyJSON map[string]any `json:"response_body_json,omitempty" db:"response_body_json"`
	IsSuccess        bool           `json:"is_success" db:"is_success"`
	ErrorMessage     *string        `json:"error_message" db:"error_message"`
}

// PerformanceSnapshot is a transient, per-run rolling-statistics result.
type PerformanceSnapshot struct {
	CurrentMs        float64 `json:"current_ms"`
	RollingAvgMs     float64 `json:"rolling_avg_ms"`
	RollingMedianMs  float64 `json:"rolling_median_ms"`
	RollingStddevMs  float64 `json:"rolling_stddev_ms"`
	DeviationPercent float64 `json:"deviation_percent"`
	IsSpike          bool    `json:"is_spike"`
	IsCriticalSpike  bool    `json:"is_critical_spike"`
	SampleSize       int     `json:"sample_size"`
}

// HasEnoughData reports whether the sample is large enough to raise spike flags.
func (p PerformanceSnapshot) HasEnoughData() bool {
	return p.SampleSize >= 3
}

// DiffKind categorizes one SchemaDifference.
type DiffKind string

const (
	DiffMissingField DiffKind = "missing_field"
	DiffNewField     DiffKind = "new_field"
	DiffTypeMismatch DiffKind = "type_mismatch"
)

// SchemaDifference is a single structural disagreement between two JSON trees.
type SchemaDifference struct {
	Kind         DiffKind `json:"kind"`
	Path         string   `json:"path"`
	ExpectedType string   `json:"expected_type,omitempty"`
	ActualType   string   `json:"actual_type,omitempty"`
}

// SchemaDriftResult is the transient outcome of a structural comparison.
type SchemaDriftResult struct {
	Missing     []SchemaDifference `json:"missing"`
	Added       []SchemaDifference `json:"added"`
	TypeChanges []SchemaDifference `json:"type_changes"`
}

// TotalDifferences sums every category of disagreement.
func (r SchemaDriftResult) TotalDifferences() int {
	return len(r.Missing) + len(r.Added) + len(r.TypeChanges)
}

// HasDrift reports whether any disagreement was found.
func (r SchemaDriftResult) HasDrift() bool {
	return r.TotalDifferences() > 0
}

// AnomalyResult is the classifier's verdict for one run.
type AnomalyResult struct {
	AnomalyDetected bool    `json:"anomaly_detected"`
	SeverityScore   float64 `json:"severity_score"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	ProbableCause   string  `json:"probable_cause"`
	Recommendation  string  `json:"recommendation"`
	AICalled        bool    `json:"ai_called"`
	UsedFallback    bool    `json:"used_fallback"`
	SkippedReason   string  `json:"skipped_reason,omitempty"`
}

// Anomaly is the persisted row owned by a Run, written only when detected.
type Anomaly struct {
	ID             uuid.UUID `json:"id" db:"id"`
	RunID          uuid.UUID `json:"run_id" db:"run_id"`
	EndpointID     uuid.UUID `json:"endpoint_id" db:"endpoint_id"`
	TenantID       uuid.UUID `json:"tenant_id" db:"tenant_id"`
	SeverityScore  float64   `json:"severity_score" db:"severity_score"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	Reasoning      string    `json:"reasoning" db:"reasoning"`
	ProbableCause  string    `json:"probable_cause" db:"probable_cause"`
	Recommendation string    `json:"recommendation" db:"recommendation"`
	AICalled       bool      `json:"ai_called" db:"ai_called"`
	UsedFallback   bool      `json:"used_fallback" db:"used_fallback"`
	DetectedAt     time.Time `json:"detected_at" db:"detected_at"`
}

// RiskScore is always persisted alongside its Run.
type RiskScore struct {
	ID               uuid.UUID `json:"id" db:"id"`
	RunID            uuid.UUID `json:"run_id" db:"run_id"`
	CalculatedScore  float64   `json:"calculated_score" db:"calculated_score"`
	RiskLevel        RiskLevel `json:"risk_level" db:"risk_level"`
	StatusScore      float64   `json:"status_score" db:"status_score"`
	PerformanceScore float64   `json:"performance_score" db:"performance_score"`
	DriftScore       float64   `json:"drift_score" db:"drift_score"`
	AIScore          float64   `json:"ai_score" db:"ai_score"`
	HistoryScore     float64   `json:"history_score" db:"history_score"`
}

// PipelineResult is the immutable outcome the Orchestrator hands to callers.
type PipelineResult struct {
	Run            Run
	Performance    *PerformanceSnapshot
	SchemaDrift    *SchemaDriftResult
	Anomaly        *AnomalyResult
	Risk           RiskScore
	EndpointName   string
	EndpointURL    string
	EndpointMethod HTTPMethod
}
