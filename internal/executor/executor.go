// Package executor provides a process-wide, pooled HTTP client that
// performs a single monitored attempt against an EndpointSpec's target,
// retrying transport failures with linear backoff.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finopsmind/backend/internal/metrics"
	"github.com/finopsmind/backend/internal/model"
)

const maxResponseBodyBytes = 512 * 1024

// Config tunes the pooled transport and retry behavior.
type Config struct {
	MaxConnections     int
	MaxKeepAliveConns   int
	KeepAliveIdleTimeout time.Duration
	DefaultTimeout      time.Duration
	MaxAttempts         int
	BackoffBase         time.Duration
}

// DefaultConfig mirrors the reference runner's pool sizing.
func DefaultConfig() Config {
	return Config{
		MaxConnections:       100,
		MaxKeepAliveConns:    20,
		KeepAliveIdleTimeout: 30 * time.Second,
		DefaultTimeout:       30 * time.Second,
		MaxAttempts:          3,
		BackoffBase:          time.Second,
	}
}

// Executor is a process-wide singleton; Start before scheduling any job,
// Stop after the scheduler has drained.
type Executor struct {
	cfg    Config
	client *http.Client
}

// New constructs an Executor without starting its transport.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Start initializes the pooled transport. Idempotent.
func (e *Executor) Start() {
	if e.client != nil {
		return
	}
	e.client = &http.Client{
		Timeout: e.cfg.DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        e.cfg.MaxConnections,
			MaxIdleConnsPerHost: e.cfg.MaxKeepAliveConns,
			IdleConnTimeout:     e.cfg.KeepAliveIdleTimeout,
		},
	}
}

// Stop releases idle connections.
func (e *Executor) Stop() {
	if e.client == nil {
		return
	}
	e.client.CloseIdleConnections()
	e.client = nil
}

// Request is the effective, fully-resolved HTTP request to attempt.
type Request struct {
	URL            string
	Method         model.HTTPMethod
	ExpectedStatus int
	QueryParams    []model.KeyValue
	Headers        []model.KeyValue
	Cookies        []model.KeyValue
	Auth           model.AuthConfig
	Body           model.BodyConfig
}

// Execute performs the request, retrying transport failures up to
// MaxAttempts times with linear backoff. It never panics; the returned Run
// always carries either a status code or an error message.
func (e *Executor) Execute(ctx context.Context, req Request) model.Run {
	run := model.Run{}

	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, elapsedMs, bodyJSON, err := e.attempt(ctx, req)
		if err == nil {
			run.StatusCode = &statusCode
			run.ResponseTimeMs = &elapsedMs
			run.ResponseBodyJSON = bodyJSON
			run.IsSuccess = statusCode == req.ExpectedStatus
			metrics.ObserveHTTPExecutorAttempt(string(req.Method), "response", elapsedMs/1000)
			return run
		}

		lastErr = err
		metrics.ObserveHTTPExecutorAttempt(string(req.Method), "transport_error", elapsedMs/1000)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxAttempts
			case <-time.After(e.cfg.BackoffBase * time.Duration(attempt)):
			}
		}
	}

	msg := lastErr.Error()
	run.ErrorMessage = &msg
	run.IsSuccess = false
	return run
}

// attempt performs exactly one HTTP round trip. A non-nil error means the
// attempt is retryable (no status code was observed); any HTTP response,
// including 5xx, is returned with a nil error.
func (e *Executor) attempt(ctx context.Context, req Request) (statusCode int, elapsedMs float64, bodyJSON map[string]any, err error) {
	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return 0, 0, nil, err
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start)
	elapsedMs = roundToHundredth(float64(elapsed) / float64(time.Millisecond))

	if err != nil {
		return 0, elapsedMs, nil, err
	}
	defer resp.Body.Close()

	bodyJSON = safeParseJSON(resp)
	return resp.StatusCode, elapsedMs, bodyJSON, nil
}

func buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	q := target.Query()
	for _, kv := range req.QueryParams {
		if kv.Enabled {
			q.Set(kv.Key, kv.Value)
		}
	}
	target.RawQuery = q.Encode()

	var bodyReader io.Reader
	contentType := ""
	switch req.Body.Type {
	case model.BodyJSON:
		raw, _ := json.Marshal(req.Body.JSON)
		bodyReader = bytes.NewReader(raw)
		contentType = "application/json"
	case model.BodyURLEncoded:
		form := url.Values{}
		for _, kv := range req.Body.Fields {
			if kv.Enabled {
				form.Set(kv.Key, kv.Value)
			}
		}
		bodyReader = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case model.BodyFormData:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, kv := range req.Body.Fields {
			if kv.Enabled {
				mw.WriteField(kv.Key, kv.Value)
			}
		}
		mw.Close()
		bodyReader = &buf
		contentType = mw.FormDataContentType()
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	for _, kv := range req.Headers {
		if kv.Enabled {
			httpReq.Header.Set(kv.Key, kv.Value)
		}
	}

	var cookies []string
	for _, kv := range req.Cookies {
		if kv.Enabled {
			cookies = append(cookies, kv.Key+"="+kv.Value)
		}
	}
	if len(cookies) > 0 {
		httpReq.Header.Set("Cookie", strings.Join(cookies, "; "))
	}

	applyAuth(httpReq, req.Auth)

	return httpReq, nil
}

func applyAuth(httpReq *http.Request, auth model.AuthConfig) {
	switch auth.Type {
	case model.AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+auth.Token)
	case model.AuthBasic:
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	case model.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		httpReq.Header.Set(header, auth.Key)
	}
}

// safeParseJSON decodes the response body only when Content-Type contains
// "json" and the body does not exceed maxResponseBodyBytes. Non-object
// decoded values are wrapped as {"_value": ...}; any failure yields nil.
func safeParseJSON(resp *http.Response) map[string]any {
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return nil
	}

	limited := io.LimitReader(resp.Body, maxResponseBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil || len(raw) > maxResponseBodyBytes {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	if obj, ok := decoded.(map[string]any); ok {
		return obj
	}
	return map[string]any{"_value": decoded}
}

func roundToHundredth(ms float64) float64 {
	return float64(int(ms*100+0.5)) / 100
}
