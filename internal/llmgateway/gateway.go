// Package llmgateway wraps a JSON-mode chat-completion HTTP API with bounded
// retries, a circuit breaker, and thread-safe call metrics.
package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/finopsmind/backend/internal/metrics"
)

const (
	maxRetries  = 3
	temperature = 0.2
)

var backoffSchedule = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

var retryableStatus = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	529:                           true, // overloaded
	http.StatusTooManyRequests:    true,
}

// Config configures the gateway's target model and transport.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Stats is a point-in-time snapshot of gateway call metrics.
type Stats struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	RetriedCalls    int64
	TokensConsumed  int64
	AvgLatencyMs    float64
	LastError       string
}

// Gateway is a process-wide singleton; Start before scheduling any job,
// Stop after the scheduler has drained.
type Gateway struct {
	cfg    Config
	client *http.Client
	cb     *circuitBreaker

	mu           sync.Mutex
	totalCalls   int64
	successCalls int64
	failedCalls  int64
	retriedCalls int64
	tokens       int64
	latencySumMs float64
	lastError    string
}

// New constructs a Gateway without starting its transport.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg,
		cb:  newCircuitBreaker(5, 30*time.Second),
	}
}

// Available reports whether the gateway has credentials configured.
func (g *Gateway) Available() bool {
	return g.cfg.APIKey != ""
}

// Start initializes the pooled transport. Idempotent.
func (g *Gateway) Start() {
	if g.client != nil {
		return
	}
	g.client = &http.Client{Timeout: g.cfg.Timeout}
}

// Stop releases idle connections.
func (g *Gateway) Stop() {
	if g.client == nil {
		return
	}
	g.client.CloseIdleConnections()
	g.client = nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Analyse sends a system/user prompt pair and returns the decoded JSON
// object response, or (nil, false) if the gateway is unavailable, the
// circuit is open, every retry is exhausted, or the response is not a JSON
// object. Never panics.
func (g *Gateway) Analyse(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, bool) {
	if !g.Available() || g.client == nil {
		return nil, false
	}
	if !g.cb.allow() {
		g.recordFailure("circuit breaker open")
		return nil, false
	}

	reqBody := chatRequest{
		Model:       g.cfg.Model,
		Temperature: temperature,
		ResponseFormat: map[string]any{
			"type": "json_object",
		},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			g.recordRetry()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				g.cb.recordFailure()
				g.recordFailure(errString(lastErr))
				return nil, false
			case <-time.After(backoffSchedule[attempt-1]):
			}
		}

		parsed, retryable, err := g.doCall(ctx, reqBody)
		if err == nil {
			g.cb.recordSuccess()
			g.recordSuccess(start, parsed.Usage.TotalTokens)
			content := parsed.Choices
			if len(content) == 0 || content[0].Message.Content == "" {
				return nil, false
			}
			var obj map[string]any
			if err := json.Unmarshal([]byte(content[0].Message.Content), &obj); err != nil || obj == nil {
				return nil, false
			}
			return obj, true
		}

		lastErr = err
		if !retryable {
			break
		}
	}

	g.cb.recordFailure()
	g.recordFailure(errString(lastErr))
	return nil, false
}

func (g *Gateway) doCall(ctx context.Context, body chatRequest) (chatResponse, bool, error) {
	raw, _ := json.Marshal(body)

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return chatResponse{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return chatResponse{}, true, err // network/timeout error: retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return chatResponse{}, retryableStatus[resp.StatusCode], fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatResponse{}, false, err
	}
	return parsed, false, nil
}

func (g *Gateway) recordSuccess(start time.Time, tokens int) {
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)

	g.mu.Lock()
	g.totalCalls++
	g.successCalls++
	g.tokens += int64(tokens)
	g.latencySumMs += elapsedMs
	g.mu.Unlock()

	metrics.ObserveGatewayCall("success", elapsedMs/1000, tokens)
}

func (g *Gateway) recordFailure(reason string) {
	g.mu.Lock()
	g.totalCalls++
	g.failedCalls++
	g.lastError = reason
	g.mu.Unlock()

	metrics.ObserveGatewayCall("failure", 0, 0)
}

func (g *Gateway) recordRetry() {
	g.mu.Lock()
	g.retriedCalls++
	g.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the gateway's call metrics.
func (g *Gateway) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	avg := 0.0
	if g.successCalls > 0 {
		avg = g.latencySumMs / float64(g.successCalls)
	}

	return Stats{
		TotalCalls:      g.totalCalls,
		SuccessfulCalls: g.successCalls,
		FailedCalls:     g.failedCalls,
		RetriedCalls:    g.retriedCalls,
		TokensConsumed:  g.tokens,
		AvgLatencyMs:    avg,
		LastError:       g.lastError,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
