// ABOUTME: Client interface and shared HTTP base adapter for generation provider backends.
// ABOUTME: Defines the uniform Request/Response contract used by every phase of the pipeline.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Tier classifies a provider backend by cost/latency/quality.
type Tier string

const (
	TierFreeLocal Tier = "free-local"
	TierLowCost   Tier = "low-cost"
	TierPremium   Tier = "premium"
)

// Request is the uniform input for a single generation call.
type Request struct {
	Phase       string  `json:"phase"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage tracks token consumption for a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined input and output token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the uniform output from a generation call.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Pricing is the per-token cost of a provider in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Cost computes the USD cost of the given usage at this pricing.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)*p.InputPerMillion/1e6 +
		float64(u.OutputTokens)*p.OutputPerMillion/1e6
}

// Client is the interface every generation backend implements. Invoke performs
// one generation call; EstimateTokens and Pricing are pure and must never
// touch the network so that cost estimation can run without side effects.
type Client interface {
	Name() string
	Tier() Tier
	Invoke(ctx context.Context, req Request) (*Response, error)
	EstimateTokens(text string) int
	Pricing() Pricing
	Close() error
}

// EstimateTokens is the shared token heuristic: roughly 4 characters per token,
// never less than one token for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// AdapterTimeout specifies timeout durations at the HTTP adapter level.
type AdapterTimeout struct {
	Connect time.Duration
	Request time.Duration
}

// DefaultAdapterTimeout returns sensible defaults for adapter timeouts.
func DefaultAdapterTimeout() AdapterTimeout {
	return AdapterTimeout{
		Connect: 10 * time.Second,
		Request: 120 * time.Second,
	}
}

// BaseAdapter provides common HTTP functionality shared across provider
// adapters that speak a JSON-over-HTTP wire protocol.
type BaseAdapter struct {
	APIKey         string
	BaseURL        string
	DefaultHeaders map[string]string
	Timeout        AdapterTimeout
	HTTPClient     *http.Client
}

// NewBaseAdapter creates a BaseAdapter with the given API key, base URL, and
// timeout config.
func NewBaseAdapter(apiKey, baseURL string, timeout AdapterTimeout) *BaseAdapter {
	return &BaseAdapter{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		DefaultHeaders: make(map[string]string),
		Timeout:        timeout,
		HTTPClient: &http.Client{
			Timeout: timeout.Request,
		},
	}
}

// DoRequest builds and executes an HTTP request against the provider's API.
// It JSON-encodes the body, applies default headers and then per-request
// overrides, and respects the context for timeout and cancellation.
func (b *BaseAdapter) DoRequest(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	url := b.BaseURL + path

	var reqBody *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	var httpReq *http.Request
	var err error
	if reqBody != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, url, reqBody)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// RetryAfterSeconds parses the retry-after header from a provider response,
// returning nil if absent or unparseable.
func RetryAfterSeconds(headers http.Header) *float64 {
	v := headers.Get("retry-after")
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return &secs
	}
	return nil
}
